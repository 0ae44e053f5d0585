// Package runtime wires storage, connectivity and the relay components into
// a single tether instance. It exposes Open/Close, a health check and Run,
// which supervises the background loops.
//
// Example:
//
//	cfg := config.Default()
//	cfg.Upstream = "https://api.example.com"
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
//	go rt.Run(ctx)
//	client := &http.Client{Transport: rt.Interceptor()}
package runtime
