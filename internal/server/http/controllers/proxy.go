package controllers

import (
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rzbill/tether/internal/errs"
	"github.com/rzbill/tether/internal/runtime"
	"github.com/rzbill/tether/pkg/log"
)

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ProxyController forwards application traffic to the upstream through the
// interceptor, so offline writes queue and reads fall back to the cache.
type ProxyController struct {
	rt     *runtime.Runtime
	logger log.Logger
}

// NewProxyController creates a new proxy controller.
func NewProxyController(rt *runtime.Runtime, logger log.Logger) *ProxyController {
	return &ProxyController{rt: rt, logger: logger.WithComponent("proxy")}
}

// RegisterRoutes mounts the catch-all.
func (c *ProxyController) RegisterRoutes(r chi.Router) {
	r.Handle("/*", http.HandlerFunc(c.handleProxy))
}

func (c *ProxyController) handleProxy(w http.ResponseWriter, r *http.Request) {
	out, err := c.outbound(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request target")
		return
	}
	resp, err := c.rt.Interceptor().Do(out)
	if err != nil {
		c.writeFailure(w, r, err)
		return
	}
	defer resp.Body.Close()

	h := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	stripHop(h)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		c.logger.Debug("copy upstream body", log.Str("path", r.URL.Path), log.Err(err))
	}
}

// outbound rewrites an inbound request onto the upstream origin.
func (c *ProxyController) outbound(r *http.Request) (*http.Request, error) {
	up := c.rt.Upstream()
	target := &url.URL{
		Scheme:   up.Scheme,
		Host:     up.Host,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
	if base := strings.TrimRight(up.Path, "/"); base != "" {
		target.Path = base + r.URL.Path
		target.RawPath = ""
	}
	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		return nil, err
	}
	out.Header = r.Header.Clone()
	stripHop(out.Header)
	out.ContentLength = r.ContentLength
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		out.Header.Add("X-Forwarded-For", host)
	}
	return out, nil
}

// writeFailure answers for requests that produced no upstream response.
func (c *ProxyController) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	switch {
	case errs.Is(err, errs.ErrStorage):
		// the write was neither delivered nor queued
		writeJSONStatus(w, status, map[string]any{"queued": false, "error": "storage"})
	case errs.Is(err, errs.ErrNetworkUnavailable):
		writeJSONStatus(w, status, map[string]any{"queued": false, "offline": true, "error": "unavailable"})
	default:
		c.logger.Warn("upstream failed", log.Str("method", r.Method), log.Str("path", r.URL.Path), log.Err(err))
		writeJSONStatus(w, http.StatusBadGateway, map[string]any{"queued": false, "error": "upstream"})
	}
}

func stripHop(h http.Header) {
	for _, k := range hopHeaders {
		h.Del(k)
	}
}
