package httpserver

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rzbill/tether/internal/relay"
	"github.com/rzbill/tether/internal/runtime"
	"github.com/rzbill/tether/internal/server/http/controllers"
	"github.com/rzbill/tether/internal/tenant"
	"github.com/rzbill/tether/pkg/log"
)

type Server struct {
	rt     *runtime.Runtime
	srv    *http.Server
	lis    net.Listener
	logger log.Logger

	// OnListen, when set, receives the bound address before serving starts.
	OnListen func(addr string)
}

func New(rt *runtime.Runtime, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	logger = logger.WithComponent("http")
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors(rt.Config().TenantHeader))
	r.Handle("/metrics", rt.Metrics().Handler())
	controllers.NewControllerRegistry(rt, logger).RegisterAllRoutes(r)
	return &Server{
		rt:     rt,
		logger: logger,
		srv:    &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second},
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Addr returns the bound address once listening.
func (s *Server) Addr() string {
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("http listening", log.Str("addr", l.Addr().String()))
	if s.OnListen != nil {
		s.OnListen(l.Addr().String())
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(tenantHeader string) func(http.Handler) http.Handler {
	if tenantHeader == "" {
		tenantHeader = tenant.DefaultHeader
	}
	allow := strings.Join([]string{"Content-Type", "Authorization", tenantHeader}, ", ")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Headers", allow)
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Expose-Headers", relay.HeaderQueued+", "+relay.HeaderCache)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
