package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPRequestsTotal tracks requests served by the metrics/admin server.
var HTTPRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "frameparser_autoscaler_http_requests_total",
		Help: "Total HTTP requests served",
	},
	[]string{"method", "code"},
)

// Server serves /metrics and any routes mounted by the caller on a chi router.
type Server struct {
	server  *http.Server
	router  chi.Router
	errChan chan error
}

// NewServer creates a server on the specified address.
// Each routes function registers extra handlers on the router.
// Example address: ":9090" or "localhost:9090"
func NewServer(addr string, routes ...func(r chi.Router)) *Server {
	r := chi.NewRouter()
	r.Use(RequestMiddleware)
	r.Handle("/metrics", promhttp.Handler())
	for _, register := range routes {
		register(r)
	}

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: r,
		},
		router:  r,
		errChan: make(chan error, 1),
	}
}

// Handler returns the router, for tests and for embedding in another server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the server in a goroutine.
// Returns immediately. Check Err() to detect startup failures.
// Use Shutdown to stop the server.
func (s *Server) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.errChan <- err
		}
	}()
}

// Err returns any error that occurred during server startup or operation.
// This is non-blocking and returns nil if no error has occurred.
func (s *Server) Err() error {
	select {
	case err := <-s.errChan:
		return err
	default:
		return nil
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestMiddleware counts requests by method and status code.
func RequestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
	})
}
