package server

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Server wraps the HTTP server of the application.
type Server struct {
	server *http.Server
}

// ListenAndServe blocks until the server stops. After Shutdown it returns http.ErrServerClosed.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server, letting active requests finish within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the instrumented handler the server dispatches to.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// NewServer creates a server listening on address. writeTimeout bounds the local
// ingestion endpoint, which processes files synchronously. Every request gets a span
// named after the route pattern it matched, or after its method when none matched.
func NewServer(address string, router *ApiV1Router, readTimeout, writeTimeout time.Duration) *Server {
	handler := otelhttp.NewHandler(router.Mux(), "cloudproof",
		otelhttp.WithSpanNameFormatter(spanName),
	)

	return &Server{&http.Server{
		Addr:           address,
		Handler:        handler,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		MaxHeaderBytes: 1024 * 10,
	}}
}

// spanName is called once before routing and again after the mux has set r.Pattern.
func spanName(_ string, r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.Method
}
