package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"sproutxp/internal/service"
)

type Options struct {
	AllowedOrigins []string
	MaxBodyBytes   int64
}

type Server struct {
	srv *http.Server
}

func NewServer(addr string, svc service.XPService, verifier TokenVerifier, opts Options) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      NewRouter(svc, verifier, opts),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// NewRouter builds the full middleware chain around the XP routes.
func NewRouter(svc service.XPService, verifier TokenVerifier, opts Options) http.Handler {
	mux := http.NewServeMux()
	NewHandler(svc, verifier, opts.MaxBodyBytes).Register(mux)
	return recoverPanics(logRequests(cors(opts.AllowedOrigins, mux)))
}

func (s *Server) Start(ctx context.Context) error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
