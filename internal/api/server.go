package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server exposes the read endpoints and the close-out trigger over HTTP.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// NewServer wires the handlers onto a mux router.
func NewServer(addr string, handlers *Handlers, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/deposits", handlers.RecentDeposits).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/deposits/{txHash}", handlers.DepositByHash).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/hedges/{txHash}", handlers.HedgeByHash).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/hedges/{txHash}/close", handlers.CloseHedge).Methods(http.MethodPost)
	router.HandleFunc("/healthz", handlers.Health).Methods(http.MethodGet)

	return &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.Info("http server listening", zap.String("addr", s.server.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
