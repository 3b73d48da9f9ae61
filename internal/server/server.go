// Package server exposes the synthesis manager over HTTP and websocket:
// JSON endpoints for one-shot synthesis, chunked streaming, catalog and
// stats inspection, and a websocket channel for interactive clients.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/yomikawa/danmu-tts/internal/config"
	"github.com/yomikawa/danmu-tts/internal/tts"
)

// Server wraps the HTTP listener around a synthesis manager.
type Server struct {
	cfg     config.ServerConfig
	manager *tts.Manager
	logger  *log.Logger
	httpSrv *http.Server

	wsConnections atomic.Int64
}

// New builds the server and its route table.
func New(cfg config.ServerConfig, manager *tts.Manager, logger *log.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		manager: manager,
		logger:  logger,
	}
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// ListenAndServe blocks serving requests until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}
