package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"go-realtime-delivery/internal/infrastructure/config"
	"go-realtime-delivery/internal/infrastructure/logger"
)

type HTTPServer struct {
	handler http.Handler
	cfg     config.HTTPConfig
	logger  logger.Logger

	mu   sync.Mutex
	srv  *http.Server
	addr net.Addr
}

var _ Server = (*HTTPServer)(nil)

func NewHTTPServer(handler http.Handler, cfg config.HTTPConfig, log logger.Logger) *HTTPServer {
	srv := &HTTPServer{
		handler: handler,
		cfg:     cfg,
		logger:  log.WithField("component", "http-server"),
	}
	return srv
}

// Start listens on the configured address and serves until Stop.
func (h *HTTPServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.cfg.Addr())
	if err != nil {
		return err
	}
	return h.Serve(ctx, ln)
}

// Serve serves on an existing listener until Stop.
func (h *HTTPServer) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      h.handler,
		ReadTimeout:  time.Duration(h.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(h.cfg.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(h.cfg.IdleTimeout) * time.Second,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	h.mu.Lock()
	h.srv = srv
	h.addr = ln.Addr()
	h.mu.Unlock()

	h.logger.Infof("HTTP server listening on %s", ln.Addr())

	var eg errgroup.Group
	eg.Go(func() error {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	return eg.Wait()
}

// Addr returns the bound address once serving has started.
func (h *HTTPServer) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr
}

func (h *HTTPServer) Stop(ctx context.Context) error {
	h.mu.Lock()
	srv := h.srv
	h.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
