package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"example.com/dirserve/internal/config"
	"example.com/dirserve/internal/logger"
	"example.com/dirserve/internal/util"
)

const readHeaderTimeout = 10 * time.Second

// Server manages the HTTP listener lifecycle: listening (fresh or socket
// activated), serving HTTP/1.1 and cleartext HTTP/2, an optional metrics
// listener, and graceful shutdown.
type Server struct {
	cfg     *config.Config
	log     *logger.Logger
	handler http.Handler
	metrics http.Handler

	mu          sync.Mutex
	addr        net.Addr
	metricsAddr net.Addr
	ready       chan struct{}
}

// NewServer creates a Server. handler serves the public address; metrics,
// if non-nil, is served on server.metrics_address when that is set.
func NewServer(cfg *config.Config, lg *logger.Logger, handler http.Handler, metrics http.Handler) (*Server, error) {
	if cfg == nil || cfg.Server == nil {
		return nil, fmt.Errorf("server configuration cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	return &Server{
		cfg:     cfg,
		log:     lg,
		handler: handler,
		metrics: metrics,
		ready:   make(chan struct{}),
	}, nil
}

// Ready is closed once the listeners are bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound public address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// MetricsAddr returns the bound metrics address, or nil when disabled.
func (s *Server) MetricsAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metricsAddr
}

// Start listens and serves until ctx is cancelled, then shuts down within
// server.graceful_shutdown_timeout. It returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	address := config.DefaultAddress
	if s.cfg.Server.Address != nil && *s.cfg.Server.Address != "" {
		address = *s.cfg.Server.Address
	}

	ln, inherited, err := util.Listen(address)
	if err != nil {
		if util.IsAddrInUse(err) {
			return fmt.Errorf("address %s is already in use: %w", address, err)
		}
		return err
	}

	public := &http.Server{
		Handler:           h2c.NewHandler(s.handler, &http2.Server{}),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	servers := []*http.Server{public}
	listeners := []net.Listener{ln}

	var metricsLn net.Listener
	if s.metrics != nil && s.cfg.Server.MetricsAddress != nil && *s.cfg.Server.MetricsAddress != "" {
		metricsLn, err = net.Listen("tcp", *s.cfg.Server.MetricsAddress)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to listen for metrics on %s: %w", *s.cfg.Server.MetricsAddress, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics)
		servers = append(servers, &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout})
		listeners = append(listeners, metricsLn)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	if metricsLn != nil {
		s.metricsAddr = metricsLn.Addr()
	}
	s.mu.Unlock()

	s.log.Info("Server listening", logger.LogFields{"address": ln.Addr().String(), "inherited": inherited})
	if metricsLn != nil {
		s.log.Info("Metrics listening", logger.LogFields{"address": metricsLn.Addr().String()})
	}

	errCh := make(chan error, len(servers))
	for i, srv := range servers {
		go func(srv *http.Server, l net.Listener) {
			if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(srv, listeners[i])
	}
	close(s.ready)

	var serveErr error
	select {
	case <-ctx.Done():
		s.log.Info("Shutting down", logger.LogFields{"reason": context.Cause(ctx).Error()})
	case serveErr = <-errCh:
		s.log.Error("Server failed", logger.LogFields{"error": serveErr.Error()})
	}

	return errors.Join(serveErr, s.shutdown(servers))
}

func (s *Server) shutdown(servers []*http.Server) error {
	timeout := s.cfg.Server.ShutdownTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
			srv.Close()
		}
	}
	if len(errs) > 0 {
		s.log.Warn("Graceful shutdown incomplete; connections were closed", logger.LogFields{"timeout": timeout.String()})
		return fmt.Errorf("graceful shutdown: %w", errors.Join(errs...))
	}
	s.log.Info("Server stopped", nil)
	return nil
}
