package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/GoCodeAlone/modular"
)

// HTTPServer serves a handler between module Start and Stop.
type HTTPServer struct {
	name     string
	address  string
	handler  http.Handler
	server   *http.Server
	listener net.Listener
	logger   modular.Logger
}

// NewHTTPServer creates an HTTPServer listening on address.
func NewHTTPServer(name, address string, handler http.Handler) *HTTPServer {
	return &HTTPServer{name: name, address: address, handler: handler}
}

func (s *HTTPServer) Name() string { return s.name }

func (s *HTTPServer) Init(app modular.Application) error {
	s.logger = app.Logger()
	return nil
}

// Start binds the listener, so an unusable address fails Start, then serves
// in the background.
func (s *HTTPServer) Start(_ context.Context) error {
	if s.handler == nil {
		return fmt.Errorf("http server %q: no handler configured", s.name)
	}
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("http server %q: listen on %s: %w", s.name, s.address, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "name", s.name, "error", err)
		}
	}()

	s.logger.Info("HTTP server started", "name", s.name, "address", ln.Addr().String())
	return nil
}

// Stop shuts the server down gracefully.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server %q: shutdown: %w", s.name, err)
	}
	s.logger.Info("HTTP server stopped", "name", s.name)
	return nil
}

// Addr returns the bound address once started.
func (s *HTTPServer) Addr() string {
	if s.listener == nil {
		return s.address
	}
	return s.listener.Addr().String()
}

func (s *HTTPServer) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: s.name, Description: "HTTP server", Instance: s},
	}
}

func (s *HTTPServer) RequiresServices() []modular.ServiceDependency {
	return nil
}
