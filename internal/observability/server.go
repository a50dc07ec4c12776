// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

// Package observability provides HTTP endpoints for metrics and health checks.
package observability

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessChecker returns whether the service is ready to serve a
// complete plugin tree.
type ReadinessChecker func() bool

// Registrar adds a package's collectors to a registry.
type Registrar func(prometheus.Registerer)

// Metrics contains the HTTP surface metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the HTTP surface metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mapshell_http_requests_total",
				Help: "Total number of API requests by method and status",
			},
			[]string{"method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mapshell_http_request_duration_seconds",
				Help:    "API request latency by method",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)

	return m
}

// Instrument counts and times every request served by next.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		m.RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		m.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
	})
}

// statusRecorder captures the response status. It passes hijacking through
// so websocket upgrades keep working.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, ErrNoHijack()
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack() //nolint:wrapcheck // passthrough
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Server serves /metrics and the liveness and readiness probes on its own
// listener, separate from the host-facing API.
type Server struct {
	addr       string
	logger     *slog.Logger
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	running    atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithReadiness sets the readiness probe. Without one the server always
// reports ready.
func WithReadiness(ready ReadinessChecker) Option {
	return func(s *Server) { s.isReady = ready }
}

// WithRegistrars adds package collectors to the server registry.
func WithRegistrars(registrars ...Registrar) Option {
	return func(s *Server) {
		for _, register := range registrars {
			register(s.registry)
		}
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a server listening on addr ("127.0.0.1:9100", ":0").
// Each server owns its registry so tests can run several side by side.
func NewServer(addr string, opts ...Option) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &Server{
		addr:     addr,
		logger:   slog.Default(),
		registry: registry,
		metrics:  NewMetrics(registry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metrics returns the HTTP surface metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Registry returns the registry backing /metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Handler returns the probe and metrics routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("GET /healthz/liveness", s.handleLiveness)
	mux.HandleFunc("GET /healthz/readiness", s.handleReadiness)
	return mux
}

// Start begins serving. The returned channel receives a serve failure and
// is closed once the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning(s.addr)
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, ErrListen(s.addr, err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		// Local httpSrv avoids racing a later Start.
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop shuts the server down. Stopping a server that is not running is a
// no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return ErrShutdown(err)
		}
	}
	s.logger.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeProbe(w, http.StatusOK, "ok")
}

// handleReadiness is 503 while a module batch is pending.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if s.isReady == nil || s.isReady() {
		writeProbe(w, http.StatusOK, "ok")
		return
	}
	writeProbe(w, http.StatusServiceUnavailable, "not ready")
}

func writeProbe(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	w.Write([]byte(body + "\n"))
}
