// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package observability

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mapshell/mapshell/pkg/errutil"
)

func startServer(t *testing.T, ready ReadinessChecker, registrars ...Registrar) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0",
		WithReadiness(ready),
		WithRegistrars(registrars...),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if _, err := server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})
	return server
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("failed to GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestServer_Metrics(t *testing.T) {
	server := startServer(t, func() bool { return true })

	status, body := get(t, "http://"+server.Addr()+"/metrics")
	if status != http.StatusOK {
		t.Errorf("expected status 200, got %d", status)
	}
	if !strings.Contains(body, "# HELP") || !strings.Contains(body, "# TYPE") {
		t.Error("expected Prometheus format with HELP and TYPE comments")
	}
	if !strings.Contains(body, "go_") {
		t.Error("expected go_* metrics")
	}
	if !strings.Contains(body, "process_") {
		t.Error("expected process_* metrics")
	}
}

func TestServer_RegistrarsAddPackageMetrics(t *testing.T) {
	loads := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapshell_test_loads_total",
		Help: "Loads observed by the test",
	})
	server := startServer(t, nil, func(reg prometheus.Registerer) { reg.MustRegister(loads) })
	loads.Add(3)

	_, body := get(t, "http://"+server.Addr()+"/metrics")
	if !strings.Contains(body, "mapshell_test_loads_total 3") {
		t.Error("expected registered package counter in /metrics output")
	}
}

func TestServer_LivenessReturns200(t *testing.T) {
	server := startServer(t, nil)

	status, body := get(t, "http://"+server.Addr()+"/healthz/liveness")
	if status != http.StatusOK {
		t.Errorf("expected status 200, got %d", status)
	}
	if strings.TrimSpace(body) != "ok" {
		t.Errorf("expected body 'ok', got %q", body)
	}
}

func TestServer_Readiness(t *testing.T) {
	tests := []struct {
		name   string
		ready  ReadinessChecker
		status int
		body   string
	}{
		{"ready", func() bool { return true }, http.StatusOK, "ok"},
		{"pending batch", func() bool { return false }, http.StatusServiceUnavailable, "not ready"},
		{"nil checker", nil, http.StatusOK, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := startServer(t, tt.ready)
			status, body := get(t, "http://"+server.Addr()+"/healthz/readiness")
			if status != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, status)
			}
			if strings.TrimSpace(body) != tt.body {
				t.Errorf("expected body %q, got %q", tt.body, body)
			}
		})
	}
}

func TestServer_DoubleStartFails(t *testing.T) {
	server := startServer(t, nil)

	_, err := server.Start()
	errutil.AssertErrorCode(t, err, CodeAlreadyRunning)
}

func TestServer_StopIdempotent(t *testing.T) {
	server := NewServer("127.0.0.1:0")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		t.Errorf("stop without start should not error: %v", err)
	}
}

func TestServer_ErrorChannelReportsServeErrors(t *testing.T) {
	server := NewServer("127.0.0.1:0")

	errCh, err := server.Start()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	_ = server.listener.Close()

	select {
	case serveErr := <-errCh:
		if serveErr == nil {
			t.Error("expected an error from the error channel after closing listener")
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for error on error channel")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Stop(ctx)
}

func TestServer_ErrorChannelClosesOnNormalShutdown(t *testing.T) {
	server := NewServer("127.0.0.1:0")

	errCh, err := server.Start()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		t.Fatalf("failed to stop server: %v", err)
	}

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			t.Errorf("unexpected error on normal shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for error channel to close")
	}
}

func TestMetrics_InstrumentCountsByStatus(t *testing.T) {
	server := startServer(t, nil)
	handler := server.Metrics().Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	api := httptest.NewServer(handler)
	defer api.Close()

	get(t, api.URL+"/tree")
	get(t, api.URL+"/tree")
	get(t, api.URL+"/missing")

	_, body := get(t, "http://"+server.Addr()+"/metrics")
	if !strings.Contains(body, `mapshell_http_requests_total{method="GET",status="200"} 2`) {
		t.Error("expected two successful GET requests")
	}
	if !strings.Contains(body, `mapshell_http_requests_total{method="GET",status="404"} 1`) {
		t.Error("expected one not found GET request")
	}
}

func TestServer_ListenFailureIsCoded(t *testing.T) {
	first := startServer(t, nil)

	second := NewServer(first.Addr())
	_, err := second.Start()
	errutil.AssertErrorCode(t, err, CodeListen)
	errutil.AssertErrorHint(t, err, "metricsAddr")
}

func TestServer_HandlerRejectsWrongMethod(t *testing.T) {
	server := NewServer("127.0.0.1:0")
	api := httptest.NewServer(server.Handler())
	defer api.Close()

	resp, err := http.Post(api.URL+"/healthz/liveness", "text/plain", nil)
	if err != nil {
		t.Fatalf("failed to POST: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", resp.StatusCode)
	}
}
