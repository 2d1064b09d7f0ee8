package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIsLoopbackHost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"localhost", true},
		{"LOCALHOST", true},
		{"127.0.0.1", true},
		{"::1", true},
		{" localhost ", true},
		{"example.com", false},
		{"127.0.0.2", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := isLoopbackHost(tt.host); got != tt.want {
				t.Errorf("isLoopbackHost(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}

func TestNormalizeHost(t *testing.T) {
	tests := []struct {
		input  string
		want   string
		wantOk bool
	}{
		{"localhost:8081", "localhost", true},
		{"example.com:443", "example.com", true},
		{"[::1]:8081", "::1", true},
		{"[::1]", "::1", true},
		{"example.com", "example.com", true},
		{"", "", false},
		{"[::1", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := normalizeHost(tt.input)
			if ok != tt.wantOk {
				t.Errorf("normalizeHost(%q) ok = %v, want %v", tt.input, ok, tt.wantOk)
			}
			if got != tt.want {
				t.Errorf("normalizeHost(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateLocalRequest(t *testing.T) {
	t.Run("nil request", func(t *testing.T) {
		transport := NewHTTPTransport("", nil)
		if err := transport.validateLocalRequest(nil); err == nil {
			t.Fatal("expected error for nil request")
		}
	})

	t.Run("localhost with origin", func(t *testing.T) {
		transport := NewHTTPTransport("", nil)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Host = "localhost:8081"
		req.Header.Set("Origin", "http://localhost:8081")
		if err := transport.validateLocalRequest(req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("invalid origin", func(t *testing.T) {
		transport := NewHTTPTransport("", nil)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Host = "localhost:8081"
		req.Header.Set("Origin", "http://evil.com")
		if err := transport.validateLocalRequest(req); err == nil {
			t.Fatal("expected error for invalid origin")
		}
	})

	t.Run("configured host", func(t *testing.T) {
		transport := NewHTTPTransport("", nil)
		transport.applyConfig(Config{AllowedHosts: []string{" Ledger.Example.com ", ""}})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Host = "ledger.example.com:443"
		if err := transport.validateLocalRequest(req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestGuard(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	serve := func(transport *HTTPTransport, host, authorization string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		req.Host = host
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		recorder := httptest.NewRecorder()
		transport.guard(next).ServeHTTP(recorder, req)
		return recorder
	}

	open := NewHTTPTransport("", nil)
	if code := serve(open, "localhost", "").Code; code != http.StatusTeapot {
		t.Errorf("expected pass-through without token, got %d", code)
	}
	if code := serve(open, "evil.com", "").Code; code != http.StatusBadRequest {
		t.Errorf("expected bad request for foreign host, got %d", code)
	}

	secured := NewHTTPTransport("", nil)
	secured.applyConfig(Config{AuthToken: "s3cret"})
	missing := serve(secured, "localhost", "")
	if missing.Code != http.StatusUnauthorized || missing.Header().Get("WWW-Authenticate") == "" {
		t.Errorf("expected 401 with challenge, got %d", missing.Code)
	}
	if code := serve(secured, "localhost", "Bearer wrong").Code; code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong token, got %d", code)
	}
	if code := serve(secured, "localhost", "Bearer s3cret").Code; code != http.StatusTeapot {
		t.Errorf("expected pass-through with token, got %d", code)
	}
}

func TestHandleHealth(t *testing.T) {
	transport := NewHTTPTransport("", nil)

	get := httptest.NewRequest(http.MethodGet, "/mcp/health", nil)
	get.Host = "localhost"
	recorder := httptest.NewRecorder()
	transport.handleHealth(recorder, get)
	if recorder.Code != http.StatusOK || recorder.Body.String() != "OK" {
		t.Errorf("expected OK, got %d %q", recorder.Code, recorder.Body.String())
	}

	post := httptest.NewRequest(http.MethodPost, "/mcp/health", nil)
	post.Host = "localhost"
	recorder = httptest.NewRecorder()
	transport.handleHealth(recorder, post)
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", recorder.Code)
	}
}

func TestHTTPTransportStartStops(t *testing.T) {
	server := newTestServer(t, "b1")
	transport := NewHTTPTransport("127.0.0.1:0", server.mcpServer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- transport.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transport did not stop after cancel")
	}
}

func TestHTTPTransportStartRequiresServer(t *testing.T) {
	if err := NewHTTPTransport("", nil).Start(context.Background()); err == nil {
		t.Fatal("expected error without MCP server")
	}
}
