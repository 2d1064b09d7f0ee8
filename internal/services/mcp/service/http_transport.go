package service

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louisbranch/ledger.space/internal/platform/timeouts"
)

// defaultHTTPAddr keeps the HTTP transport on loopback unless configured otherwise.
const defaultHTTPAddr = "localhost:8081"

var listenTCP = net.Listen

var logf = log.Printf

// HTTPTransport serves one MCP server over streamable HTTP at /mcp, guarded
// by Host/Origin validation and an optional bearer token.
type HTTPTransport struct {
	addr         string
	allowedHosts map[string]struct{}
	apiToken     string
	server       *mcp.Server
	httpServer   *http.Server
}

// NewHTTPTransport creates an HTTP transport for server. It defaults to
// localhost-only binding.
func NewHTTPTransport(addr string, server *mcp.Server) *HTTPTransport {
	if strings.TrimSpace(addr) == "" {
		addr = defaultHTTPAddr
	}
	return &HTTPTransport{
		addr:         addr,
		allowedHosts: map[string]struct{}{},
		server:       server,
	}
}

func (t *HTTPTransport) applyConfig(cfg Config) {
	if t == nil {
		return
	}
	t.allowedHosts = parseAllowedHosts(cfg.AllowedHosts)
	t.apiToken = strings.TrimSpace(cfg.AuthToken)
}

// Handler returns the routed, guarded HTTP handler.
func (t *HTTPTransport) Handler() http.Handler {
	streamable := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return t.server
	}, nil)

	mux := http.NewServeMux()
	mux.Handle("/mcp", t.guard(streamable))
	// GET /mcp/health - Health check endpoint
	mux.HandleFunc("/mcp/health", t.handleHealth)
	return mux
}

// guard applies host validation then token auth before delegating.
func (t *HTTPTransport) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := t.validateLocalRequest(r); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !t.authorizeRequest(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (t *HTTPTransport) Start(ctx context.Context) error {
	if t == nil || t.server == nil {
		return fmt.Errorf("MCP server is not configured")
	}
	t.httpServer = &http.Server{
		Addr:              t.addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	listener, err := listenTCP("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", t.addr, err)
	}
	logf("Starting MCP HTTP server on %s", listener.Addr())

	errChan := make(chan error, 1)
	go func() {
		if err := t.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		logf("Shutting down MCP HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := t.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown HTTP server: %w", err)
		}
		return nil
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return fmt.Errorf("HTTP server error: %w", err)
	}
}
