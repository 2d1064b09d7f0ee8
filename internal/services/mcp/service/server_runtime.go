package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louisbranch/ledger.space/internal/platform/timeouts"
)

// Run is the service entrypoint for MCP and blocks until context cancellation.
// Stdio suits local assistants; HTTP serves remote clients with the same
// handlers.
func Run(ctx context.Context, cfg Config, deps Deps) error {
	if cfg.Transport == "" {
		cfg.Transport = TransportStdio
	}

	switch cfg.Transport {
	case TransportStdio:
		return runWithTransport(ctx, deps, &mcp.StdioTransport{})
	case TransportHTTP:
		return runWithHTTPTransport(ctx, cfg, deps)
	default:
		return fmt.Errorf("transport %q is not supported", cfg.Transport)
	}
}

// runWithHTTPTransport creates a server and serves it over streamable HTTP.
func runWithHTTPTransport(ctx context.Context, cfg Config, deps Deps) error {
	server, err := New(deps)
	if err != nil {
		return err
	}
	defer func() {
		if err := server.Close(); err != nil {
			logf("close ledger session: %v", err)
		}
	}()

	httpTransport := NewHTTPTransport(cfg.HTTPAddr, server.mcpServer)
	httpTransport.applyConfig(cfg)
	return httpTransport.Start(ctx)
}

// runWithTransport creates a server and serves it over the provided transport.
func runWithTransport(ctx context.Context, deps Deps, transport mcp.Transport) error {
	server, err := New(deps)
	if err != nil {
		return err
	}
	return server.serveWithTransport(ctx, transport)
}

// Serve starts the MCP server on stdio and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	return s.serveWithTransport(ctx, &mcp.StdioTransport{})
}

// Close shuts the ledger session down. It is safe to call more than once.
func (s *Server) Close() error {
	if s == nil || s.sessions == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	return s.sessions.Shutdown(ctx)
}

// serveWithTransport starts the MCP server using the provided transport.
// The server and its ledger session share a single exit path so cleanup
// behavior is consistent for both stdio and HTTP runs.
func (s *Server) serveWithTransport(ctx context.Context, transport mcp.Transport) error {
	if s == nil || s.mcpServer == nil {
		return fmt.Errorf("MCP server is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := s.mcpServer.Run(ctx, transport)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	closeErr := s.Close()
	if closeErr != nil {
		if err == nil {
			return fmt.Errorf("close ledger session: %w", closeErr)
		}
		return fmt.Errorf("serve MCP: %v; close ledger session: %w", err, closeErr)
	}
	if err != nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}
