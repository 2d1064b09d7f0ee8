package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louisbranch/ledger.space/internal/platform/branding"
	"github.com/louisbranch/ledger.space/internal/services/mcp/balance"
	"github.com/louisbranch/ledger.space/internal/services/mcp/ledger"
	"github.com/louisbranch/ledger.space/internal/services/mcp/session"
	"github.com/louisbranch/ledger.space/internal/services/mcp/storage"
)

// serverVersion identifies the MCP server version.
const serverVersion = "0.1.0"

// serverName identifies this MCP server to clients.
var serverName = branding.AppName + " MCP"

// TransportKind identifies the MCP transport implementation.
type TransportKind string

const (
	// TransportStdio uses standard input/output for MCP.
	TransportStdio TransportKind = "stdio"
	// TransportHTTP runs MCP over streamable HTTP for remote clients.
	TransportHTTP TransportKind = "http"
)

// Config configures the MCP server.
type Config struct {
	Transport TransportKind
	HTTPAddr  string // HTTP server address (e.g., "localhost:8081"). Defaults to localhost:8081 for HTTP transport.
	// AllowedHosts extends the loopback-only Host/Origin allowlist.
	AllowedHosts []string
	// AuthToken, when set, is required as a bearer token on every HTTP request.
	AuthToken string
}

// Deps are the long-lived collaborators the tool handlers share.
type Deps struct {
	Sessions *session.Manager
	Ledger   ledger.Client
	Store    storage.ContextStore
}

func (d Deps) validate() error {
	switch {
	case d.Sessions == nil:
		return fmt.Errorf("session manager is required")
	case d.Ledger == nil:
		return fmt.Errorf("ledger client is required")
	case d.Store == nil:
		return fmt.Errorf("annotation store is required")
	}
	return nil
}

// Server hosts the MCP server.
type Server struct {
	mcpServer *mcp.Server
	sessions  *session.Manager
}

// New creates a configured MCP server with every ledger, balance, and
// annotation tool registered.
func New(deps Deps) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, &mcp.ServerOptions{
		CompletionHandler:  completionHandler,
		SubscribeHandler:   resourceSubscribeHandler,
		UnsubscribeHandler: resourceUnsubscribeHandler,
	})

	server := &Server{mcpServer: mcpServer, sessions: deps.Sessions}
	resourceNotifier := func(ctx context.Context, uri string) {
		if strings.TrimSpace(uri) == "" {
			return
		}
		if ctx == nil {
			ctx = context.Background()
		}
		if err := mcpServer.ResourceUpdated(ctx, &mcp.ResourceUpdatedNotificationParams{URI: uri}); err != nil {
			log.Printf("mcp resource updated notify failed: uri=%s err=%v", uri, err)
		}
	}

	for _, module := range newMCPRegistrationModules(
		mcpRegistrationDeps{
			sessions:  deps.Sessions,
			ledger:    deps.Ledger,
			projector: balance.NewProjector(deps.Ledger),
			store:     deps.Store,
		},
		resourceNotifier,
	) {
		if err := module.register(mcpServerRegistrationAdapter{server: mcpServer}); err != nil {
			return nil, fmt.Errorf("register MCP module %q: %w", module.name, err)
		}
	}

	return server, nil
}

// completionHandler handles completion/complete requests with empty results.
// No prompt or resource template takes arguments yet.
func completionHandler(ctx context.Context, req *mcp.CompleteRequest) (*mcp.CompleteResult, error) {
	return &mcp.CompleteResult{
		Completion: mcp.CompletionResultDetails{
			Values: []string{},
		},
	}, nil
}

// resourceSubscribeHandler accepts resource subscriptions with a valid URI.
func resourceSubscribeHandler(_ context.Context, req *mcp.SubscribeRequest) error {
	if req == nil || req.Params == nil || strings.TrimSpace(req.Params.URI) == "" {
		return fmt.Errorf("resource uri is required")
	}
	return nil
}

// resourceUnsubscribeHandler accepts resource unsubscriptions with a valid URI.
func resourceUnsubscribeHandler(_ context.Context, req *mcp.UnsubscribeRequest) error {
	if req == nil || req.Params == nil || strings.TrimSpace(req.Params.URI) == "" {
		return fmt.Errorf("resource uri is required")
	}
	return nil
}
