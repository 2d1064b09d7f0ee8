package service

import (
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louisbranch/ledger.space/internal/services/mcp/balance"
	"github.com/louisbranch/ledger.space/internal/services/mcp/domain"
	"github.com/louisbranch/ledger.space/internal/services/mcp/ledger"
	"github.com/louisbranch/ledger.space/internal/services/mcp/session"
	"github.com/louisbranch/ledger.space/internal/services/mcp/storage"
)

type mcpRegistrationTarget interface {
	AddTool(*mcp.Tool, any) error
	AddResourceTemplate(*mcp.ResourceTemplate, mcp.ResourceHandler)
	AddResource(*mcp.Resource, mcp.ResourceHandler)
}

func registerSessionTools(registrar mcpRegistrationTarget, sessions *session.Manager, client ledger.Client, notify domain.ResourceUpdateNotifier) error {
	if err := registerTool(registrar, domain.LoadBudgetTool(), domain.LoadBudgetHandler(sessions, notify)); err != nil {
		return err
	}
	return registerTool(registrar, domain.ListBudgetsTool(), domain.ListBudgetsHandler(sessions, client))
}

func registerLedgerTools(registrar mcpRegistrationTarget, sessions *session.Manager, client ledger.Client) error {
	registrations := []struct {
		tool    *mcp.Tool
		handler any
	}{
		{tool: domain.GetAccountsTool(), handler: domain.GetAccountsHandler(sessions, client)},
		{tool: domain.GetTransactionsTool(), handler: domain.GetTransactionsHandler(sessions, client)},
		{tool: domain.GetBudgetOverviewTool(), handler: domain.GetBudgetOverviewHandler(sessions, client)},
	}
	for _, registration := range registrations {
		if err := registerTool(registrar, registration.tool, registration.handler); err != nil {
			return err
		}
	}
	return nil
}

func registerBalanceTools(registrar mcpRegistrationTarget, sessions *session.Manager, projector *balance.Projector) error {
	return registerTool(registrar, domain.BalanceHistoryTool(), domain.BalanceHistoryHandler(sessions, projector))
}

// registerAnnotationTools registers the entity context tools.
func registerAnnotationTools(registrar mcpRegistrationTarget, sessions *session.Manager, store storage.ContextStore) error {
	registrations := []struct {
		tool    *mcp.Tool
		handler any
	}{
		{tool: domain.SetEntityContextTool(), handler: domain.SetEntityContextHandler(sessions, store)},
		{tool: domain.GetEntityContextTool(), handler: domain.GetEntityContextHandler(sessions, store)},
		{tool: domain.ClearEntityContextTool(), handler: domain.ClearEntityContextHandler(sessions, store)},
		{tool: domain.SearchEntityContextTool(), handler: domain.SearchEntityContextHandler(store)},
	}
	for _, registration := range registrations {
		if err := registerTool(registrar, registration.tool, registration.handler); err != nil {
			return err
		}
	}
	return nil
}

func registerTool(registrar mcpRegistrationTarget, tool *mcp.Tool, handler any) error {
	if tool == nil {
		return fmt.Errorf("tool is nil")
	}
	return registrar.AddTool(tool, handler)
}

// registerSessionResources registers the readable session resource.
func registerSessionResources(registrar mcpRegistrationTarget, sessions *session.Manager) {
	registrar.AddResource(domain.SessionResource(), domain.SessionResourceHandler(sessions))
}
