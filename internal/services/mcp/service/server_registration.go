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

type mcpRegistrationKind int

const (
	mcpRegistrationKindTools mcpRegistrationKind = iota
	mcpRegistrationKindResources
)

type mcpRegistrationModule struct {
	name     string
	kind     mcpRegistrationKind
	register func(mcpRegistrationTarget) error
}

const (
	mcpSessionToolsModuleName    = "session-tools"
	mcpLedgerToolsModuleName     = "ledger-tools"
	mcpBalanceToolsModuleName    = "balance-tools"
	mcpAnnotationToolsModuleName = "annotation-tools"
	mcpSessionResourceModuleName = "session-resources"
)

type mcpRegistrationDeps struct {
	sessions  *session.Manager
	ledger    ledger.Client
	projector *balance.Projector
	store     storage.ContextStore
}

type mcpServerRegistrationAdapter struct {
	server *mcp.Server
}

func (r mcpServerRegistrationAdapter) AddTool(tool *mcp.Tool, handler any) error {
	return addMCPTool(r.server, tool, handler)
}

func (r mcpServerRegistrationAdapter) AddResourceTemplate(resourceTemplate *mcp.ResourceTemplate, handler mcp.ResourceHandler) {
	r.server.AddResourceTemplate(resourceTemplate, handler)
}

func (r mcpServerRegistrationAdapter) AddResource(resource *mcp.Resource, handler mcp.ResourceHandler) {
	r.server.AddResource(resource, handler)
}

type mcpToolRegistrar struct {
	matches func(any) bool
	add     func(*mcp.Server, *mcp.Tool, any)
}

func newMCPToolRegistrar[I any, O any]() mcpToolRegistrar {
	return mcpToolRegistrar{
		matches: func(handler any) bool {
			_, ok := handler.(mcp.ToolHandlerFor[I, O])
			return ok
		},
		add: func(server *mcp.Server, tool *mcp.Tool, handler any) {
			mcp.AddTool(server, tool, handler.(mcp.ToolHandlerFor[I, O]))
		},
	}
}

var mcpToolRegistrars = []mcpToolRegistrar{
	newMCPToolRegistrar[domain.LoadBudgetInput, domain.LoadBudgetResult](),
	newMCPToolRegistrar[domain.ListBudgetsInput, domain.ListBudgetsResult](),
	newMCPToolRegistrar[domain.GetAccountsInput, domain.GetAccountsResult](),
	newMCPToolRegistrar[domain.GetTransactionsInput, domain.GetTransactionsResult](),
	newMCPToolRegistrar[domain.GetBudgetOverviewInput, domain.GetBudgetOverviewResult](),
	newMCPToolRegistrar[domain.BalanceHistoryInput, domain.BalanceHistoryResult](),
	newMCPToolRegistrar[domain.SetEntityContextInput, domain.SetEntityContextResult](),
	newMCPToolRegistrar[domain.EntityContextKeyInput, domain.GetEntityContextResult](),
	newMCPToolRegistrar[domain.EntityContextKeyInput, domain.ClearEntityContextResult](),
	newMCPToolRegistrar[domain.SearchEntityContextInput, domain.SearchEntityContextResult](),
}

func addMCPTool(server *mcp.Server, tool *mcp.Tool, handler any) error {
	for _, registrar := range mcpToolRegistrars {
		if registrar.matches(handler) {
			registrar.add(server, tool, handler)
			return nil
		}
	}
	toolName := "<nil>"
	if tool != nil {
		toolName = tool.Name
	}
	return fmt.Errorf("mcp registration adapter does not support handler type %T for tool %q", handler, toolName)
}

func newMCPRegistrationModules(deps mcpRegistrationDeps, notify domain.ResourceUpdateNotifier) []mcpRegistrationModule {
	return []mcpRegistrationModule{
		{
			name: mcpSessionToolsModuleName,
			kind: mcpRegistrationKindTools,
			register: func(registrar mcpRegistrationTarget) error {
				return registerSessionTools(registrar, deps.sessions, deps.ledger, notify)
			},
		},
		{
			name: mcpLedgerToolsModuleName,
			kind: mcpRegistrationKindTools,
			register: func(registrar mcpRegistrationTarget) error {
				return registerLedgerTools(registrar, deps.sessions, deps.ledger)
			},
		},
		{
			name: mcpBalanceToolsModuleName,
			kind: mcpRegistrationKindTools,
			register: func(registrar mcpRegistrationTarget) error {
				return registerBalanceTools(registrar, deps.sessions, deps.projector)
			},
		},
		{
			name: mcpAnnotationToolsModuleName,
			kind: mcpRegistrationKindTools,
			register: func(registrar mcpRegistrationTarget) error {
				return registerAnnotationTools(registrar, deps.sessions, deps.store)
			},
		},
		{
			name: mcpSessionResourceModuleName,
			kind: mcpRegistrationKindResources,
			register: func(registrar mcpRegistrationTarget) error {
				registerSessionResources(registrar, deps.sessions)
				return nil
			},
		},
	}
}
