// Package session owns the process-wide ledger connection and the single
// active budget every budget-scoped tool reads from.
package session

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/platform/otel"
	"github.com/louisbranch/ledger.space/internal/services/mcp/ledger"
)

const tracerScope = "services/mcp/session"

// Phase is the lifecycle stage of a session.
type Phase int

const (
	// Uninitialized means the ledger client has not been initialized.
	Uninitialized Phase = iota
	// Connected means the client is initialized but no budget is loaded.
	Connected
	// Ready means a budget is loaded and budget-scoped reads may proceed.
	Ready
)

// String returns the lowercase phase name.
func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Connected:
		return "connected"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Config holds the opaque ledger settings; values are only checked for presence.
type Config struct {
	ServerURL       string
	Credential      string
	DataDir         string
	DefaultBudgetID string
}

// State is a point-in-time view of the session.
type State struct {
	Phase    Phase
	BudgetID string
}

// Manager serializes connection setup and budget switches against one ledger
// client. The zero value is not usable; call NewManager.
type Manager struct {
	client ledger.Client
	cfg    Config

	// sem is a one-slot semaphore held across check, load, and update so that
	// concurrent switches are linearized. A channel lets waiters honour ctx.
	sem   chan struct{}
	state State

	// reads is held shared by WithBudget callers for the length of their
	// ledger reads. Switches and shutdown take it exclusively while holding
	// sem, so a read never observes a budget other than the one it loaded.
	reads sync.RWMutex
}

// NewManager returns a manager in the Uninitialized phase.
func NewManager(client ledger.Client, cfg Config) *Manager {
	return &Manager{
		client: client,
		cfg:    cfg,
		sem:    make(chan struct{}, 1),
	}
}

func (m *Manager) lock(ctx context.Context, operation string) error {
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return apperrors.WrapWithMetadata(apperrors.CodeConnection, "wait for ledger session",
			map[string]string{apperrors.MetaOperation: operation}, ctx.Err())
	}
}

func (m *Manager) unlock() { <-m.sem }

// Status returns a snapshot of the session. It waits for any in-flight
// switch to finish, so it never reports a half-applied state.
func (m *Manager) Status(ctx context.Context) (State, error) {
	if err := m.lock(ctx, "status"); err != nil {
		return State{}, err
	}
	defer m.unlock()
	return m.state, nil
}

// ResolveBudgetID picks the explicit id or the configured default without
// contacting the ledger.
func (m *Manager) ResolveBudgetID(budgetID string) (string, error) {
	if id := strings.TrimSpace(budgetID); id != "" {
		return id, nil
	}
	if id := strings.TrimSpace(m.cfg.DefaultBudgetID); id != "" {
		return id, nil
	}
	return "", apperrors.WithMetadata(apperrors.CodeConfig,
		"no budget id given and no default budget configured",
		map[string]string{apperrors.MetaOperation: "resolve_budget"})
}

// EnsureConnection initializes the ledger client on first use. Later calls
// are no-ops.
func (m *Manager) EnsureConnection(ctx context.Context) error {
	if err := m.lock(ctx, "connect"); err != nil {
		return err
	}
	defer m.unlock()
	return m.connectLocked(ctx)
}

func (m *Manager) connectLocked(ctx context.Context) error {
	if m.state.Phase != Uninitialized {
		return nil
	}
	meta := map[string]string{apperrors.MetaOperation: "connect"}
	if m.cfg.DataDir != "" {
		if err := os.MkdirAll(m.cfg.DataDir, 0o755); err != nil {
			return apperrors.WrapWithMetadata(apperrors.CodeConnection, "create data directory", meta, err)
		}
	}
	err := m.client.Init(ctx, ledger.InitConfig{
		ServerURL:  m.cfg.ServerURL,
		Credential: m.cfg.Credential,
		DataDir:    m.cfg.DataDir,
	})
	if err != nil {
		return apperrors.WrapWithMetadata(apperrors.CodeConnection, "initialize ledger client", meta, err)
	}
	m.state = State{Phase: Connected}
	return nil
}

// EnsureBudgetLoaded makes budgetID (or the configured default) the active
// budget and returns it. Asking for the active budget again does not touch
// the ledger. When a load fails the session is left with no budget loaded,
// and the next call must load again.
func (m *Manager) EnsureBudgetLoaded(ctx context.Context, budgetID string) (string, error) {
	target, err := m.ResolveBudgetID(budgetID)
	if err != nil {
		return "", err
	}
	if err := m.lock(ctx, "load_budget"); err != nil {
		return "", err
	}
	defer m.unlock()
	return m.loadLocked(ctx, target)
}

// WithBudget loads budgetID like EnsureBudgetLoaded and runs fn against it.
// A switch requested while fn runs waits for fn to return, so every ledger
// read fn makes sees the budget it was handed.
func (m *Manager) WithBudget(ctx context.Context, budgetID string, fn func(ctx context.Context, budgetID string) error) error {
	target, err := m.ResolveBudgetID(budgetID)
	if err != nil {
		return err
	}
	if err := m.lock(ctx, "load_budget"); err != nil {
		return err
	}
	loaded, err := m.loadLocked(ctx, target)
	if err != nil {
		m.unlock()
		return err
	}
	m.reads.RLock()
	m.unlock()
	defer m.reads.RUnlock()
	return fn(ctx, loaded)
}

func (m *Manager) loadLocked(ctx context.Context, target string) (loaded string, err error) {
	if m.state.Phase == Ready && m.state.BudgetID == target {
		return target, nil
	}
	if err := m.connectLocked(ctx); err != nil {
		return "", err
	}

	ctx, span := otel.StartSpan(ctx, tracerScope, "session.load_budget", "budget_id", target)
	defer func() { otel.EndSpan(span, err) }()

	m.reads.Lock()
	defer m.reads.Unlock()

	previous := m.state.BudgetID
	if err := m.client.LoadBudget(ctx, target); err != nil {
		m.state = State{Phase: Connected}
		log.Printf("load budget %s failed: %v", target, err)
		meta := map[string]string{
			apperrors.MetaOperation: "load_budget",
			apperrors.MetaBudgetID:  target,
		}
		return "", apperrors.WrapWithMetadata(apperrors.CodeConnection, fmt.Sprintf("load budget %s", target), meta, err)
	}
	m.state = State{Phase: Ready, BudgetID: target}
	if previous != "" {
		log.Printf("switched budget %s -> %s", previous, target)
	} else {
		log.Printf("loaded budget %s", target)
	}
	return target, nil
}

// Shutdown closes the ledger client and returns to Uninitialized. Calling it
// on an uninitialized session does nothing.
func (m *Manager) Shutdown(ctx context.Context) error {
	if err := m.lock(ctx, "shutdown"); err != nil {
		return err
	}
	defer m.unlock()

	if m.state.Phase == Uninitialized {
		return nil
	}
	m.reads.Lock()
	defer m.reads.Unlock()
	err := m.client.Shutdown(ctx)
	m.state = State{}
	if err != nil {
		return apperrors.WrapWithMetadata(apperrors.CodeConnection, "shutdown ledger client",
			map[string]string{apperrors.MetaOperation: "shutdown"}, err)
	}
	log.Printf("ledger session closed")
	return nil
}
