package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/platform/id"
)

// InvocationIDMetaKey is the result metadata key carrying the invocation id.
const InvocationIDMetaKey = "invocation_id"

// ResourceUpdateNotifier notifies MCP clients about resource updates.
type ResourceUpdateNotifier func(ctx context.Context, uri string)

// NotifyResourceUpdates sends resource update notifications for each URI provided.
func NotifyResourceUpdates(ctx context.Context, notify ResourceUpdateNotifier, uris ...string) {
	if notify == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for _, uri := range uris {
		if strings.TrimSpace(uri) == "" {
			continue
		}
		notify(ctx, uri)
	}
}

// toolInvocation is the per-call state shared by handlers.
type toolInvocation struct {
	RunCtx       context.Context
	InvocationID string
	Cancel       context.CancelFunc
}

func newToolInvocation(ctx context.Context, timeout time.Duration) (toolInvocation, error) {
	invocationID, err := id.NewID()
	if err != nil {
		return toolInvocation{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	return toolInvocation{RunCtx: runCtx, InvocationID: invocationID, Cancel: cancel}, nil
}

// result builds a tool result tagged with the invocation id.
func (i toolInvocation) result() *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Meta: map[string]any{InvocationIDMetaKey: i.InvocationID},
	}
}

// ToolError is the error a handler returns. Its text is the JSON report, which
// the MCP server places in the error result content.
type ToolError struct {
	Report apperrors.Report
	cause  error
}

// Error returns the JSON-encoded report.
func (e *ToolError) Error() string {
	return e.Report.JSON()
}

// Unwrap exposes the original error.
func (e *ToolError) Unwrap() error {
	return e.cause
}

// toolFailure converts err into a ToolError for operation. Errors without a
// domain code are reported as UNKNOWN with their message.
func toolFailure(operation string, err error) error {
	var existing *ToolError
	if errors.As(err, &existing) {
		return existing
	}
	return &ToolError{Report: apperrors.NewReport(operation, err), cause: err}
}

func invalidArgument(field, message string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidArgument, message, map[string]string{apperrors.MetaField: field})
}
