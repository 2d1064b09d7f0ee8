// Package errors provides structured error handling for tool-facing failures.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeConfig means no budget id could be resolved from input or configuration.
	CodeConfig Code = "CONFIG_ERROR"

	// CodeConnection covers ledger init and budget load failures.
	CodeConnection Code = "CONNECTION_ERROR"

	// CodeNotFound means a referenced account or entity does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeStorage means the annotation store was unreachable or rejected a write.
	CodeStorage Code = "STORAGE_ERROR"

	// CodeInvalidArgument covers malformed caller input.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
)

// Metadata keys shared by error constructors.
const (
	MetaOperation  = "operation"
	MetaBudgetID   = "budget_id"
	MetaAccountID  = "account_id"
	MetaEntityType = "entity_type"
	MetaEntityID   = "entity_id"
	MetaField      = "field"
)

// Retryable reports whether a caller may reasonably retry after this code.
// Retrying is always the caller's decision; nothing in this module retries.
func (c Code) Retryable() bool {
	switch c {
	case CodeConnection, CodeStorage:
		return true
	default:
		return false
	}
}
