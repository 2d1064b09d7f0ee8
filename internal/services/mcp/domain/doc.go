// Package domain maps MCP tool calls onto ledger reads, balance projection,
// and the annotation store.
//
// Every handler follows the same shape: resolve the budget through the
// session, call the collaborator, and return a typed result. Failures leave
// the handler as a JSON report (code, message, operation, metadata) in the
// tool error text, so callers can branch on the code without parsing prose.
package domain
