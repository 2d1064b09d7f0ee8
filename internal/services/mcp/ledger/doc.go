// Package ledger defines the read/write contract the MCP server needs from the
// remote personal-finance ledger, plus an HTTP client for a ledger REST bridge.
//
// All amounts are integer minor units (cents). Nothing in this package rescales
// them; that happens at the tool boundary.
package ledger
