// Package branding holds user-visible product naming.
package branding

// AppName is the product name shown to MCP clients.
const AppName = "Ledger.Space"
