// Package service wires protocol transport to domain services.
//
// It is the transport adapter layer: the package knows how to run MCP over stdio
// or streamable HTTP and delegates ledger and annotation meaning to the domain
// handlers.
package service
