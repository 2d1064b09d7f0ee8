// Package timeouts defines shared timeout constants used across the MCP server.
package timeouts

import "time"

// LedgerRequest caps a single read against the ledger bridge.
const LedgerRequest = 10 * time.Second

// LedgerLoad caps a budget download/load, which can be much slower than a read.
const LedgerLoad = 60 * time.Second

// StoreConnect caps the initial annotation store connection and index setup.
const StoreConnect = 10 * time.Second

// ToolCall caps one MCP tool invocation end to end.
const ToolCall = 2 * time.Minute

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
