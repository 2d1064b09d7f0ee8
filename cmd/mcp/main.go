package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	mcpcmd "github.com/louisbranch/ledger.space/internal/cmd/mcp"
	"github.com/louisbranch/ledger.space/internal/platform/config"
)

// main starts the ledger MCP server on stdio or HTTP.
func main() {
	log.SetPrefix("[MCP] ")
	// Stdout carries the stdio transport; logs go to stderr.
	log.SetOutput(os.Stderr)

	cfg, err := mcpcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	config.ExitOnError("parse flags", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mcpcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve MCP: %v", err)
	}
}
