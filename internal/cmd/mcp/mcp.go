// Package mcp parses MCP command configuration, opens the annotation store,
// and runs the ledger MCP server over stdio or HTTP.
package mcp

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	platformcmd "github.com/louisbranch/ledger.space/internal/platform/cmd"
	"github.com/louisbranch/ledger.space/internal/platform/timeouts"
	"github.com/louisbranch/ledger.space/internal/services/mcp/ledger"
	"github.com/louisbranch/ledger.space/internal/services/mcp/service"
	"github.com/louisbranch/ledger.space/internal/services/mcp/session"
	"github.com/louisbranch/ledger.space/internal/services/mcp/storage"
	"github.com/louisbranch/ledger.space/internal/services/mcp/storage/mongo"
	"github.com/louisbranch/ledger.space/internal/services/mcp/storage/sqlite"
)

// sqliteFileName is the annotation database created under the data directory
// when no MongoDB URI is configured.
const sqliteFileName = "annotations.db"

// Config holds MCP command configuration.
type Config struct {
	LedgerURL        string `env:"LEDGER_SPACE_LEDGER_URL"        envDefault:"http://localhost:5007"`
	LedgerCredential string `env:"LEDGER_SPACE_LEDGER_CREDENTIAL"`
	DataDir          string `env:"LEDGER_SPACE_DATA_DIR"          envDefault:"./data"`
	DefaultBudgetID  string `env:"LEDGER_SPACE_DEFAULT_BUDGET_ID"`

	MongoURI        string `env:"LEDGER_SPACE_MONGO_URI"`
	MongoDatabase   string `env:"LEDGER_SPACE_MONGO_DATABASE"   envDefault:"ledger_space"`
	MongoCollection string `env:"LEDGER_SPACE_MONGO_COLLECTION" envDefault:"entity_contexts"`

	Transport    string   `env:"LEDGER_SPACE_MCP_TRANSPORT"     envDefault:"stdio"`
	HTTPAddr     string   `env:"LEDGER_SPACE_MCP_HTTP_ADDR"     envDefault:"localhost:8081"`
	AllowedHosts []string `env:"LEDGER_SPACE_MCP_ALLOWED_HOSTS" envSeparator:","`
	AuthToken    string   `env:"LEDGER_SPACE_MCP_AUTH_TOKEN"`
}

// ParseConfig parses .env files, environment, and flags into a Config.
// Flags win over the environment.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := platformcmd.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.LedgerURL, "ledger-url", cfg.LedgerURL, "ledger server URL")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "local data directory")
	fs.StringVar(&cfg.DefaultBudgetID, "budget", cfg.DefaultBudgetID, "default budget id")
	fs.StringVar(&cfg.MongoURI, "mongo-uri", cfg.MongoURI, "MongoDB connection string (SQLite under data-dir when empty)")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP server address (for HTTP transport)")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "Transport type: stdio or http")
	if err := platformcmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) transport() (service.TransportKind, error) {
	kind := service.TransportKind(strings.ToLower(strings.TrimSpace(c.Transport)))
	switch kind {
	case "":
		return service.TransportStdio, nil
	case service.TransportStdio, service.TransportHTTP:
		return kind, nil
	default:
		return "", fmt.Errorf("transport %q is not supported", c.Transport)
	}
}

// Run opens the annotation store, builds the ledger session, and serves MCP
// until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	transport, err := cfg.transport()
	if err != nil {
		return err
	}
	return platformcmd.RunWithTelemetry(ctx, platformcmd.ServiceMCP, func(ctx context.Context) error {
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("close annotation store: %v", err)
			}
		}()

		client := ledger.NewHTTPClient(&http.Client{Timeout: timeouts.LedgerLoad})
		sessions := session.NewManager(client, session.Config{
			ServerURL:       cfg.LedgerURL,
			Credential:      cfg.LedgerCredential,
			DataDir:         cfg.DataDir,
			DefaultBudgetID: cfg.DefaultBudgetID,
		})

		return service.Run(ctx, service.Config{
			Transport:    transport,
			HTTPAddr:     cfg.HTTPAddr,
			AllowedHosts: cfg.AllowedHosts,
			AuthToken:    cfg.AuthToken,
		}, service.Deps{
			Sessions: sessions,
			Ledger:   client,
			Store:    store,
		})
	})
}

// openStore selects MongoDB when a URI is configured and SQLite otherwise.
func openStore(ctx context.Context, cfg Config) (storage.Store, error) {
	if uri := strings.TrimSpace(cfg.MongoURI); uri != "" {
		store, err := mongo.Open(ctx, mongo.Config{
			URI:        uri,
			Database:   cfg.MongoDatabase,
			Collection: cfg.MongoCollection,
		})
		if err != nil {
			return nil, fmt.Errorf("open mongo annotation store: %w", err)
		}
		log.Printf("annotation store: mongo database=%s collection=%s", cfg.MongoDatabase, cfg.MongoCollection)
		return storage.Traced(store), nil
	}

	dataDir := strings.TrimSpace(cfg.DataDir)
	if dataDir == "" {
		return nil, fmt.Errorf("data dir is required when no mongo uri is configured")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, sqliteFileName)
	store, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite annotation store: %w", err)
	}
	log.Printf("annotation store: sqlite path=%s", path)
	return storage.Traced(store), nil
}
