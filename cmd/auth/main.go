// Command auth manages the API keys served by the postgres key store.
//
// Usage:
//
//	auth create  --name "my-app" [--expires-in 720h]
//	auth revoke  --key <raw-key>
//	auth list
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults are used when empty)")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := apikey.NewPostgresStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		slog.Error("failed to prepare api_keys table", "error", err)
		os.Exit(1)
	}

	switch args[0] {
	case "create":
		cmdCreate(ctx, store, args[1:])
	case "revoke":
		cmdRevoke(ctx, store, args[1:])
	case "list":
		cmdList(ctx, store)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func cmdCreate(ctx context.Context, store *apikey.PostgresStore, args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "", "name for the api key")
	expiresIn := fs.Duration("expires-in", 0, "expiry duration, e.g. 720h (optional)")
	fs.Parse(args)

	if *name == "" {
		fmt.Fprintln(os.Stderr, "error: --name is required")
		os.Exit(1)
	}

	var expiresAt *time.Time
	if *expiresIn > 0 {
		t := time.Now().Add(*expiresIn)
		expiresAt = &t
	}

	key, err := store.CreateKey(ctx, *name, expiresAt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("API key created. It is shown once; store it now.")
	fmt.Println()
	fmt.Printf("  Key:      %s\n", key)
	fmt.Printf("  Name:     %s\n", *name)
	if expiresAt != nil {
		fmt.Printf("  Expires:  %s\n", expiresAt.Format(time.RFC3339))
	} else {
		fmt.Println("  Expires:  never")
	}
	fmt.Println()
	fmt.Printf("Use it as:  curl -H 'X-API-Key: %s' ...\n", key)
}

func cmdRevoke(ctx context.Context, store *apikey.PostgresStore, args []string) {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	key := fs.String("key", "", "raw api key to revoke")
	fs.Parse(args)

	if *key == "" {
		fmt.Fprintln(os.Stderr, "error: --key is required")
		os.Exit(1)
	}
	if err := store.RevokeKey(ctx, *key); err != nil {
		fmt.Fprintf(os.Stderr, "failed to revoke key: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("API key revoked.")
}

func cmdList(ctx context.Context, store *apikey.PostgresStore) {
	keys, err := store.ListKeys(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list keys: %v\n", err)
		os.Exit(1)
	}
	if len(keys) == 0 {
		fmt.Println("No active API keys.")
		return
	}

	fmt.Printf("%-36s  %-20s  %-20s  %s\n", "ID", "Name", "Created", "Expires")
	for _, k := range keys {
		expires := "never"
		if k.ExpiresAt != nil {
			expires = k.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Printf("%-36s  %-20s  %-20s  %s\n", k.ID, k.Name, k.CreatedAt.Format(time.DateTime), expires)
	}
	fmt.Printf("\nTotal: %d active key(s)\n", len(keys))
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: auth [-config file] <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  create   Create a new API key")
	fmt.Fprintln(os.Stderr, "  revoke   Revoke an existing API key")
	fmt.Fprintln(os.Stderr, "  list     List active API keys")
}
