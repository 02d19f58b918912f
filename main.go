package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/JonMunkholm/QueryGenie/internal/genie"
	"github.com/JonMunkholm/QueryGenie/internal/llm"
	"github.com/JonMunkholm/QueryGenie/internal/storage"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	defaultAddr  = ":8080"
	storeTimeout = 10 * time.Second
)

var (
	storeURL    string
	storeDriver string
	addr        string
)

var rootCmd = &cobra.Command{
	Use:   "querygenie",
	Short: "Generate SQL or Rails queries from a pasted schema with an LLM",
	Long: `QueryGenie turns a CREATE TABLE schema and a plain-language request into a
SQL statement or a Rails Active Record expression.

Examples:

  querygenie                                   # serve the web UI on :8080
  querygenie schema import db/structure.sql
  querygenie generate --prompt "list all organizations"
  querygenie generate --style rails --prompt "users created this week"
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeURL, "store", "", "Settings store URL (default: $STORE_URL or "+storage.DefaultURL+")")
	rootCmd.PersistentFlags().StringVar(&storeDriver, "store-driver", "", "database/sql driver for postgres stores: postgres or pgx (default: $STORE_DRIVER)")
	rootCmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default: $ADDR or "+defaultAddr+")")

	serveCmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default: $ADDR or "+defaultAddr+")")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(schemaCmd)
}

func main() {
	_ = godotenv.Load() // loads .env if present, silently ignores if not

	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "✗", err)
		os.Exit(1)
	}
}

// openStore opens the settings store named by flags or environment.
func openStore() (storage.Store, error) {
	url := storeURL
	if url == "" {
		url = env("STORE_URL", storage.DefaultURL)
	}
	driver := storeDriver
	if driver == "" {
		driver = env("STORE_DRIVER", "postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	store, err := storage.Open(ctx, url, driver)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

// newService wires a generation service to the configured store and provider.
func newService() (*genie.Service, storage.Store, error) {
	store, err := openStore()
	if err != nil {
		return nil, nil, err
	}

	cfg := llm.ConfigFromEnv()
	if cfg.APIKey == "" {
		log.Printf("LLM_API_KEY not set; the key must be saved through the UI or 'querygenie key set'")
	}
	return genie.NewService(store, cfg), store, nil
}

func env(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
