// Package main provides the shopgraph CLI entry point.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shopgraph/shopgraph/pkg/catalog"
	"github.com/shopgraph/shopgraph/pkg/config"
	"github.com/shopgraph/shopgraph/pkg/etl"
	"github.com/shopgraph/shopgraph/pkg/storage"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "shopgraph",
		Short: "shopgraph - Graph-shaped product catalog store",
		Long: `shopgraph stores a product catalog as a graph: customers,
products, categories, and orders as entities, with their connections
(category membership, placed orders, line items, browsing events) as
relationships.

Identifier uniqueness, name indexing, and referential integrity are
enforced by the storage schema, applied idempotently at startup.`,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("shopgraph v%s (%s)\n", version, commit)
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a catalog database",
		Long:  "Open the data directory and apply the catalog schema. Safe to re-run.",
		RunE:  runInit,
	}
	addStorageFlags(initCmd)
	rootCmd.AddCommand(initCmd)

	etlCmd := &cobra.Command{
		Use:   "etl",
		Short: "Load a relational shop database into the catalog",
		Long: `Wait for the source Postgres to accept connections, extract the
customers, categories, products, orders, order_items, and events
tables, and load them into the catalog. Loads are upserts, so the
command converges when re-run.`,
		RunE: runETL,
	}
	addStorageFlags(etlCmd)
	etlCmd.Flags().String("pg-url", "", "Postgres source URL")
	etlCmd.Flags().Int("batch-size", 0, "Load batch size")
	etlCmd.Flags().Duration("wait-timeout", 0, "How long to wait for Postgres")
	rootCmd.AddCommand(etlCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print catalog entity and relationship counts",
		RunE:  runStats,
	}
	addStorageFlags(statsCmd)
	rootCmd.AddCommand(statsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func addStorageFlags(cmd *cobra.Command) {
	cmd.Flags().String("data-dir", "", "Data directory")
	cmd.Flags().Bool("in-memory", false, "Run without persistence")
}

// loadConfig merges file, environment, and flags, flags last.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.LoadFromEnv()
	}

	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
	}
	if cmd.Flags().Changed("in-memory") {
		cfg.InMemory, _ = cmd.Flags().GetBool("in-memory")
	}
	if cmd.Flags().Changed("pg-url") {
		cfg.PostgresURL, _ = cmd.Flags().GetString("pg-url")
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.BatchSize, _ = cmd.Flags().GetInt("batch-size")
	}
	if cmd.Flags().Changed("wait-timeout") {
		cfg.WaitTimeout, _ = cmd.Flags().GetDuration("wait-timeout")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openEngine opens the configured engine and applies the schema.
func openEngine(cfg *config.Config) (storage.Engine, error) {
	var (
		engine storage.Engine
		err    error
	)
	if cfg.InMemory {
		engine = storage.NewMemoryEngine()
	} else {
		engine, err = storage.NewBadgerEngineWithOptions(storage.BadgerOptions{
			DataDir:    cfg.DataDir,
			SyncWrites: cfg.SyncWrites,
		})
		if err != nil {
			return nil, fmt.Errorf("open storage at %s: %w", cfg.DataDir, err)
		}
	}
	if err := catalog.ApplySchema(engine); err != nil {
		engine.Close()
		return nil, err
	}
	return engine, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	engine, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	log.Printf("catalog schema applied at %s", cfg.DataDir)
	return nil
}

func runETL(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.PostgresURL == "" {
		return fmt.Errorf("postgres URL required: set --pg-url or SHOPGRAPH_POSTGRES_URL")
	}

	engine, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	result, err := etl.Run(ctx, catalog.NewStore(engine), cfg.PostgresURL, cfg.BatchSize, cfg.WaitTimeout)
	if err != nil {
		return fmt.Errorf("etl: %w", err)
	}
	log.Printf("etl complete: %d entities, %d relationships in %s",
		result.Entities, result.Relationships, time.Since(start).Round(time.Millisecond))
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	engine, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	stats, err := catalog.NewStore(engine).Stats(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Customers:     %d\n", stats.Customers)
	fmt.Printf("Products:      %d\n", stats.Products)
	fmt.Printf("Categories:    %d\n", stats.Categories)
	fmt.Printf("Orders:        %d\n", stats.Orders)
	fmt.Printf("Relationships: %d\n", stats.Relationships)
	return nil
}
