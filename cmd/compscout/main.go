package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/compscout/compscout/config"
	"github.com/compscout/compscout/internal/extract"
	"github.com/compscout/compscout/internal/fetch"
	"github.com/compscout/compscout/internal/fetchcache"
	"github.com/compscout/compscout/internal/ingest"
	srv "github.com/compscout/compscout/internal/server"
	"github.com/compscout/compscout/internal/source"
	"github.com/compscout/compscout/internal/store"
	"github.com/compscout/compscout/internal/throttle"
)

func main() {
	var configPath string
	root := &cobra.Command{Use: "compscout"}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	var serveAddr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server and refresh scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(configPath)
			return srv.Run(cfg, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")

	var migDir string
	var direction string
	var steps int
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(configPath)
			dsn := os.Getenv("DATABASE_URL")
			if dsn == "" {
				dsn = cfg.Storage.Postgres.DSN()
			}
			return srv.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrateCmd.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source")
	migrateCmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrateCmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	var mk, model, zip string
	var year, radius int
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one valuation ingest from the command line",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(configPath)

			db, err := sql.Open("postgres", cfg.Storage.Postgres.DSN())
			if err != nil {
				return fmt.Errorf("open postgres: %w", err)
			}
			defer db.Close()
			st := store.New(db)

			policies := source.NewRegistry(cfg.Sources, cfg.Ingest)
			pageFetcher := fetch.NewPageFetcher(
				policies,
				throttle.NewRegistry(),
				fetchcache.NewMemory(),
				fetch.NewHTTPFetcher(cfg.Ingest.FetchTimeout, cfg.Ingest.FetchRetries),
				fetch.NewRenderedFetcher(cfg.Ingest.FetchTimeout),
				cfg.Ingest.MaxStructuredBlocks,
			)
			extractor := extract.NewLLMExtractor(extract.NewOpenAIProvider(cfg.LLM))
			agent := ingest.NewAgent(policies, pageFetcher, extractor, st, cfg.Ingest, cfg.LLM.CompletionModel)

			result, runErr := agent.Run(context.Background(), source.VehicleQuery{
				Make: mk, Model: model, Year: year, Zip: zip, RadiusMiles: radius,
			})
			out, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(out))
			return runErr
		},
	}
	ingestCmd.Flags().StringVar(&mk, "make", "", "vehicle make")
	ingestCmd.Flags().StringVar(&model, "model", "", "vehicle model")
	ingestCmd.Flags().IntVar(&year, "year", 0, "model year (0 = any)")
	ingestCmd.Flags().StringVar(&zip, "zip", "", "5-digit zip")
	ingestCmd.Flags().IntVar(&radius, "radius", 0, "radius in miles")

	root.AddCommand(serve, migrateCmd, ingestCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
