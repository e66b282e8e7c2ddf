package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"resumeflow/internal/config"
	"resumeflow/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "resumectl",
	Short: "Operator CLI for the resumeflow pipeline",
	Long: `resumectl inspects and manages the resumeflow document pipeline.

Common workflows:

  Inspect a job:
    resumectl job status <job-id>

  Retry a failed job:
    resumectl job retry <job-id>

  List an owner's jobs:
    resumectl job list <owner-id>

  Inspect the dead-letter queue:
    resumectl dlq list

  Export an owner's job history to XLSX:
    resumectl export <owner-id> --out jobs.xlsx

Configuration:
  RESUMEFLOW_DB_URL    Postgres connection string (or --db-url)`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("db-url", "", "Postgres connection string")
	viper.BindPFlag("db_url", rootCmd.PersistentFlags().Lookup("db-url"))
}

func initConfig() {
	viper.SetEnvPrefix("RESUMEFLOW")
	viper.AutomaticEnv()
}

// openStore connects using the flag/env DSN. Callers close the pool.
func openStore(ctx context.Context) (*store.Store, func(), error) {
	dsn := viper.GetString("db_url")
	if dsn == "" {
		return nil, nil, fmt.Errorf("database connection string required (--db-url or RESUMEFLOW_DB_URL)")
	}
	cfg := config.Load().Database
	cfg.DSN = dsn

	quiet := slog.New(slog.DiscardHandler)
	s, pool, err := store.Open(ctx, cfg, quiet)
	if err != nil {
		return nil, nil, err
	}
	return s, func() {
		s.Close()
		pool.Close()
	}, nil
}
