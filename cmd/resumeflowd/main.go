// resumeflowd runs the full pipeline: the HTTP claim surface, the
// queue worker pool, and the dead-letter consumer, all in one process.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"resumeflow/internal/alerts"
	"resumeflow/internal/blob"
	"resumeflow/internal/claim"
	"resumeflow/internal/config"
	"resumeflow/internal/doctext"
	"resumeflow/internal/extract"
	"resumeflow/internal/llm"
	"resumeflow/internal/logger"
	"resumeflow/internal/notify"
	"resumeflow/internal/server"
	"resumeflow/internal/store"
	"resumeflow/internal/worker"
)

func main() {
	log := logger.New(slog.LevelInfo)
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, pool, err := store.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer pool.Close()
	defer st.Close()

	if err := store.Migrate(st.DB()); err != nil {
		return err
	}
	log.Info("migrations applied")

	blobs, err := blob.NewMinioStore(cfg.Storage, log)
	if err != nil {
		return err
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		return err
	}

	journal, err := alerts.Open(cfg.Alerts.JournalPath, log)
	if err != nil {
		return err
	}
	defer journal.Close()

	notifier := notify.New(cfg.Notify, log)

	capability := llm.NewClient(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, log)
	adapter := extract.NewAdapter(capability, log)

	runner := worker.NewRunner(st, st, blobs, adapter, doctext.FromPDF, notifier, log)
	workers := worker.NewPool(st, runner, cfg.Worker.Concurrency, cfg.Worker.PollInterval, log)
	dlq := worker.NewDeadLetterConsumer(st, st, journal, 0, log)

	claims := claim.NewHandler(st, st, blobs, notifier,
		cfg.Storage.StagingPrefix, cfg.Storage.MaxUploadSize, log)
	srv := server.New(st, st, claims, notifier, st.HealthCheck, log)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		workers.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		dlq.Run(ctx)
	}()

	err = srv.ListenAndServe(ctx, cfg.Server.Addr)
	stop()
	wg.Wait()
	log.Info("shutdown complete")
	return err
}
