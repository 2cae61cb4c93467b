package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docrag/internal/cli"
	"docrag/internal/indexer"
	"docrag/internal/logger"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file (default ./docrag.yaml or ~/.config/docrag/config.yaml)")
	documentRoot := flag.String("root", "", "Override the document root")
	persistDir := flag.String("persist-dir", "", "Override the index directory")
	maxConcurrent := flag.Int("max-concurrent", 0, "Maximum concurrent embedding requests")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := cli.LoadConfig(*configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if *documentRoot != "" {
		cfg.DocumentRoot = *documentRoot
	}
	if *persistDir != "" {
		cfg.Index.PersistDir = *persistDir
	}
	if *maxConcurrent > 0 {
		cfg.Ollama.MaxConcurrent = *maxConcurrent
	}
	level := cfg.Log.Level
	if *logLevel != "" {
		level = *logLevel
	}
	logger.SetupLogger(level, cfg.Log.JSON)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := cli.NewApp(ctx, cfg)
	if err != nil {
		logger.Error("Failed to set up services", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	logger.Info("Building index", "root", cfg.DocumentRoot, "backend", cfg.Index.Backend,
		"model", cfg.Ollama.EmbeddingModel)

	start := time.Now()
	report, err := cli.RunIndex(ctx, app, indexer.WithProgress(func(p indexer.Progress) {
		logger.Debug("Stage", "stage", p.Stage, "done", p.Done, "total", p.Total)
	}))
	if err != nil {
		logger.Error("Index build failed", "error", err, "elapsed", time.Since(start).Round(time.Millisecond))
		app.Close()
		os.Exit(1)
	}

	cli.PrintReport(os.Stdout, report)
}
