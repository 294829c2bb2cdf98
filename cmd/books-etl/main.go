package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluiziolira/books-etl/config"
	"github.com/aluiziolira/books-etl/models"
	"github.com/aluiziolira/books-etl/pipeline"
	"github.com/aluiziolira/books-etl/scraper"
	"github.com/aluiziolira/books-etl/storage"
	"github.com/mattn/go-runewidth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	defaults := config.DefaultConfig()

	configFile := flag.String("config", "", "YAML configuration file")
	target := flag.Int("target", defaults.TargetCount, "Number of books to collect")
	baseURL := flag.String("base-url", defaults.BaseURL, "Catalogue base URL")
	maxPages := flag.Int("pages", defaults.MaxPages, "Maximum catalogue pages to fetch")
	timeout := flag.Duration("timeout", defaults.Timeout, "HTTP request timeout")
	dbHost := flag.String("db-host", defaults.Database.Host, "Postgres host")
	dbName := flag.String("db-name", defaults.Database.Name, "Postgres database")
	dbUser := flag.String("db-user", defaults.Database.User, "Postgres user")
	exportFile := flag.String("export", "", "Optional snapshot file for the cleaned batch")
	exportFormat := flag.String("format", defaults.ExportFormat, "Snapshot format: csv or json")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	cfg := config.DefaultConfig()
	if *configFile != "" {
		if err := config.LoadFile(cfg, *configFile); err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	}
	if err := applyEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "target":
			cfg.TargetCount = *target
		case "base-url":
			cfg.BaseURL = *baseURL
		case "pages":
			cfg.MaxPages = *maxPages
		case "timeout":
			cfg.Timeout = *timeout
		case "db-host":
			cfg.Database.Host = *dbHost
		case "db-name":
			cfg.Database.Name = *dbName
		case "db-user":
			cfg.Database.User = *dbUser
		case "export":
			cfg.ExportFile = *exportFile
		case "format":
			cfg.ExportFormat = *exportFormat
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "v":
			cfg.Verbose = *verbose
		}
	})

	cfg.Normalize()

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("pipeline failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	collector, err := scraper.NewCollector(cfg, scraper.NewMetrics(registry))
	if err != nil {
		return fmt.Errorf("initialising collector: %w", err)
	}

	store, err := storage.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("close store", slog.Any("error", err))
		}
	}()

	opts := []pipeline.Option{pipeline.WithMetrics(pipeline.NewMetrics(registry))}
	if cfg.ExportFile != "" {
		exporter, err := pipeline.NewExporter(cfg.ExportFormat, cfg.ExportFile)
		if err != nil {
			return fmt.Errorf("creating exporter: %w", err)
		}
		defer func() {
			if err := exporter.Close(); err != nil {
				slog.Error("close exporter", slog.Any("error", err))
			}
		}()
		opts = append(opts, pipeline.WithExporter(exporter))
	}

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	slog.Info("triggering pipeline",
		slog.String("pipeline", pipeline.Name),
		slog.String("base_url", cfg.BaseURL),
		slog.Int("target", cfg.TargetCount),
	)

	runner := pipeline.NewRunner(collector, store, opts...)
	result, err := runner.Run(ctx, cfg.TargetCount)
	printSummary(result)
	if err != nil {
		return err
	}

	if result.Persisted > 0 {
		rows, err := store.Since(ctx, result.StartTime.UTC().Truncate(time.Second), 5)
		if err != nil {
			slog.Warn("read back failed", slog.Any("error", err))
		} else {
			printRows(rows)
		}
	}
	return nil
}

func applyEnv(cfg *config.Config) error {
	if value, ok, err := config.EnvInt("BOOKS_TARGET"); err != nil {
		return fmt.Errorf("invalid BOOKS_TARGET: %w", err)
	} else if ok {
		cfg.TargetCount = value
	}
	if value, ok := config.EnvString("BOOKS_BASE_URL"); ok {
		cfg.BaseURL = value
	}
	if value, ok := config.EnvString("BOOKS_DB_HOST"); ok {
		cfg.Database.Host = value
	}
	if value, ok := config.EnvString("BOOKS_DB_NAME"); ok {
		cfg.Database.Name = value
	}
	if value, ok := config.EnvString("BOOKS_DB_USER"); ok {
		cfg.Database.User = value
	}
	if value, ok := config.EnvString("BOOKS_DB_PASSWORD"); ok {
		cfg.Database.Password = value
	}
	if value, ok := config.EnvString("BOOKS_METRICS_ADDR"); ok {
		cfg.MetricsAddr = value
	}
	if value, ok := config.EnvString("BOOKS_EXPORT"); ok {
		cfg.ExportFile = value
	}
	return nil
}

func printSummary(result *models.RunResult) {
	if result == nil {
		return
	}
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Printf("Run %s of %s: %s\n", result.RunID, result.Pipeline, result.Status)
	for _, step := range result.Steps {
		line := fmt.Sprintf("  %-22s %-8s %5d items  %v", step.Name, step.Status, step.Items, step.Duration.Round(time.Millisecond))
		if step.Note != "" {
			line += "  (" + step.Note + ")"
		}
		fmt.Println(line)
	}
	fmt.Printf("  Pages:         %d\n", result.PageCount)
	fmt.Printf("  Stop reason:   %s\n", result.StopReason)
	fmt.Printf("  Duration:      %v\n", result.EndTime.Sub(result.StartTime).Round(time.Millisecond))
	fmt.Println(separator)
}

func printRows(rows []models.BookRecord) {
	const titleWidth = 40
	fmt.Printf("%-6s %s %8s %6s\n", "id", runewidth.FillRight("title", titleWidth), "price", "rating")
	for _, row := range rows {
		rating := "-"
		if row.Rating != nil {
			rating = fmt.Sprint(*row.Rating)
		}
		title := runewidth.FillRight(runewidth.Truncate(row.Title, titleWidth, "..."), titleWidth)
		fmt.Printf("%-6d %s %8s %6s\n", row.ID, title, row.Price.StringFixed(2), rating)
	}
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
