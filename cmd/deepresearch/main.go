// Package main provides the entry point for the deep research service
// @title Deep Research Memory API
// @version 1.0.0
// @description Memory-augmented research assistant with streaming and graph answers
// @BasePath /
// @schemes http https
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/memtensor/deepresearch/api"
	"github.com/memtensor/deepresearch/pkg/config"
	"github.com/memtensor/deepresearch/pkg/interfaces"
	"github.com/memtensor/deepresearch/pkg/logger"
	"github.com/memtensor/deepresearch/pkg/metrics"
)

// Version information (set by build process)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Command line flags
var (
	configFile  = flag.String("config", "", "Path to configuration file (JSON or YAML)")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFile     = flag.String("log-file", "", "Log file path (default: stderr)")
	showVersion = flag.Bool("version", false, "Show version information")
	apiMode     = flag.Bool("api", false, "Run in API server mode")
	topology    = flag.String("topology", "", "Pipeline topology (linear, supervisor)")
	userID      = flag.String("user", "default-user", "User ID for one-shot commands")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("deepresearch %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("Application failed: %v", err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: deepresearch [flags] <command> [args]

Commands:
  ask <prompt>      stream an answer from the single-pass agent
  answer <prompt>   run the pipeline graph and print the final state as JSON
  history           print the recent conversation turns of -user
  memories          print every memory of -user

Flags:
`)
	flag.PrintDefaults()
}

func run(ctx context.Context) error {
	cm, err := config.NewConfigManager(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := cm.Current()
	if err := applyFlags(cfg); err != nil {
		return err
	}

	lg, err := initializeLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if zl, ok := lg.(*logger.ZapLogger); ok {
		defer func() { _ = zl.Sync() }()
	}

	lg.Info("Starting deepresearch", map[string]interface{}{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
		"topology":   cfg.Pipeline.Topology,
	})

	m := initializeMetrics(cfg)

	app, err := newApp(ctx, cfg, lg, m)
	if err != nil {
		return err
	}
	defer app.Close()

	if *apiMode {
		return runAPIServer(ctx, cm, app)
	}
	return runCLIMode(ctx, app, flag.Args())
}

// applyFlags overrides the loaded configuration with flags given explicitly
func applyFlags(cfg *config.AppConfig) error {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["log-level"] {
		cfg.LogLevel = *logLevel
	}
	if set["log-file"] {
		cfg.LogFile = *logFile
	}
	if set["topology"] {
		cfg.Pipeline.Topology = *topology
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func initializeLogger(cfg *config.AppConfig) (interfaces.Logger, error) {
	if cfg.LogFile != "" {
		return logger.NewFileLogger(cfg.LogLevel, cfg.LogFile)
	}
	return logger.NewConsoleLogger(cfg.LogLevel), nil
}

func initializeMetrics(cfg *config.AppConfig) interfaces.Metrics {
	if !cfg.MetricsEnabled {
		return metrics.NewNoOpMetrics()
	}
	return metrics.NewPrometheusMetrics()
}

func runAPIServer(ctx context.Context, cm *config.ConfigManager, app *App) error {
	api.Version = Version
	server := api.NewServer(app.Service, app.Config, app.Logger, app.Metrics)
	server.AddHealthCheck("llm", app.Models)

	if *configFile != "" {
		err := cm.Watch(ctx, func(next *config.AppConfig) {
			app.Logger.Info("Configuration file changed; restart to apply", map[string]interface{}{
				"file":     *configFile,
				"topology": next.Pipeline.Topology,
			})
		}, func(err error) {
			app.Logger.Warn("Ignoring invalid configuration change", map[string]interface{}{"error": err.Error()})
		})
		if err != nil {
			app.Logger.Warn("Configuration watch disabled", map[string]interface{}{"error": err.Error()})
		}
	}

	return server.Start(ctx)
}
