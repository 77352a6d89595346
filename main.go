// Package main is the entry point for the image edit bot.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ireland-samantha/editbot/internal/config"
	"github.com/ireland-samantha/editbot/internal/editing"
	"github.com/ireland-samantha/editbot/internal/executor"
	"github.com/ireland-samantha/editbot/internal/metrics"
	"github.com/ireland-samantha/editbot/internal/slack"
	"github.com/ireland-samantha/editbot/internal/storage"
)

var cfgFile string

func main() {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:          "editbot",
		Short:        "Slack bot that runs !edit requests through OpenAI and Gemini side by side",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-dir", "logging", "directory for conversation transcripts and images")
	flags.String("metrics-addr", "", "address to serve Prometheus metrics on, disabled when empty")
	_ = v.BindPFlag("LOG_LEVEL", flags.Lookup("log-level"))
	_ = v.BindPFlag("LOG_DIR", flags.Lookup("log-dir"))
	_ = v.BindPFlag("METRICS_ADDR", flags.Lookup("metrics-addr"))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(v *viper.Viper) error {
	// Load configuration
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}

	// Setup logger
	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting edit bot...")
	logger.Info("Configuration loaded",
		"command", cfg.Command,
		"log_dir", cfg.LogDir,
		"log_level", cfg.LogLevel,
		"openai_model", cfg.OpenAIModel,
		"openai_timeout", cfg.OpenAITimeout,
		"gemini_model", cfg.GeminiModel,
		"gemini_timeout", cfg.GeminiTimeout,
		"workers", cfg.WorkerPoolSize,
	)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsService metrics.Metrics = metrics.NewNoopMetrics()
	if cfg.MetricsAddr != "" {
		metricsService = metrics.NewMetrics()
		server := metrics.NewServer(cfg.MetricsAddr, metricsService, logger)
		go func() {
			if err := server.Run(); err != nil {
				logger.Error("Metrics server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("Failed to stop metrics server", "error", err)
			}
		}()
	}

	// Create conversation log
	conversationLog := storage.NewFileLog(cfg.LogDir)

	// Blocking provider work runs on a bounded pool
	workers := executor.NewPool(cfg.WorkerPoolSize)
	defer workers.Close()

	gemini, err := editing.NewGeminiProvider(ctx, editing.GeminiConfig{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
	}, workers, logger)
	if err != nil {
		return err
	}
	openai := editing.NewOpenAIProvider(editing.OpenAIConfig{
		APIKey: cfg.OpenAIAPIKey,
		APIURL: cfg.OpenAIBaseURL,
		Model:  cfg.OpenAIModel,
		Size:   cfg.OpenAISize,
	}, nil, logger)

	// Create Slack bot
	bot, err := slack.NewBot(ctx, cfg, logger)
	if err != nil {
		return err
	}

	orchestrator := editing.NewOrchestrator(conversationLog, metricsService, bot.Name(), logger,
		editing.Binding{Provider: gemini, Timeout: cfg.GeminiTimeout},
		editing.Binding{Provider: openai, Timeout: cfg.OpenAITimeout},
	)

	// Create message handler
	handler := slack.NewHandler(bot, conversationLog, orchestrator, metricsService, cfg.Command, bot.Name(), logger)

	// Run the bot
	logger.Info("Edit bot is running. Press Ctrl+C to stop.")
	if err := bot.Run(ctx, handler.HandleMessage); err != nil && ctx.Err() == nil {
		return fmt.Errorf("bot error: %w", err)
	}

	logger.Info("Edit bot stopped.")
	return nil
}
