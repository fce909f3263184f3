package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/fakturace/fakturace/cmd/fakturace-cli/cli"
	"github.com/fakturace/fakturace/internal/app"
	"github.com/fakturace/fakturace/internal/ares"
	"github.com/fakturace/fakturace/internal/extraction"
	"github.com/fakturace/fakturace/internal/llm"
	"github.com/fakturace/fakturace/internal/platform/cache"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: load .env: %v\n", err)
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(cli.Deps{
		Extractor: func() (cli.Extractor, error) {
			completer := llm.NewOpenAI(llm.OpenAIConfig{
				APIKey:      cfg.OpenAIAPIKey,
				BaseURL:     cfg.OpenAIBaseURL,
				Model:       cfg.OpenAIModel,
				VisionModel: cfg.OpenAIVisionModel,
				Timeout:     cfg.LLMTimeout,
			}, logger)
			return extraction.New(extraction.Config{Completer: completer, Logger: logger}), nil
		},
		Registry: func() (cli.Registry, error) {
			var jsonCache *cache.JSONCache
			if client, err := cache.New(ctx, cfg.RedisAddr); err == nil {
				jsonCache = cache.NewJSONCache(client, "ares", cfg.ARESCacheTTL).WithLogger(logger)
			} else {
				logger.Debug("ares cache disabled", slog.Any("error", err))
			}
			return ares.NewClient(ares.Config{BaseURL: cfg.ARESBaseURL, Timeout: cfg.ARESTimeout}, jsonCache, logger), nil
		},
		Queue: func() (cli.Queue, error) {
			return cli.NewJobsCLI(cfg.RedisAddr), nil
		},
	})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
