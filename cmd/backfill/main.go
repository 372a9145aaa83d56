// Copyright (c) 2026 IntelliDesk Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// IntelliDesk Historical Backfill Command
//
// Standalone CLI tool that imports historical emails from the support
// mailbox within a configurable date range, running each message through
// the same correlation and lifecycle pipeline as live ingestion.
// Intended for seeding data on new deployments.
//
// Usage:
//
//	go run ./cmd/backfill/ [--since 168h] [--page-size 50]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/intellidesk/helpdesk/internal/backfill"
	"github.com/intellidesk/helpdesk/internal/config"
	"github.com/intellidesk/helpdesk/internal/correlate"
	"github.com/intellidesk/helpdesk/internal/dedup"
	"github.com/intellidesk/helpdesk/internal/knowledge"
	"github.com/intellidesk/helpdesk/internal/lifecycle"
	"github.com/intellidesk/helpdesk/internal/llm"
	"github.com/intellidesk/helpdesk/internal/mail"
	"github.com/intellidesk/helpdesk/internal/store"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	sinceFlag := flag.String("since", "168h", "Lookback duration (e.g. 168h for 1 week, 720h for 30 days)")
	pageSizeFlag := flag.Int("page-size", 50, "Messages per provider page")
	flag.Parse()

	sinceDuration, err := time.ParseDuration(*sinceFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid --since duration %q: %v\n", *sinceFlag, err)
		os.Exit(1)
	}

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file, using environment variables")
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	filter := dedup.NewFilter(rdb)

	tickets, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise ticket store", "error", err)
		os.Exit(1)
	}

	// --- Mail provider client ---
	creds := &clientcredentials.Config{
		ClientID:     cfg.Mail.ClientID,
		ClientSecret: cfg.Mail.ClientSecret,
		TokenURL:     cfg.Mail.ResolveTokenURL(),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	mailClient := creds.Client(ctx)

	fetcher := mail.NewFetcher(mailClient, cfg.Mail.BaseURL, cfg.Mail.Mailbox)
	sender := mail.NewSender(mailClient, cfg.Mail.BaseURL, cfg.Mail.Mailbox)

	// --- LLM + Similarity Oracle ---
	llmClient := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)

	openaiCfg := openai.DefaultConfig(cfg.LLM.APIKey)
	if cfg.LLM.BaseURL != "" {
		openaiCfg.BaseURL = cfg.LLM.BaseURL
	}
	embedder := openai.NewClientWithConfig(openaiCfg)

	chunks, err := knowledge.NewChunkStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise knowledge store", "error", err)
		os.Exit(1)
	}
	oracle := knowledge.NewOracle(embedder, cfg.LLM.EmbeddingModel, chunks, rdb)

	engine := correlate.NewEngine(tickets, oracle)
	controller := lifecycle.NewController(lifecycle.ControllerConfig{
		Store:      tickets,
		Attacher:   engine,
		Classifier: llmClient,
		Generator:  llmClient,
		Oracle:     oracle,
		Sender:     sender,
	})

	runner := backfill.NewRunner(backfill.RunnerConfig{
		Fetcher:  fetcher,
		Filter:   filter,
		Resolver: engine,
		Applier:  controller,
	})

	result, err := runner.Run(ctx, sinceDuration, *pageSizeFlag)
	if err != nil {
		slog.Error("backfill failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Backfill complete: %d fetched, %d created, %d updated, %d skipped, %d errors in %s\n",
		result.Fetched, result.Created, result.Updated, result.Skipped, result.Errors, result.Elapsed.Round(time.Second))
}
