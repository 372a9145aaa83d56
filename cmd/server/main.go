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

// IntelliDesk Helpdesk Backend
//
// Entry point for the helpdesk service. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL and Redis
//  3. Builds the mail, classifier, and similarity-oracle clients
//  4. Starts the email ingestion poller (fetch → correlate → lifecycle)
//  5. Serves the operator HTTP API
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/intellidesk/helpdesk/internal/api"
	"github.com/intellidesk/helpdesk/internal/config"
	"github.com/intellidesk/helpdesk/internal/correlate"
	"github.com/intellidesk/helpdesk/internal/dedup"
	"github.com/intellidesk/helpdesk/internal/ingest"
	"github.com/intellidesk/helpdesk/internal/knowledge"
	"github.com/intellidesk/helpdesk/internal/lifecycle"
	"github.com/intellidesk/helpdesk/internal/llm"
	"github.com/intellidesk/helpdesk/internal/mail"
	"github.com/intellidesk/helpdesk/internal/queue"
	"github.com/intellidesk/helpdesk/internal/store"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting IntelliDesk helpdesk service")

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file, using environment variables")
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"mailbox", cfg.Mail.Mailbox,
		"poll_interval", cfg.PollInterval,
		"fetch_limit", cfg.FetchLimit,
	)

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
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := queue.NewPublisher(rdb, cfg.EventsQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Dedup Filter ---
	filter := dedup.NewFilter(rdb)

	// --- Ticket Store ---
	tickets, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise ticket store", "error", err)
		os.Exit(1)
	}

	// --- Mail provider client (OAuth2 client credentials) ---
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

	// --- Correlation Engine + Lifecycle Controller ---
	engine := correlate.NewEngine(tickets, oracle)

	controller := lifecycle.NewController(lifecycle.ControllerConfig{
		Store:      tickets,
		Attacher:   engine,
		Classifier: llmClient,
		Generator:  llmClient,
		Oracle:     oracle,
		Sender:     sender,
		Events:     publisher,
	})

	// --- Ingestion Poller ---
	poller := ingest.NewPoller(ingest.PollerConfig{
		Source:     fetcher,
		Filter:     filter,
		Resolver:   engine,
		Applier:    controller,
		Interval:   cfg.PollInterval,
		FetchLimit: cfg.FetchLimit,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()

	// --- HTTP API ---
	handler := api.NewHandler(tickets, controller, oracle, func(ctx context.Context) error {
		if err := publisher.Ping(ctx); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
		if err := pgPool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres unhealthy: %w", err)
		}
		return nil
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler.Mux(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Stop the ingestion poller

		wg.Wait() // Let the in-flight cycle finish

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("helpdesk service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("helpdesk service stopped")
}
