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

// Package backfill imports a historical mailbox backlog by paging through
// the provider's message list oldest first and running every message
// through the identical correlation → lifecycle pipeline the live poller
// uses. Dedup and the store's idempotent attach make re-runs safe.
package backfill

import (
	"context"
	"log/slog"
	"time"

	"github.com/intellidesk/helpdesk/internal/ingest"
	"github.com/intellidesk/helpdesk/internal/mail"
	"github.com/intellidesk/helpdesk/internal/models"
)

// Result summarises a completed backfill run.
type Result struct {
	Fetched int
	Created int
	Updated int
	Skipped int
	Errors  int
	Elapsed time.Duration
}

// Runner performs historical mailbox import.
type Runner struct {
	fetcher   *mail.Fetcher
	filter    ingest.DedupFilter
	resolver  ingest.Resolver
	applier   ingest.Applier
	pageDelay time.Duration // delay between pages to avoid throttling
}

// RunnerConfig holds dependencies for the backfill runner.
type RunnerConfig struct {
	Fetcher   *mail.Fetcher
	Filter    ingest.DedupFilter
	Resolver  ingest.Resolver
	Applier   ingest.Applier
	PageDelay time.Duration
}

// NewRunner creates a backfill runner.
func NewRunner(cfg RunnerConfig) *Runner {
	delay := cfg.PageDelay
	if delay == 0 {
		delay = 500 * time.Millisecond
	}
	return &Runner{
		fetcher:   cfg.Fetcher,
		filter:    cfg.Filter,
		resolver:  cfg.Resolver,
		applier:   cfg.Applier,
		pageDelay: delay,
	}
}

// Run imports all messages received within the lookback window.
func (r *Runner) Run(ctx context.Context, since time.Duration, pageSize int) (*Result, error) {
	start := time.Now()
	sinceTime := time.Now().UTC().Add(-since)

	slog.Info("starting historical backfill",
		"since", sinceTime.Format(time.RFC3339),
		"page_size", pageSize,
	)

	result := &Result{}

	pageURL := r.fetcher.ListSinceURL(sinceTime, pageSize)
	for pageURL != "" {
		select {
		case <-ctx.Done():
			result.Elapsed = time.Since(start)
			return result, ctx.Err()
		default:
		}

		page, err := r.fetcher.FetchPage(ctx, pageURL)
		if err != nil {
			result.Elapsed = time.Since(start)
			return result, err
		}

		for _, msg := range page.Messages {
			r.processMessage(ctx, msg, result)
		}

		pageURL = page.NextLink
		if pageURL != "" {
			time.Sleep(r.pageDelay)
		}
	}

	result.Elapsed = time.Since(start)
	slog.Info("backfill complete",
		"fetched", result.Fetched,
		"created", result.Created,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"errors", result.Errors,
		"elapsed", result.Elapsed,
	)

	return result, nil
}

func (r *Runner) processMessage(ctx context.Context, msg mail.RawMessage, result *Result) {
	result.Fetched++

	isNew, err := r.filter.IsNew(ctx, msg.ProtocolID)
	if err != nil {
		slog.Warn("dedup check failed, processing anyway",
			"protocol_message_id", msg.ProtocolID,
			"error", err,
		)
	} else if !isNew {
		result.Skipped++
		return
	}

	event := ingest.BuildEvent(msg)

	res, err := r.resolver.Resolve(ctx, event)
	if err != nil {
		slog.Error("backfill: correlation failed",
			"protocol_message_id", msg.ProtocolID,
			"error", err,
		)
		result.Errors++
		return
	}

	if _, err := r.applier.CreateOrUpdate(ctx, event, res); err != nil {
		slog.Error("backfill: apply failed",
			"protocol_message_id", msg.ProtocolID,
			"error", err,
		)
		result.Errors++
		return
	}

	switch res.Action {
	case models.ActionCreate:
		result.Created++
	default:
		result.Updated++
	}
}
