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

// Package ingest runs the background loop that pulls new email events
// from the mail source and drives each one through correlation and the
// ticket lifecycle. Messages within a poll cycle are processed strictly
// sequentially: resolving message N+1 must observe ticket mutations made
// for message N, so a rapid two-part email from one customer collapses
// onto one ticket.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/intellidesk/helpdesk/internal/mail"
	"github.com/intellidesk/helpdesk/internal/models"
)

// bodyStorageLimit truncates oversized bodies before they enter the
// pipeline and the store.
const bodyStorageLimit = 2000

// MailSource lists recent inbox messages, newest first.
type MailSource interface {
	FetchRecent(ctx context.Context, limit int) ([]mail.RawMessage, error)
}

// DedupFilter suppresses already-seen protocol message IDs.
type DedupFilter interface {
	IsNew(ctx context.Context, protocolMessageID string) (bool, error)
}

// Resolver decides create-vs-update for one event.
type Resolver interface {
	Resolve(ctx context.Context, event *models.EmailEvent) (models.CorrelationResult, error)
}

// Applier applies a correlation decision to the ticket store.
type Applier interface {
	CreateOrUpdate(ctx context.Context, event *models.EmailEvent, res models.CorrelationResult) (*models.Ticket, error)
}

// Poller periodically fetches new messages and feeds them through the
// pipeline.
type Poller struct {
	source     MailSource
	filter     DedupFilter
	resolver   Resolver
	applier    Applier
	interval   time.Duration
	fetchLimit int
}

// PollerConfig holds the poller's collaborators.
type PollerConfig struct {
	Source     MailSource
	Filter     DedupFilter
	Resolver   Resolver
	Applier    Applier
	Interval   time.Duration
	FetchLimit int
}

// NewPoller creates an ingestion poller.
func NewPoller(cfg PollerConfig) *Poller {
	limit := cfg.FetchLimit
	if limit <= 0 {
		limit = 25
	}
	return &Poller{
		source:     cfg.Source,
		filter:     cfg.Filter,
		resolver:   cfg.Resolver,
		applier:    cfg.Applier,
		interval:   cfg.Interval,
		fetchLimit: limit,
	}
}

// Run starts the polling loop. It blocks until the context is cancelled;
// cancellation lets in-flight work finish but prevents starting a new
// cycle, and the inter-cycle wait is interruptible.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("ingestion poller starting",
		"interval", p.interval,
		"fetch_limit", p.fetchLimit,
	)

	// Do an initial poll immediately
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("ingestion poller stopping")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll runs one ingestion cycle. Only a mail-source failure aborts the
// cycle; per-message failures are logged and the cycle continues.
func (p *Poller) poll(ctx context.Context) {
	messages, err := p.source.FetchRecent(ctx, p.fetchLimit)
	if err != nil {
		slog.Error("mail fetch failed, retrying next cycle", "error", err)
		return
	}

	if len(messages) == 0 {
		slog.Debug("no new messages")
		return
	}

	// The source returns newest first; replay oldest first so replies are
	// resolved after the messages they answer.
	for i := len(messages) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.process(ctx, messages[i])
	}
}

// process drives a single message through dedup, correlation, and the
// lifecycle controller.
func (p *Poller) process(ctx context.Context, msg mail.RawMessage) {
	isNew, err := p.filter.IsNew(ctx, msg.ProtocolID)
	if err != nil {
		// Dedup is best effort; the store's unique constraint still
		// absorbs duplicates if we proceed.
		slog.Warn("dedup check failed, processing anyway",
			"protocol_message_id", msg.ProtocolID,
			"error", err,
		)
	} else if !isNew {
		slog.Debug("skipping already-seen message", "protocol_message_id", msg.ProtocolID)
		return
	}

	event := BuildEvent(msg)

	res, err := p.resolver.Resolve(ctx, event)
	if err != nil {
		slog.Error("correlation failed",
			"protocol_message_id", msg.ProtocolID,
			"error", err,
		)
		return
	}

	ticket, err := p.applier.CreateOrUpdate(ctx, event, res)
	if err != nil {
		slog.Error("apply correlation failed",
			"protocol_message_id", msg.ProtocolID,
			"action", res.Action,
			"error", err,
		)
		return
	}

	slog.Info("email event processed",
		"protocol_message_id", msg.ProtocolID,
		"action", res.Action,
		"matched_by", res.MatchedBy,
		"confidence", res.Confidence,
		"ticket_id", ticket.ID,
	)
}

// BuildEvent converts a fetched message into the immutable EmailEvent
// the pipeline operates on, truncating oversized bodies for storage.
func BuildEvent(msg mail.RawMessage) *models.EmailEvent {
	body := msg.Body
	if runes := []rune(body); len(runes) > bodyStorageLimit {
		body = string(runes[:bodyStorageLimit])
	}

	return &models.EmailEvent{
		ProtocolMessageID: msg.ProtocolID,
		InReplyTo:         msg.InReplyTo,
		References:        msg.References,
		FromEmail:         msg.FromEmail,
		FromName:          msg.FromName,
		Subject:           msg.Subject,
		Body:              body,
		ReceivedAt:        msg.ReceivedAt,
	}
}
