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

package correlate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/intellidesk/helpdesk/internal/models"
)

const (
	// recentWindow bounds the fuzzy/semantic layer: tickets whose last
	// activity is older are skipped entirely, not deprioritised.
	recentWindow = 72 * time.Hour

	// groupingWindow is the tighter bound for temporal grouping of rapid
	// follow-ups whose subjects share nothing with the original.
	groupingWindow = 48 * time.Hour

	fuzzyThreshold    = 0.85
	semanticThreshold = 0.85
	groupingThreshold = 0.75

	// candidateLimit caps how many of the sender's recent tickets are
	// considered per resolution.
	candidateLimit = 10

	similarityExcerptLen = 500
	groupingExcerptLen   = 300
)

// TicketSource is the slice of the ticket store the engine reads from and
// attaches through.
type TicketSource interface {
	FindTicketIDByProtocolIDs(ctx context.Context, ids []string) (ticketID int64, found bool, err error)
	GetTicket(ctx context.Context, id int64) (*models.Ticket, error)
	FindRecentOpenTicketsForSender(ctx context.Context, email string, limit int) ([]models.Ticket, error)
	InsertTicketMessage(ctx context.Context, m models.TicketMessage) (inserted bool, err error)
	TouchTicket(ctx context.Context, id int64, at time.Time) error
}

// SimilarityScorer computes text similarity on a 0–1 scale.
type SimilarityScorer interface {
	Similarity(ctx context.Context, a, b string) (float64, error)
}

// Engine resolves inbound email events against the ticket store.
// Resolve never mutates state; Attach is the single mutating operation
// on the matching path.
type Engine struct {
	store  TicketSource
	oracle SimilarityScorer
	fuzzy  *metrics.Levenshtein
	now    func() time.Time
}

// NewEngine creates a correlation engine over the given store and
// similarity oracle.
func NewEngine(store TicketSource, oracle SimilarityScorer) *Engine {
	return &Engine{
		store:  store,
		oracle: oracle,
		fuzzy:  metrics.NewLevenshtein(),
		now:    time.Now,
	}
}

// Resolve decides whether event joins an existing ticket or starts a new
// one. Layers are evaluated in fixed priority order and the first match
// short-circuits the rest; header and explicit-reference matches are
// trusted unconditionally, heuristic layers are bounded by recency.
// Deterministic given the current store contents.
func (e *Engine) Resolve(ctx context.Context, event *models.EmailEvent) (models.CorrelationResult, error) {
	// Layer 1: protocol reply-chain headers.
	if res, ok, err := e.matchHeaders(ctx, event); err != nil {
		return models.CorrelationResult{}, err
	} else if ok {
		return res, nil
	}

	// Layer 2: explicit ticket references in subject or body.
	if res, ok, err := e.matchExplicitRef(ctx, event); err != nil {
		return models.CorrelationResult{}, err
	} else if ok {
		return res, nil
	}

	// Layers 3 and 4 need a sender to scope candidates; without one the
	// candidate set is empty by definition.
	if event.FromEmail != "" {
		candidates, err := e.store.FindRecentOpenTicketsForSender(ctx, event.FromEmail, candidateLimit)
		if err != nil {
			return models.CorrelationResult{}, fmt.Errorf("load sender candidates: %w", err)
		}

		if res, ok := e.matchRecentSender(ctx, event, candidates); ok {
			return res, nil
		}
		if res, ok := e.matchTemporalGrouping(ctx, event, candidates); ok {
			return res, nil
		}
	}

	return models.CorrelationResult{
		Action:     models.ActionCreate,
		MatchedBy:  models.MatchedByNone,
		Confidence: 0.0,
	}, nil
}

// matchHeaders checks In-Reply-To and References against stored thread
// messages. A hit is authoritative: confidence 1.0.
func (e *Engine) matchHeaders(ctx context.Context, event *models.EmailEvent) (models.CorrelationResult, bool, error) {
	var ids []string
	if event.InReplyTo != "" {
		ids = append(ids, event.InReplyTo)
	}
	for _, ref := range event.References {
		if ref != "" {
			ids = append(ids, ref)
		}
	}
	if len(ids) == 0 {
		return models.CorrelationResult{}, false, nil
	}

	ticketID, found, err := e.store.FindTicketIDByProtocolIDs(ctx, ids)
	if err != nil {
		return models.CorrelationResult{}, false, fmt.Errorf("header lookup: %w", err)
	}
	if !found {
		return models.CorrelationResult{}, false, nil
	}

	return models.CorrelationResult{
		Action:     models.ActionUpdate,
		TicketID:   ticketID,
		MatchedBy:  models.MatchedByHeaders,
		Confidence: 1.0,
	}, true, nil
}

// matchExplicitRef resolves #123 / Ticket-123 / INC123 mentions. The
// extracted references are checked in ascending numeric order and the
// first one naming an existing ticket wins.
func (e *Engine) matchExplicitRef(ctx context.Context, event *models.EmailEvent) (models.CorrelationResult, bool, error) {
	refs := ExtractTicketRefs(event.Subject)
	refs = append(refs, ExtractTicketRefs(event.Body)...)

	seen := make(map[int64]bool, len(refs))
	ids := make([]int64, 0, len(refs))
	for _, ref := range refs {
		id, err := strconv.ParseInt(ref, 10, 64)
		if err != nil || id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		ticket, err := e.store.GetTicket(ctx, id)
		if err != nil {
			return models.CorrelationResult{}, false, fmt.Errorf("explicit ref lookup: %w", err)
		}
		if ticket == nil {
			continue
		}

		return models.CorrelationResult{
			Action:     models.ActionUpdate,
			TicketID:   ticket.ID,
			MatchedBy:  models.MatchedByExplicitRef,
			Confidence: 1.0,
		}, true, nil
	}

	return models.CorrelationResult{}, false, nil
}

// matchRecentSender runs the fuzzy-subject and semantic checks over the
// sender's candidates within the 72h window. Candidates are evaluated in
// recency order and the first one clearing either threshold wins: a
// greedy match, not a globally optimal one. Oracle failures degrade to
// "no match" for that candidate.
func (e *Engine) matchRecentSender(ctx context.Context, event *models.EmailEvent, candidates []models.Ticket) (models.CorrelationResult, bool) {
	normSubject := NormalizeSubject(event.Subject)
	now := e.now()

	for i := range candidates {
		ticket := &candidates[i]

		lastActive, ok := ticket.LastActive()
		if !ok {
			// Unusable timestamps make the recency bound undecidable;
			// skip the candidate rather than fail the resolution.
			continue
		}
		if now.Sub(lastActive) > recentWindow {
			continue
		}

		ratio := strutil.Similarity(normSubject, NormalizeSubject(ticket.Title), e.fuzzy)
		if ratio >= fuzzyThreshold {
			return models.CorrelationResult{
				Action:     models.ActionUpdate,
				TicketID:   ticket.ID,
				MatchedBy:  models.MatchedByFuzzy,
				Confidence: ratio,
			}, true
		}

		score, err := e.oracle.Similarity(ctx,
			normSubject+" "+excerpt(event.Body, similarityExcerptLen),
			ticket.Title+" "+ticket.Description,
		)
		if err != nil {
			slog.Warn("similarity oracle failed, skipping candidate",
				"ticket_id", ticket.ID,
				"error", err,
			)
			continue
		}
		if score >= semanticThreshold {
			return models.CorrelationResult{
				Action:     models.ActionUpdate,
				TicketID:   ticket.ID,
				MatchedBy:  models.MatchedBySemantic,
				Confidence: score,
			}, true
		}
	}

	return models.CorrelationResult{}, false
}

// matchTemporalGrouping re-scans the candidate set under the tighter 48h
// bound with a lower semantic bar. Catches rapid follow-ups with
// unrelated subject lines ("it's broken" → "nvm fixed it").
func (e *Engine) matchTemporalGrouping(ctx context.Context, event *models.EmailEvent, candidates []models.Ticket) (models.CorrelationResult, bool) {
	normSubject := NormalizeSubject(event.Subject)
	current := normSubject + " " + excerpt(event.Body, groupingExcerptLen)
	now := e.now()

	for i := range candidates {
		ticket := &candidates[i]

		lastActive, ok := ticket.LastActive()
		if !ok {
			continue
		}
		if now.Sub(lastActive) > groupingWindow {
			continue
		}

		target := ticket.Title + " " + excerpt(ticket.Description, groupingExcerptLen)
		score, err := e.oracle.Similarity(ctx, current, target)
		if err != nil {
			slog.Warn("similarity oracle failed, skipping candidate",
				"ticket_id", ticket.ID,
				"error", err,
			)
			continue
		}
		if score >= groupingThreshold {
			return models.CorrelationResult{
				Action:     models.ActionUpdate,
				TicketID:   ticket.ID,
				MatchedBy:  models.MatchedByTemporal,
				Confidence: score,
			}, true
		}
	}

	return models.CorrelationResult{}, false
}

// Attach durably appends event to the ticket's thread. Idempotent on the
// protocol message ID: re-delivery of an already-stored message is a
// no-op. This is the only state-mutating operation on the matching path.
func (e *Engine) Attach(ctx context.Context, ticketID int64, event *models.EmailEvent) error {
	if ticketID <= 0 {
		// Engine bug, not an environmental failure.
		return fmt.Errorf("attach: invalid ticket id %d", ticketID)
	}

	receivedAt := event.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = e.now().UTC()
	}

	inserted, err := e.store.InsertTicketMessage(ctx, models.TicketMessage{
		TicketID:          ticketID,
		ProtocolMessageID: event.ProtocolMessageID,
		Sender:            event.FromEmail,
		Subject:           event.Subject,
		Body:              event.Body,
		ReceivedAt:        receivedAt,
	})
	if err != nil {
		return fmt.Errorf("attach message: %w", err)
	}

	if !inserted {
		slog.Debug("duplicate message absorbed",
			"ticket_id", ticketID,
			"protocol_message_id", event.ProtocolMessageID,
		)
		return nil
	}

	if err := e.store.TouchTicket(ctx, ticketID, receivedAt); err != nil {
		return fmt.Errorf("touch ticket after attach: %w", err)
	}
	return nil
}

// excerpt returns at most n runes of s.
func excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
