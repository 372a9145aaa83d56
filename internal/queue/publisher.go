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

// Package queue publishes ticket lifecycle events to a Redis list for
// downstream consumers (dashboard notifications, analytics workers).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/intellidesk/helpdesk/internal/models"
)

// Lifecycle event kinds.
const (
	EventTicketCreated  = "ticket.created"
	EventTicketUpdated  = "ticket.updated"
	EventTicketResolved = "ticket.resolved"
)

// TicketEvent is the envelope pushed onto the events queue.
type TicketEvent struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	OccurredAt string         `json:"occurred_at"`
	Ticket     *models.Ticket `json:"ticket"`
	MatchedBy  string         `json:"matched_by,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
}

// Publisher sends ticket lifecycle events to Redis.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a new Redis publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// PublishTicketEvent serialises a lifecycle event and pushes it to the
// events queue. Consumers pop with BRPOP so delivery order is FIFO.
func (p *Publisher) PublishTicketEvent(ctx context.Context, kind string, ticket *models.Ticket, res models.CorrelationResult) error {
	evt := TicketEvent{
		ID:         uuid.New().String(),
		Kind:       kind,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
		Ticket:     ticket,
		MatchedBy:  res.MatchedBy,
		Confidence: res.Confidence,
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal ticket event: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, payload).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Debug("published ticket event",
		"event_id", evt.ID,
		"kind", kind,
		"ticket_id", ticket.ID,
		"queue", p.queueName,
	)

	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
