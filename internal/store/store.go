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

// Package store provides the Postgres-backed ticket store: durable tickets,
// their attached email messages, and the row-level update semantics the
// ingestion and request paths rely on for concurrent writes.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intellidesk/helpdesk/internal/models"
)

// Store provides CRUD operations for tickets and ticket messages.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a ticket store backed by the given Postgres pool.
// It ensures the schema exists on creation.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure ticket schema: %w", err)
	}
	slog.Info("ticket store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tickets (
			id                 BIGSERIAL PRIMARY KEY,
			title              TEXT NOT NULL,
			description        TEXT NOT NULL DEFAULT '',
			customer_email     TEXT NOT NULL DEFAULT '',
			type               TEXT NOT NULL DEFAULT 'general',
			priority           TEXT NOT NULL DEFAULT 'medium',
			status             TEXT NOT NULL DEFAULT 'open',
			suggested_response TEXT NOT NULL DEFAULT '',
			confidence_score   DOUBLE PRECISION,
			final_response     TEXT NOT NULL DEFAULT '',
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at         TIMESTAMPTZ,
			resolved_at        TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS ticket_messages (
			id                  BIGSERIAL PRIMARY KEY,
			ticket_id           BIGINT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
			protocol_message_id TEXT,
			sender              TEXT NOT NULL DEFAULT '',
			subject             TEXT NOT NULL DEFAULT '',
			body                TEXT NOT NULL DEFAULT '',
			received_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_ticket_messages_protocol_id
			ON ticket_messages(protocol_message_id)
			WHERE protocol_message_id IS NOT NULL AND protocol_message_id <> '';
		CREATE INDEX IF NOT EXISTS idx_ticket_messages_ticket ON ticket_messages(ticket_id);
		CREATE INDEX IF NOT EXISTS idx_tickets_customer ON tickets(customer_email);
		CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
	`)
	return err
}

const ticketColumns = `id, title, description, customer_email, type, priority, status,
       suggested_response, confidence_score, final_response,
       created_at, updated_at, resolved_at`

// FindTicketIDByProtocolIDs returns the ticket owning any stored message
// whose protocol_message_id is in ids. found is false when no message matches.
func (s *Store) FindTicketIDByProtocolIDs(ctx context.Context, ids []string) (ticketID int64, found bool, err error) {
	if len(ids) == 0 {
		return 0, false, nil
	}
	row := s.pool.QueryRow(ctx, `
		SELECT ticket_id FROM ticket_messages
		WHERE protocol_message_id = ANY($1)
		LIMIT 1
	`, ids)
	err = row.Scan(&ticketID)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find ticket by protocol ids: %w", err)
	}
	return ticketID, true, nil
}

// GetTicket retrieves a ticket by ID. Returns nil when it does not exist.
func (s *Store) GetTicket(ctx context.Context, id int64) (*models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE id = $1
	`, id)
	return scanTicket(row)
}

// FindRecentOpenTicketsForSender returns non-closed tickets for a customer,
// most recently active first, capped at limit. Recency uses updated_at when
// set and created_at otherwise; the time-window filtering itself belongs to
// the correlation engine.
func (s *Store) FindRecentOpenTicketsForSender(ctx context.Context, email string, limit int) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE customer_email = $1 AND status != 'closed'
		ORDER BY COALESCE(updated_at, created_at) DESC
		LIMIT $2
	`, email, limit)
	if err != nil {
		return nil, fmt.Errorf("find recent tickets for sender: %w", err)
	}
	defer rows.Close()
	return collectTickets(rows)
}

// InsertTicket persists a new ticket and returns its assigned ID.
func (s *Store) InsertTicket(ctx context.Context, t *models.Ticket) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tickets
			(title, description, customer_email, type, priority, status,
			 suggested_response, confidence_score, final_response, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, t.Title, t.Description, t.CustomerEmail, t.Type, t.Priority, t.Status,
		t.SuggestedResponse, t.ConfidenceScore, t.FinalResponse, t.CreatedAt, t.ResolvedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert ticket: %w", err)
	}
	return id, nil
}

// InsertTicketMessage attaches a message to a ticket's thread. For messages
// carrying a protocol_message_id the insert is idempotent: a duplicate ID is
// absorbed by the unique index and inserted reports false. Messages without
// a protocol ID are always inserted.
func (s *Store) InsertTicketMessage(ctx context.Context, m models.TicketMessage) (inserted bool, err error) {
	var protocolID *string
	if m.ProtocolMessageID != "" {
		protocolID = &m.ProtocolMessageID
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO ticket_messages (ticket_id, protocol_message_id, sender, subject, body, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (protocol_message_id) WHERE protocol_message_id IS NOT NULL AND protocol_message_id <> ''
		DO NOTHING
	`, m.TicketID, protocolID, m.Sender, m.Subject, m.Body, m.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("insert ticket message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// TouchTicket advances a ticket's updated_at after new thread activity.
func (s *Store) TouchTicket(ctx context.Context, id int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tickets SET updated_at = $1 WHERE id = $2
	`, at, id)
	if err != nil {
		return fmt.Errorf("touch ticket: %w", err)
	}
	return nil
}

// FieldUpdate lists the mutable ticket fields for partial updates.
// Nil pointers leave the column untouched.
type FieldUpdate struct {
	Status            *models.TicketStatus
	SuggestedResponse *string
	ConfidenceScore   *float64
	FinalResponse     *string
}

// UpdateTicketFields applies a partial update in a single statement.
// updated_at always advances; resolved_at is set on entry to a
// resolved/closed status and never cleared.
func (s *Store) UpdateTicketFields(ctx context.Context, id int64, f FieldUpdate) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		UPDATE tickets SET
			status             = COALESCE($1, status),
			suggested_response = COALESCE($2, suggested_response),
			confidence_score   = COALESCE($3, confidence_score),
			final_response     = COALESCE($4, final_response),
			resolved_at        = CASE
				WHEN $1 IN ('resolved', 'closed') AND resolved_at IS NULL THEN $5
				ELSE resolved_at
			END,
			updated_at = $5
		WHERE id = $6
	`, f.Status, f.SuggestedResponse, f.ConfidenceScore, f.FinalResponse, now, id)
	if err != nil {
		return fmt.Errorf("update ticket fields: %w", err)
	}
	return nil
}

// ApproveTicket applies the terminal approve transition atomically:
// final_response is set, status forced to resolved, resolved_at stamped.
// Returns the updated ticket, or nil when it does not exist.
func (s *Store) ApproveTicket(ctx context.Context, id int64, finalResponse string) (*models.Ticket, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		UPDATE tickets SET
			final_response = $1,
			status         = 'resolved',
			resolved_at    = $2,
			updated_at     = $2
		WHERE id = $3
		RETURNING `+ticketColumns+`
	`, finalResponse, now, id)
	return scanTicket(row)
}

// ListTickets returns tickets matching the optional status/priority filters,
// newest first.
func (s *Store) ListTickets(ctx context.Context, status, priority string, limit, offset int) ([]models.Ticket, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR priority = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, status, priority, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()
	return collectTickets(rows)
}

// ListTicketMessages returns the thread for a ticket in arrival order.
func (s *Store) ListTicketMessages(ctx context.Context, ticketID int64) ([]models.TicketMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, ticket_id, COALESCE(protocol_message_id, ''), sender, subject, body, received_at
		FROM ticket_messages
		WHERE ticket_id = $1
		ORDER BY received_at, id
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list ticket messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.TicketMessage
	for rows.Next() {
		var m models.TicketMessage
		if err := rows.Scan(&m.ID, &m.TicketID, &m.ProtocolMessageID, &m.Sender, &m.Subject, &m.Body, &m.ReceivedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// scanTicket scans a single row into a Ticket.
func scanTicket(row pgx.Row) (*models.Ticket, error) {
	var t models.Ticket
	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.CustomerEmail, &t.Type, &t.Priority,
		&t.Status, &t.SuggestedResponse, &t.ConfidenceScore, &t.FinalResponse,
		&t.CreatedAt, &t.UpdatedAt, &t.ResolvedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// collectTickets scans multiple rows into a slice of Tickets.
func collectTickets(rows pgx.Rows) ([]models.Ticket, error) {
	var tickets []models.Ticket
	for rows.Next() {
		var t models.Ticket
		if err := rows.Scan(
			&t.ID, &t.Title, &t.Description, &t.CustomerEmail, &t.Type, &t.Priority,
			&t.Status, &t.SuggestedResponse, &t.ConfidenceScore, &t.FinalResponse,
			&t.CreatedAt, &t.UpdatedAt, &t.ResolvedAt,
		); err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}
