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

// Package models defines the data structures shared across the helpdesk service.
package models

import "time"

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

const (
	StatusOpen       TicketStatus = "open"
	StatusInProgress TicketStatus = "in_progress"
	StatusResolved   TicketStatus = "resolved"
	StatusClosed     TicketStatus = "closed"
)

// TicketPriority is the urgency assigned by classification.
type TicketPriority string

const (
	PriorityCritical TicketPriority = "critical"
	PriorityHigh     TicketPriority = "high"
	PriorityMedium   TicketPriority = "medium"
	PriorityLow      TicketPriority = "low"
)

// ValidPriority reports whether p is one of the known priority levels.
func ValidPriority(p TicketPriority) bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// EmailEvent represents one inbound message as observed by ingestion.
// Immutable after construction. The ProtocolMessageID is the mail-system
// assigned identifier used for reply-chain headers and idempotency; the
// same message may be observed again on later fetches.
type EmailEvent struct {
	ProtocolMessageID string    `json:"protocol_message_id"`
	InReplyTo         string    `json:"in_reply_to,omitempty"`
	References        []string  `json:"references,omitempty"`
	FromEmail         string    `json:"from_email"`
	FromName          string    `json:"from_name,omitempty"`
	Subject           string    `json:"subject"`
	Body              string    `json:"body"`
	ReceivedAt        time.Time `json:"received_at"`
}

// Ticket is a unit of support work. IDs are assigned by the store on
// creation and never reused. UpdatedAt is nil until the first mutation
// past creation; ResolvedAt is non-nil exactly when the status is
// resolved or closed.
type Ticket struct {
	ID                int64          `json:"id"`
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	CustomerEmail     string         `json:"customer_email,omitempty"`
	Type              string         `json:"type"`
	Priority          TicketPriority `json:"priority"`
	Status            TicketStatus   `json:"status"`
	SuggestedResponse string         `json:"suggested_response,omitempty"`
	ConfidenceScore   *float64       `json:"confidence_score,omitempty"`
	FinalResponse     string         `json:"final_response,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         *time.Time     `json:"updated_at,omitempty"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
}

// LastActive returns the most recent activity timestamp for recency
// comparisons: updated_at when set, otherwise created_at. ok is false
// when neither timestamp is usable; such tickets must be skipped by
// recency-bounded matching, not treated as an error.
func (t *Ticket) LastActive() (time.Time, bool) {
	if t.UpdatedAt != nil && !t.UpdatedAt.IsZero() {
		return *t.UpdatedAt, true
	}
	if !t.CreatedAt.IsZero() {
		return t.CreatedAt, true
	}
	return time.Time{}, false
}

// TicketMessage is one email durably attached to a ticket's thread.
// For a given non-empty ProtocolMessageID at most one TicketMessage
// exists system-wide.
type TicketMessage struct {
	ID                int64     `json:"id"`
	TicketID          int64     `json:"ticket_id"`
	ProtocolMessageID string    `json:"protocol_message_id,omitempty"`
	Sender            string    `json:"sender"`
	Subject           string    `json:"subject"`
	Body              string    `json:"body"`
	ReceivedAt        time.Time `json:"received_at"`
}

// CorrelationAction says whether an event starts a new ticket or joins
// an existing one.
type CorrelationAction string

const (
	ActionCreate CorrelationAction = "create"
	ActionUpdate CorrelationAction = "update"
)

// Match layer tags, recorded for observability and asserted in tests.
const (
	MatchedByHeaders     = "headers"
	MatchedByExplicitRef = "explicit_ref"
	MatchedByFuzzy       = "fuzzy_subject"
	MatchedBySemantic    = "semantic"
	MatchedByTemporal    = "temporal_grouping"
	MatchedByNone        = "none"
)

// CorrelationResult is the transient outcome of resolving one email
// event against the ticket store. TicketID is set only for updates.
type CorrelationResult struct {
	Action     CorrelationAction `json:"action"`
	TicketID   int64             `json:"ticket_id,omitempty"`
	MatchedBy  string            `json:"matched_by"`
	Confidence float64           `json:"confidence"`
}

// Classification is the classifier's verdict for a new ticket.
// Confidence is on a 0–1 scale and gates auto-send.
type Classification struct {
	Type       string         `json:"type"`
	Priority   TicketPriority `json:"priority"`
	Confidence float64        `json:"confidence"`
	Category   string         `json:"category,omitempty"`
}
