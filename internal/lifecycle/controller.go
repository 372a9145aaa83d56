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

// Package lifecycle owns the ticket state machine: the creation pipeline
// (classify → retrieve context → generate response → confidence gate →
// auto-send or hold), attaching correlated events to existing tickets,
// and the terminal manual-approve transition.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/intellidesk/helpdesk/internal/models"
	"github.com/intellidesk/helpdesk/internal/store"
)

const (
	// autoSendThreshold gates automatic delivery of a generated response.
	// Strictly greater-than: a classification confidence of exactly 0.80
	// is held for human approval.
	autoSendThreshold = 0.8

	// titleExcerptLen is how much of the description seeds a missing title.
	titleExcerptLen = 50

	// contextTopK is how many knowledge snippets feed response generation.
	contextTopK = 3

	mailSignature = "IntelliDesk Support"
)

// TicketStore is the slice of the ticket store the controller writes through.
type TicketStore interface {
	GetTicket(ctx context.Context, id int64) (*models.Ticket, error)
	InsertTicket(ctx context.Context, t *models.Ticket) (int64, error)
	UpdateTicketFields(ctx context.Context, id int64, f store.FieldUpdate) error
	ApproveTicket(ctx context.Context, id int64, finalResponse string) (*models.Ticket, error)
}

// Attacher appends an email event to a ticket's thread. Implemented by the
// correlation engine; attach is idempotent on the protocol message ID.
type Attacher interface {
	Attach(ctx context.Context, ticketID int64, event *models.EmailEvent) error
}

// Classifier assigns type/priority/confidence to a new ticket. The
// contract is fallback-on-failure: it always returns a usable value.
type Classifier interface {
	Classify(ctx context.Context, title, description string) models.Classification
}

// ResponseGenerator drafts a suggested reply. Same fallback contract.
type ResponseGenerator interface {
	GenerateResponse(ctx context.Context, title, description, ticketType, context string) (response string, confidence float64)
}

// ContextOracle retrieves knowledge snippets and absorbs resolved
// question/answer pairs for future retrievals.
type ContextOracle interface {
	RetrieveContext(ctx context.Context, query string, k int) ([]string, error)
	IndexPair(ctx context.Context, question, answer, sourceTag string) error
}

// MailSender delivers outbound replies.
type MailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// EventSink receives ticket lifecycle events for downstream consumers.
type EventSink interface {
	PublishTicketEvent(ctx context.Context, kind string, ticket *models.Ticket, res models.CorrelationResult) error
}

// Event kinds emitted through the EventSink.
const (
	EventCreated  = "ticket.created"
	EventUpdated  = "ticket.updated"
	EventResolved = "ticket.resolved"
)

// Controller drives ticket creation and updates.
type Controller struct {
	store      TicketStore
	attacher   Attacher
	classifier Classifier
	generator  ResponseGenerator
	oracle     ContextOracle
	sender     MailSender
	events     EventSink // optional
	now        func() time.Time
}

// ControllerConfig holds the controller's collaborators.
type ControllerConfig struct {
	Store      TicketStore
	Attacher   Attacher
	Classifier Classifier
	Generator  ResponseGenerator
	Oracle     ContextOracle
	Sender     MailSender
	Events     EventSink
}

// NewController creates a lifecycle controller.
func NewController(cfg ControllerConfig) *Controller {
	return &Controller{
		store:      cfg.Store,
		attacher:   cfg.Attacher,
		classifier: cfg.Classifier,
		generator:  cfg.Generator,
		oracle:     cfg.Oracle,
		sender:     cfg.Sender,
		events:     cfg.Events,
		now:        time.Now,
	}
}

// CreateOrUpdate applies a correlation decision to the store: update
// attaches the event to the matched ticket, create runs the full creation
// pipeline with the event as the founding message.
func (c *Controller) CreateOrUpdate(ctx context.Context, event *models.EmailEvent, res models.CorrelationResult) (*models.Ticket, error) {
	switch res.Action {
	case models.ActionUpdate:
		if res.TicketID <= 0 {
			// Contract violation: the engine reported a match without a
			// ticket. This is a bug, not an environmental failure.
			return nil, fmt.Errorf("update resolution carries no ticket id (matched_by=%s)", res.MatchedBy)
		}

		if err := c.attacher.Attach(ctx, res.TicketID, event); err != nil {
			return nil, err
		}

		ticket, err := c.store.GetTicket(ctx, res.TicketID)
		if err != nil {
			return nil, fmt.Errorf("load updated ticket: %w", err)
		}
		if ticket == nil {
			return nil, fmt.Errorf("matched ticket %d disappeared", res.TicketID)
		}

		c.publish(ctx, EventUpdated, ticket, res)
		return ticket, nil

	case models.ActionCreate:
		ticket, err := c.CreateTicket(ctx, event.Subject, event.Body, event.FromEmail)
		if err != nil {
			return nil, err
		}

		// Persist the founding email as the first thread message.
		if err := c.attacher.Attach(ctx, ticket.ID, event); err != nil {
			return nil, fmt.Errorf("attach founding message: %w", err)
		}

		c.publish(ctx, EventCreated, ticket, res)
		return ticket, nil

	default:
		return nil, fmt.Errorf("unknown correlation action %q", res.Action)
	}
}

// CreateTicket runs the creation pipeline: derive title, classify,
// retrieve context, generate a response, apply the confidence gate, and
// persist. Classifier and generator failures degrade to their fallback
// values; only store and contract failures are returned as errors.
func (c *Controller) CreateTicket(ctx context.Context, title, description, customerEmail string) (*models.Ticket, error) {
	title = deriveTitle(title, description)

	classification := c.classifier.Classify(ctx, title, description)

	contextText := c.retrieveContext(ctx, description)

	suggested, genConfidence := c.generator.GenerateResponse(ctx, title, description, classification.Type, contextText)
	slog.Debug("response drafted", "generation_confidence", genConfidence)

	now := c.now().UTC()
	confidence := classification.Confidence
	ticket := &models.Ticket{
		Title:             title,
		Description:       description,
		CustomerEmail:     customerEmail,
		Type:              classification.Type,
		Priority:          classification.Priority,
		Status:            models.StatusOpen,
		SuggestedResponse: suggested,
		ConfidenceScore:   &confidence,
		CreatedAt:         now,
	}

	// Confidence gate: auto-send only with a response to send, a customer
	// to send it to, and a classification confidence strictly above the
	// threshold. Send failure holds the ticket open for approval.
	autoSent := false
	if suggested != "" && customerEmail != "" && classification.Confidence > autoSendThreshold {
		subject := "Re: " + title
		body := fmt.Sprintf("Hello,\n\n%s\n\nBest regards,\n%s", suggested, mailSignature)

		if err := c.sender.Send(ctx, customerEmail, subject, body); err != nil {
			slog.Warn("auto-send failed, holding ticket for approval",
				"customer", customerEmail,
				"error", err,
			)
		} else {
			resolvedAt := c.now().UTC()
			ticket.Status = models.StatusResolved
			ticket.FinalResponse = suggested
			ticket.ResolvedAt = &resolvedAt
			autoSent = true
			slog.Info("response auto-sent",
				"customer", customerEmail,
				"confidence", classification.Confidence,
			)
		}
	} else if suggested != "" && customerEmail != "" {
		slog.Info("confidence below auto-send threshold, holding for approval",
			"confidence", classification.Confidence,
		)
	}

	id, err := c.store.InsertTicket(ctx, ticket)
	if err != nil {
		return nil, err
	}
	ticket.ID = id

	if autoSent {
		c.learnAsync(ticket.Title, ticket.Description, suggested, id)
	}

	return ticket, nil
}

// Approve is the terminal manual transition: the operator's final response
// is recorded and the ticket is forced to resolved regardless of its
// current status. Returns nil when the ticket does not exist.
func (c *Controller) Approve(ctx context.Context, ticketID int64, finalResponse string) (*models.Ticket, error) {
	ticket, err := c.store.ApproveTicket(ctx, ticketID, finalResponse)
	if err != nil {
		return nil, fmt.Errorf("approve ticket: %w", err)
	}
	if ticket == nil {
		return nil, nil
	}

	c.publish(ctx, EventResolved, ticket, models.CorrelationResult{})
	return ticket, nil
}

// Regenerate re-runs retrieval and response generation for an existing
// ticket, replacing its suggested response. Returns nil when the ticket
// does not exist.
func (c *Controller) Regenerate(ctx context.Context, ticketID int64) (*models.Ticket, error) {
	ticket, err := c.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("load ticket for regeneration: %w", err)
	}
	if ticket == nil {
		return nil, nil
	}

	contextText := c.retrieveContext(ctx, ticket.Title+" "+ticket.Description)
	suggested, confidence := c.generator.GenerateResponse(ctx, ticket.Title, ticket.Description, ticket.Type, contextText)

	if err := c.store.UpdateTicketFields(ctx, ticketID, store.FieldUpdate{
		SuggestedResponse: &suggested,
		ConfidenceScore:   &confidence,
	}); err != nil {
		return nil, err
	}

	return c.store.GetTicket(ctx, ticketID)
}

// retrieveContext fetches top-k knowledge snippets and formats them as a
// context block. Retrieval failure degrades to no context.
func (c *Controller) retrieveContext(ctx context.Context, query string) string {
	snippets, err := c.oracle.RetrieveContext(ctx, query, contextTopK)
	if err != nil {
		slog.Warn("context retrieval failed, continuing without context", "error", err)
		return ""
	}
	if len(snippets) == 0 {
		return ""
	}

	lines := make([]string, 0, len(snippets))
	for _, s := range snippets {
		lines = append(lines, "- "+s)
	}
	return strings.Join(lines, "\n")
}

// learnAsync feeds an auto-sent question/answer pair back into the
// knowledge index. Runs detached from the request; failure is logged and
// never rolls back the ticket.
func (c *Controller) learnAsync(title, description, answer string, ticketID int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		question := title + "\n" + description
		sourceTag := fmt.Sprintf("ticket_%d", ticketID)
		if err := c.oracle.IndexPair(ctx, question, answer, sourceTag); err != nil {
			slog.Warn("learning loop failed", "ticket_id", ticketID, "error", err)
		}
	}()
}

// publish emits a lifecycle event when a sink is configured. Publish
// failures are logged, never propagated.
func (c *Controller) publish(ctx context.Context, kind string, ticket *models.Ticket, res models.CorrelationResult) {
	if c.events == nil {
		return
	}
	if err := c.events.PublishTicketEvent(ctx, kind, ticket, res); err != nil {
		slog.Warn("publish ticket event failed", "kind", kind, "ticket_id", ticket.ID, "error", err)
	}
}

// deriveTitle fills a missing title from the description: the first 50
// characters plus an ellipsis, or a fixed placeholder when the
// description is empty too.
func deriveTitle(title, description string) string {
	if strings.TrimSpace(title) != "" {
		return title
	}
	if description == "" {
		return "New Ticket"
	}
	runes := []rune(description)
	if len(runes) > titleExcerptLen {
		runes = runes[:titleExcerptLen]
	}
	return string(runes) + "..."
}
