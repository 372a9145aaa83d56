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

// Package api serves the operator-facing HTTP surface: listing tickets,
// manual ticket creation, and the approve transition. These requests run
// concurrently with the ingestion poller; both paths write through the
// ticket store's row-level update semantics.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/intellidesk/helpdesk/internal/knowledge"
	"github.com/intellidesk/helpdesk/internal/models"
)

// TicketReader is the read-side store access the API needs.
type TicketReader interface {
	GetTicket(ctx context.Context, id int64) (*models.Ticket, error)
	ListTickets(ctx context.Context, status, priority string, limit, offset int) ([]models.Ticket, error)
	ListTicketMessages(ctx context.Context, ticketID int64) ([]models.TicketMessage, error)
}

// TicketWriter is the lifecycle surface the API drives.
type TicketWriter interface {
	CreateTicket(ctx context.Context, title, description, customerEmail string) (*models.Ticket, error)
	Approve(ctx context.Context, ticketID int64, finalResponse string) (*models.Ticket, error)
	Regenerate(ctx context.Context, ticketID int64) (*models.Ticket, error)
}

// KnowledgeBase is the knowledge-index admin surface: uploading document
// text, searching it, and withdrawing a source.
type KnowledgeBase interface {
	IndexChunks(ctx context.Context, sourceTag string, contents []string) (int, error)
	RetrieveContext(ctx context.Context, query string, k int) ([]string, error)
	RemoveSource(ctx context.Context, sourceTag string) (int64, error)
}

// Handler serves the ticket HTTP API.
type Handler struct {
	reader    TicketReader
	writer    TicketWriter
	knowledge KnowledgeBase
	health    func(ctx context.Context) error
}

// NewHandler creates the API handler. health is called by GET /health and
// should check the service's backing connections.
func NewHandler(reader TicketReader, writer TicketWriter, knowledge KnowledgeBase, health func(ctx context.Context) error) *Handler {
	return &Handler{
		reader:    reader,
		writer:    writer,
		knowledge: knowledge,
		health:    health,
	}
}

// Mux returns the routed handler.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /tickets", h.handleList)
	mux.HandleFunc("POST /tickets", h.handleCreate)
	mux.HandleFunc("GET /tickets/{id}", h.handleGet)
	mux.HandleFunc("GET /tickets/{id}/messages", h.handleMessages)
	mux.HandleFunc("POST /tickets/{id}/approve", h.handleApprove)
	mux.HandleFunc("POST /tickets/{id}/regenerate", h.handleRegenerate)
	mux.HandleFunc("POST /knowledge", h.handleKnowledgeUpload)
	mux.HandleFunc("GET /knowledge/search", h.handleKnowledgeSearch)
	mux.HandleFunc("DELETE /knowledge/{source}", h.handleKnowledgeRemove)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status": "healthy"}`))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	tickets, err := h.reader.ListTickets(r.Context(), q.Get("status"), q.Get("priority"), limit, offset)
	if err != nil {
		slog.Error("list tickets failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

// createRequest is the manual ticket creation payload.
type createRequest struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	CustomerEmail string `json:"customer_email"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Description == "" {
		http.Error(w, "description is required", http.StatusBadRequest)
		return
	}

	ticket, err := h.writer.CreateTicket(r.Context(), req.Title, req.Description, req.CustomerEmail)
	if err != nil {
		slog.Error("manual ticket creation failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}

	ticket, err := h.reader.GetTicket(r.Context(), id)
	if err != nil {
		slog.Error("get ticket failed", "ticket_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if ticket == nil {
		http.Error(w, "ticket not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}

	msgs, err := h.reader.ListTicketMessages(r.Context(), id)
	if err != nil {
		slog.Error("list ticket messages failed", "ticket_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []models.TicketMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// approveRequest carries the operator's (possibly edited) final response.
type approveRequest struct {
	FinalResponse string `json:"final_response"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}

	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.FinalResponse == "" {
		http.Error(w, "final_response is required", http.StatusBadRequest)
		return
	}

	ticket, err := h.writer.Approve(r.Context(), id, req.FinalResponse)
	if err != nil {
		slog.Error("approve failed", "ticket_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if ticket == nil {
		http.Error(w, "ticket not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}

	ticket, err := h.writer.Regenerate(r.Context(), id)
	if err != nil {
		slog.Error("regenerate failed", "ticket_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if ticket == nil {
		http.Error(w, "ticket not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// uploadRequest carries pre-extracted document text for indexing.
type uploadRequest struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

func (h *Handler) handleKnowledgeUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Source == "" || req.Content == "" {
		http.Error(w, "source and content are required", http.StatusBadRequest)
		return
	}

	chunks := knowledge.ChunkText(req.Content)
	if len(chunks) == 0 {
		http.Error(w, "content contains no indexable text", http.StatusBadRequest)
		return
	}

	indexed, err := h.knowledge.IndexChunks(r.Context(), req.Source, chunks)
	if err != nil {
		slog.Error("knowledge upload failed", "source", req.Source, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"source": req.Source,
		"chunks": indexed,
	})
}

func (h *Handler) handleKnowledgeSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "q is required", http.StatusBadRequest)
		return
	}
	k, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if k <= 0 {
		k = 3
	}

	snippets, err := h.knowledge.RetrieveContext(r.Context(), query, k)
	if err != nil {
		slog.Error("knowledge search failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if snippets == nil {
		snippets = []string{}
	}
	writeJSON(w, http.StatusOK, snippets)
}

func (h *Handler) handleKnowledgeRemove(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	if source == "" {
		http.Error(w, "source is required", http.StatusBadRequest)
		return
	}

	removed, err := h.knowledge.RemoveSource(r.Context(), source)
	if err != nil {
		slog.Error("knowledge removal failed", "source", source, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if removed == 0 {
		http.Error(w, "source not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":  source,
		"removed": removed,
	})
}

func ticketID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid ticket id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}
