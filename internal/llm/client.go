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

// Package llm wraps the OpenAI-compatible chat API behind the classifier
// and response-generator contracts. Both operations degrade to documented
// fallback values on any failure: a broken model endpoint must slow the
// pipeline down, never stop it.
package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/intellidesk/helpdesk/internal/models"
)

// FallbackResponse is returned by GenerateResponse when the model call or
// its output parsing fails.
const FallbackResponse = "I apologize, but I am unable to generate a response at this time. An agent will review your ticket shortly."

// Client talks to an OpenAI-compatible endpoint.
type Client struct {
	api   *openai.Client
	model string
}

// NewClient creates an LLM client. baseURL may be empty for the provider
// default, or point at any OpenAI-compatible server.
func NewClient(apiKey, baseURL, model string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(cfg),
		model: model,
	}
}

const classifySystemPrompt = `You are an AI support ticket classifier for a B2B SaaS company.

Your task is to classify an incoming ticket into exactly ONE predefined category.
You must base your decision ONLY on the ticket content.

Guidelines for Confidence Score (0-100):
- 95-100: Obvious intent, specific keywords present (e.g. "password reset" -> "Access Request").
- 80-94: Clear intent but slightly ambiguous wording.
- 50-79: Vague request or matches multiple categories loosely.
- 0-49: Completely unclear or gibberish.

Output MUST be valid JSON and nothing else.`

const classifyUserPrompt = `Classify the following support ticket into ONE of the categories listed below.

CATEGORIES (choose exactly one):

1. Technical Support - System errors, bugs, crashes, login issues, performance problems
2. Access Request - Permission issues, account access, password resets, user provisioning
3. Billing/Invoice - Payment issues, subscription questions, invoice requests, pricing
4. Feature Request - New feature suggestions, enhancements, product feedback
5. Hardware/Infrastructure - Server issues, hardware problems, deployment, hosting
6. How-To/Documentation - Usage questions, how to do something, documentation requests
7. Data Request - Data export, reports, analytics, data deletion requests
8. Complaint/Escalation - Customer complaints, escalations, dissatisfaction
9. General Inquiry - Other questions that don't fit above categories

PRIORITY LEVELS (choose exactly one):

1. critical - System completely down, security breach, data loss, business-critical blocker
2. high - Major feature broken, affecting multiple users, deadline pressure, revenue impact
3. medium - Feature partially working, workaround exists, moderate impact
4. low - Questions, minor issues, cosmetic issues, nice-to-have requests

TICKET CONTENT:
"""
Title: %TITLE%
Description: %DESCRIPTION%
"""

Respond ONLY in the following JSON format:

{
  "category": "<one of the listed categories - use short form like 'Technical Support'>",
  "priority": "<one of: critical, high, medium, low>",
  "confidence": <integer between 0 and 100>,
  "reason": "<one short sentence explaining why>"
}`

// classifyResult mirrors the model's JSON output.
type classifyResult struct {
	Category   string  `json:"category"`
	Priority   string  `json:"priority"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// fallbackClassification is the documented degraded verdict: generic type,
// medium priority, zero confidence so the auto-send gate can never fire.
func fallbackClassification() models.Classification {
	return models.Classification{
		Type:       "general",
		Priority:   models.PriorityMedium,
		Confidence: 0.0,
		Category:   "General Inquiry",
	}
}

// Classify assigns a type, priority, and confidence to a new ticket.
// Always returns a usable value; transport and parse failures are logged
// and mapped to the fallback verdict, never surfaced as errors.
func (c *Client) Classify(ctx context.Context, title, description string) models.Classification {
	prompt := strings.NewReplacer(
		"%TITLE%", title,
		"%DESCRIPTION%", description,
	).Replace(classifyUserPrompt)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		MaxTokens:   200,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		slog.Warn("classification call failed, using fallback", "error", err)
		return fallbackClassification()
	}
	if len(resp.Choices) == 0 {
		slog.Warn("classification returned no choices, using fallback")
		return fallbackClassification()
	}

	var result classifyResult
	if err := json.Unmarshal([]byte(stripFences(resp.Choices[0].Message.Content)), &result); err != nil {
		slog.Warn("classification output not valid JSON, using fallback", "error", err)
		return fallbackClassification()
	}

	category := result.Category
	if category == "" {
		category = "General Inquiry"
	}

	priority := models.TicketPriority(strings.ToLower(result.Priority))
	if !models.ValidPriority(priority) {
		priority = models.PriorityMedium
	}

	confidence := clamp01(result.Confidence / 100.0)

	slog.Info("ticket classified",
		"type", category,
		"priority", priority,
		"confidence", confidence,
		"reason", result.Reason,
	)

	return models.Classification{
		Type:       category,
		Priority:   priority,
		Confidence: confidence,
		Category:   category,
	}
}

const generateSystemPrompt = "You are a helpful support agent. Output strictly valid JSON."

const generateUserPrompt = `You are a Senior Customer Support Agent. Your task is to draft a response to a ticket and rate your confidence.

TICKET DETAILS:
Title: %TITLE%
Type: %TYPE%
Description: %DESCRIPTION%

%CONTEXT%

INSTRUCTIONS:
1. Draft a professional, empathetic response. Use the Context if relevant.
2. Calculate Confidence Score (0-100):
   - 90-100: Context DIRECTLY answers the question.
   - 70-89: Context is related and helpful, but not an exact match.
   - 40-69: General knowledge used, no specific context match.
   - 0-39: Unsure, or question is unintelligible.
3. If no context is present, your confidence MUST be < 60 (unless it's a generic greeting).

OUTPUT FORMAT (JSON ONLY):
{
  "response": "Dear [Customer], ...",
  "confidence": <int>
}`

// generateResult mirrors the model's JSON output.
type generateResult struct {
	Response   string  `json:"response"`
	Confidence float64 `json:"confidence"`
}

// GenerateResponse drafts a suggested reply for a ticket given optional
// knowledge-base context. Failure yields the fixed apology string and
// zero confidence; never an error.
func (c *Client) GenerateResponse(ctx context.Context, title, description, ticketType, context string) (string, float64) {
	contextBlock := "No specific knowledge base context available."
	if context != "" {
		contextBlock = "Relevant Knowledge Base Context:\n" + context
	}

	prompt := strings.NewReplacer(
		"%TITLE%", title,
		"%TYPE%", ticketType,
		"%DESCRIPTION%", description,
		"%CONTEXT%", contextBlock,
	).Replace(generateUserPrompt)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.3,
		MaxTokens:   800,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: generateSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		slog.Warn("response generation call failed, using fallback", "error", err)
		return FallbackResponse, 0.0
	}
	if len(resp.Choices) == 0 {
		slog.Warn("response generation returned no choices, using fallback")
		return FallbackResponse, 0.0
	}

	var result generateResult
	if err := json.Unmarshal([]byte(stripFences(resp.Choices[0].Message.Content)), &result); err != nil {
		slog.Warn("response generation output not valid JSON, using fallback", "error", err)
		return FallbackResponse, 0.0
	}

	if result.Response == "" {
		result.Response = "Thank you for contacting us. We received your request."
	}

	confidence := clamp01(result.Confidence / 100.0)
	slog.Info("response generated", "confidence", confidence)

	return result.Response, confidence
}

// stripFences removes markdown code fences some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
