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

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/intellidesk/helpdesk/internal/models"
)

// chatServer returns an OpenAI-compatible completions endpoint whose
// assistant message content is produced per request.
func chatServer(t *testing.T, content func(r *http.Request) (string, int)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		text, status := content(r)
		if status != http.StatusOK {
			http.Error(w, text, status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{
				{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": text},
				},
			},
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
}

func fixed(content string) func(*http.Request) (string, int) {
	return func(*http.Request) (string, int) { return content, http.StatusOK }
}

func TestClassify(t *testing.T) {
	srv := chatServer(t, fixed(`{"category": "Technical Support", "priority": "high", "confidence": 92, "reason": "login failure"}`))
	defer srv.Close()

	c := NewClient("test-key", srv.URL+"/v1", "test-model")
	got := c.Classify(context.Background(), "Cannot log in", "Login page loops forever")

	if got.Type != "Technical Support" {
		t.Errorf("type = %q", got.Type)
	}
	if got.Priority != models.PriorityHigh {
		t.Errorf("priority = %q, want high", got.Priority)
	}
	if got.Confidence != 0.92 {
		t.Errorf("confidence = %v, want 0.92", got.Confidence)
	}
}

func TestClassify_FencedOutput(t *testing.T) {
	srv := chatServer(t, fixed("```json\n{\"category\": \"Billing/Invoice\", \"priority\": \"low\", \"confidence\": 85}\n```"))
	defer srv.Close()

	c := NewClient("test-key", srv.URL+"/v1", "test-model")
	got := c.Classify(context.Background(), "Invoice copy", "Need last month's invoice")

	if got.Type != "Billing/Invoice" {
		t.Errorf("type = %q, want fenced JSON parsed", got.Type)
	}
}

func TestClassify_Fallbacks(t *testing.T) {
	for _, tt := range []struct {
		name    string
		content func(*http.Request) (string, int)
	}{
		{"server error", func(*http.Request) (string, int) { return "boom", http.StatusInternalServerError }},
		{"non-JSON output", fixed("I think this is technical support.")},
	} {
		t.Run(tt.name, func(t *testing.T) {
			srv := chatServer(t, tt.content)
			defer srv.Close()

			c := NewClient("test-key", srv.URL+"/v1", "test-model")
			got := c.Classify(context.Background(), "title", "description")

			if got.Type != "general" {
				t.Errorf("type = %q, want general", got.Type)
			}
			if got.Priority != models.PriorityMedium {
				t.Errorf("priority = %q, want medium", got.Priority)
			}
			if got.Confidence != 0.0 {
				t.Errorf("confidence = %v, want 0.0 so the auto-send gate can never fire", got.Confidence)
			}
		})
	}
}

func TestClassify_SanitizesBadFields(t *testing.T) {
	srv := chatServer(t, fixed(`{"category": "", "priority": "URGENT!!", "confidence": 250}`))
	defer srv.Close()

	c := NewClient("test-key", srv.URL+"/v1", "test-model")
	got := c.Classify(context.Background(), "title", "description")

	if got.Type != "General Inquiry" {
		t.Errorf("type = %q, want General Inquiry for empty category", got.Type)
	}
	if got.Priority != models.PriorityMedium {
		t.Errorf("priority = %q, want medium for unknown value", got.Priority)
	}
	if got.Confidence != 1.0 {
		t.Errorf("confidence = %v, want clamped to 1.0", got.Confidence)
	}
}

func TestGenerateResponse(t *testing.T) {
	var sawContext bool
	srv := chatServer(t, func(r *http.Request) (string, int) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			for _, m := range req.Messages {
				if strings.Contains(m.Content, "reset link expires") {
					sawContext = true
				}
			}
		}
		return `{"response": "Dear customer, please use the reset link.", "confidence": 88}`, http.StatusOK
	})
	defer srv.Close()

	c := NewClient("test-key", srv.URL+"/v1", "test-model")
	response, confidence := c.GenerateResponse(context.Background(),
		"Cannot log in", "Login loops forever", "Technical Support",
		"- the reset link expires after 24h")

	if response != "Dear customer, please use the reset link." {
		t.Errorf("response = %q", response)
	}
	if confidence != 0.88 {
		t.Errorf("confidence = %v, want 0.88", confidence)
	}
	if !sawContext {
		t.Error("knowledge context never reached the prompt")
	}
}

func TestGenerateResponse_Fallbacks(t *testing.T) {
	for _, tt := range []struct {
		name    string
		content func(*http.Request) (string, int)
	}{
		{"server error", func(*http.Request) (string, int) { return "boom", http.StatusBadGateway }},
		{"non-JSON output", fixed("Sure! Here's a draft reply for you:")},
	} {
		t.Run(tt.name, func(t *testing.T) {
			srv := chatServer(t, tt.content)
			defer srv.Close()

			c := NewClient("test-key", srv.URL+"/v1", "test-model")
			response, confidence := c.GenerateResponse(context.Background(), "t", "d", "general", "")

			if response != FallbackResponse {
				t.Errorf("response = %q, want fallback apology", response)
			}
			if confidence != 0.0 {
				t.Errorf("confidence = %v, want 0.0", confidence)
			}
		})
	}
}

func TestGenerateResponse_EmptyDraftDefaults(t *testing.T) {
	srv := chatServer(t, fixed(`{"response": "", "confidence": 40}`))
	defer srv.Close()

	c := NewClient("test-key", srv.URL+"/v1", "test-model")
	response, _ := c.GenerateResponse(context.Background(), "t", "d", "general", "")

	if response == "" {
		t.Error("empty model draft not replaced with acknowledgement")
	}
}

func TestStripFences(t *testing.T) {
	for _, tt := range []struct {
		in, want string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"  {\"a\": 1}  ", `{"a": 1}`},
	} {
		if got := stripFences(tt.in); got != tt.want {
			t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
