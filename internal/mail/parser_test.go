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

package mail

import (
	"strings"
	"testing"
	"time"
)

const sampleListResponse = `{
  "@odata.nextLink": "https://mail.example.com/v1.0/users/support/messages?$skip=25",
  "value": [
    {
      "id": "AAMkAD-1",
      "subject": "Re: Cannot log in",
      "from": {"emailAddress": {"address": "Jordan.Lee@Example.COM", "name": "Jordan Lee"}},
      "body": {"contentType": "text", "content": "Still locked out."},
      "receivedDateTime": "2026-03-14T09:30:00Z",
      "internetMessageHeaders": [
        {"name": "Message-ID", "value": " <m2@customer.example> "},
        {"name": "In-Reply-To", "value": "<m1@helpdesk.example>"},
        {"name": "References", "value": "<m0@customer.example> <m1@helpdesk.example>"}
      ]
    },
    {
      "id": "AAMkAD-2",
      "subject": "Printer on fire",
      "from": {"emailAddress": {"address": "sam@example.com", "name": "Sam"}},
      "body": {"contentType": "html", "content": "<p>please advise</p>"},
      "receivedDateTime": "2026-03-14T09:00:00Z",
      "internetMessageHeaders": []
    }
  ]
}`

func TestParseMessagesPage(t *testing.T) {
	page, err := parseMessagesPage(strings.NewReader(sampleListResponse))
	if err != nil {
		t.Fatalf("parseMessagesPage failed: %v", err)
	}

	if len(page.Messages) != 2 {
		t.Fatalf("parsed %d messages, want 2", len(page.Messages))
	}
	if page.NextLink == "" {
		t.Error("next link dropped")
	}

	first := page.Messages[0]
	if first.ProtocolID != "<m2@customer.example>" {
		t.Errorf("protocol id = %q, want trimmed Message-ID header", first.ProtocolID)
	}
	if first.FromEmail != "jordan.lee@example.com" {
		t.Errorf("from = %q, want lowercased address", first.FromEmail)
	}
	if first.FromName != "Jordan Lee" {
		t.Errorf("from name = %q", first.FromName)
	}
	if first.InReplyTo != "<m1@helpdesk.example>" {
		t.Errorf("in-reply-to = %q", first.InReplyTo)
	}
	if len(first.References) != 2 || first.References[0] != "<m0@customer.example>" {
		t.Errorf("references = %v", first.References)
	}

	want := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	if !first.ReceivedAt.Equal(want) {
		t.Errorf("received_at = %v, want %v", first.ReceivedAt, want)
	}
}

// TestParseMessagesPage_ProviderIDFallback verifies messages without a
// Message-ID header still get a stable dedup key.
func TestParseMessagesPage_ProviderIDFallback(t *testing.T) {
	page, err := parseMessagesPage(strings.NewReader(sampleListResponse))
	if err != nil {
		t.Fatalf("parseMessagesPage failed: %v", err)
	}

	second := page.Messages[1]
	if second.ProtocolID != "AAMkAD-2" {
		t.Errorf("protocol id = %q, want provider id fallback", second.ProtocolID)
	}
	if second.InReplyTo != "" || second.References != nil {
		t.Errorf("unexpected threading headers: %+v", second)
	}
}

// TestParseMessagesPage_BadTimestamp verifies an unparseable timestamp
// yields a zero time instead of an error.
func TestParseMessagesPage_BadTimestamp(t *testing.T) {
	const body = `{"value": [{"id": "x", "receivedDateTime": "not-a-date"}]}`

	page, err := parseMessagesPage(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parseMessagesPage failed: %v", err)
	}
	if !page.Messages[0].ReceivedAt.IsZero() {
		t.Errorf("received_at = %v, want zero", page.Messages[0].ReceivedAt)
	}
}

func TestParseMessagesPage_MalformedJSON(t *testing.T) {
	if _, err := parseMessagesPage(strings.NewReader("{not json")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestSplitReferences(t *testing.T) {
	for _, tt := range []struct {
		raw  string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"<a@x>", 1},
		{"<a@x> <b@x>\t<c@x>", 3},
	} {
		if got := splitReferences(tt.raw); len(got) != tt.want {
			t.Errorf("splitReferences(%q) = %v, want %d entries", tt.raw, got, tt.want)
		}
	}
}
