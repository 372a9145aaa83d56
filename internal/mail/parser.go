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
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// providerMessage represents the relevant fields of a provider message.
type providerMessage struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    struct {
		EmailAddress struct {
			Address string `json:"address"`
			Name    string `json:"name"`
		} `json:"emailAddress"`
	} `json:"from"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	ReceivedDateTime       string `json:"receivedDateTime"`
	InternetMessageHeaders []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"internetMessageHeaders"`
}

// providerListResponse is one page of the message list endpoint.
type providerListResponse struct {
	Value    []providerMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// parseMessagesPage converts a list response into RawMessages.
func parseMessagesPage(body io.Reader) (*MessagesPage, error) {
	var list providerListResponse
	if err := json.NewDecoder(body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode message list: %w", err)
	}

	page := &MessagesPage{NextLink: list.NextLink}
	for _, msg := range list.Value {
		page.Messages = append(page.Messages, toRawMessage(msg))
	}
	return page, nil
}

// toRawMessage extracts the threading headers and canonical fields from a
// provider message. The RFC Message-ID header is the protocol message ID
// when present; the provider's own ID is the fallback so dedup still has
// a stable key.
func toRawMessage(msg providerMessage) RawMessage {
	headers := make(map[string]string, len(msg.InternetMessageHeaders))
	for _, h := range msg.InternetMessageHeaders {
		headers[strings.ToLower(h.Name)] = h.Value
	}

	protocolID := strings.TrimSpace(headers["message-id"])
	if protocolID == "" {
		protocolID = msg.ID
	}

	var receivedAt time.Time
	if msg.ReceivedDateTime != "" {
		if t, err := time.Parse(time.RFC3339, msg.ReceivedDateTime); err == nil {
			receivedAt = t
		}
	}

	return RawMessage{
		ProtocolID: protocolID,
		FromEmail:  strings.ToLower(strings.TrimSpace(msg.From.EmailAddress.Address)),
		FromName:   msg.From.EmailAddress.Name,
		Subject:    msg.Subject,
		Body:       msg.Body.Content,
		ReceivedAt: receivedAt,
		InReplyTo:  strings.TrimSpace(headers["in-reply-to"]),
		References: splitReferences(headers["references"]),
	}
}

// splitReferences splits an RFC References header into individual
// message IDs (whitespace separated, oldest first).
func splitReferences(raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
