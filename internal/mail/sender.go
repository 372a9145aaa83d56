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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// Sender sends outbound replies through the provider's sendMail endpoint.
type Sender struct {
	httpClient *http.Client
	baseURL    string
	mailbox    string
}

// NewSender creates a mail sender for the support mailbox.
func NewSender(httpClient *http.Client, baseURL, mailbox string) *Sender {
	return &Sender{
		httpClient: httpClient,
		baseURL:    baseURL,
		mailbox:    mailbox,
	}
}

// sendMailRequest mirrors the provider's sendMail payload.
type sendMailRequest struct {
	Message struct {
		Subject string `json:"subject"`
		Body    struct {
			ContentType string `json:"contentType"`
			Content     string `json:"content"`
		} `json:"body"`
		ToRecipients []struct {
			EmailAddress struct {
				Address string `json:"address"`
			} `json:"emailAddress"`
		} `json:"toRecipients"`
	} `json:"message"`
	SaveToSentItems bool `json:"saveToSentItems"`
}

// Send delivers a plain-text email to a single recipient. A non-2xx
// provider response is an error; callers decide whether that holds the
// ticket open or aborts their operation.
func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return fmt.Errorf("send email: no recipient address")
	}

	var payload sendMailRequest
	payload.Message.Subject = subject
	payload.Message.Body.ContentType = "Text"
	payload.Message.Body.Content = body
	payload.SaveToSentItems = true
	recipient := struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	}{}
	recipient.EmailAddress.Address = to
	payload.Message.ToRecipients = append(payload.Message.ToRecipients, recipient)

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sendMail payload: %w", err)
	}

	sendURL := fmt.Sprintf("%s/users/%s/sendMail", s.baseURL, url.PathEscape(s.mailbox))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendURL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build sendMail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mail API returned HTTP %d sending email", resp.StatusCode)
	}

	slog.Info("email sent", "to", to, "subject", subject)
	return nil
}
