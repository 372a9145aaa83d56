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

// Package mail is the client for the mail provider's REST API: fetching
// recent inbox messages for the support mailbox and sending replies. The
// provider exposes a Graph-style JSON surface; authentication is an
// OAuth2 client-credentials http.Client built in main.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// RawMessage is one inbox message as returned by the provider, already
// reduced to the fields ingestion cares about.
type RawMessage struct {
	ProtocolID string
	FromEmail  string
	FromName   string
	Subject    string
	Body       string
	ReceivedAt time.Time
	InReplyTo  string
	References []string
}

// MessagesPage is one page of an inbox listing.
type MessagesPage struct {
	Messages []RawMessage
	NextLink string
}

// Fetcher retrieves messages from the support mailbox.
type Fetcher struct {
	httpClient *http.Client
	baseURL    string
	mailbox    string
}

// NewFetcher creates a mailbox fetcher. httpClient must carry the
// provider credentials (OAuth2 client-credentials transport).
func NewFetcher(httpClient *http.Client, baseURL, mailbox string) *Fetcher {
	return &Fetcher{
		httpClient: httpClient,
		baseURL:    baseURL,
		mailbox:    mailbox,
	}
}

// FetchRecent returns up to limit inbox messages, newest first.
// Idempotent to call repeatedly; deduplication happens downstream.
func (f *Fetcher) FetchRecent(ctx context.Context, limit int) ([]RawMessage, error) {
	params := url.Values{}
	params.Set("$top", fmt.Sprintf("%d", limit))
	params.Set("$orderby", "receivedDateTime desc")
	params.Set("$select", "id,subject,from,body,receivedDateTime,internetMessageHeaders")

	listURL := fmt.Sprintf("%s/users/%s/messages?%s", f.baseURL, url.PathEscape(f.mailbox), params.Encode())

	page, err := f.FetchPage(ctx, listURL)
	if err != nil {
		return nil, err
	}
	return page.Messages, nil
}

// ListSinceURL builds the first page URL for a historical listing,
// oldest first so replay preserves thread order. Used by the backfill
// command together with FetchPage.
func (f *Fetcher) ListSinceURL(since time.Time, pageSize int) string {
	params := url.Values{}
	params.Set("$top", fmt.Sprintf("%d", pageSize))
	params.Set("$orderby", "receivedDateTime asc")
	params.Set("$select", "id,subject,from,body,receivedDateTime,internetMessageHeaders")
	params.Set("$filter", fmt.Sprintf("receivedDateTime ge %s", since.UTC().Format(time.RFC3339)))
	return fmt.Sprintf("%s/users/%s/messages?%s", f.baseURL, url.PathEscape(f.mailbox), params.Encode())
}

// FetchPage retrieves one page of an inbox listing. The returned page's
// NextLink is empty on the final page.
func (f *Fetcher) FetchPage(ctx context.Context, pageURL string) (*MessagesPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "outlook.body-content-type=\"text\"")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mail API returned HTTP %d listing messages", resp.StatusCode)
	}

	page, err := parseMessagesPage(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse messages page: %w", err)
	}

	slog.Debug("fetched mailbox page",
		"mailbox", f.mailbox,
		"count", len(page.Messages),
		"has_next", page.NextLink != "",
	)

	return page, nil
}
