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

package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/intellidesk/helpdesk/internal/mail"
	"github.com/intellidesk/helpdesk/internal/models"
)

type fakeSource struct {
	mu    sync.Mutex
	pages [][]mail.RawMessage // one slice per FetchRecent call
	errs  []error
	calls int
}

func (f *fakeSource) FetchRecent(_ context.Context, _ int) ([]mail.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var msgs []mail.RawMessage
	if i < len(f.pages) {
		msgs = f.pages[i]
	}
	return msgs, err
}

type fakeFilter struct {
	seen map[string]bool
	err  error
}

func (f *fakeFilter) IsNew(_ context.Context, id string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen[id] {
		return false, nil
	}
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	f.seen[id] = true
	return true, nil
}

type fakeResolver struct {
	results map[string]models.CorrelationResult // keyed by protocol message id
	order   []string
	err     error
}

func (f *fakeResolver) Resolve(_ context.Context, event *models.EmailEvent) (models.CorrelationResult, error) {
	f.order = append(f.order, event.ProtocolMessageID)
	if f.err != nil {
		return models.CorrelationResult{}, f.err
	}
	if res, ok := f.results[event.ProtocolMessageID]; ok {
		return res, nil
	}
	return models.CorrelationResult{Action: models.ActionCreate, MatchedBy: models.MatchedByNone}, nil
}

type fakeApplier struct {
	mu      sync.Mutex
	applied []string
	err     error
}

func (f *fakeApplier) CreateOrUpdate(_ context.Context, event *models.EmailEvent, result models.CorrelationResult) (*models.Ticket, error) {
	if f.err != nil {
		return nil, f.err
	}
	if result.Action != models.ActionCreate && result.Action != models.ActionUpdate {
		return nil, fmt.Errorf("unknown correlation action %q", result.Action)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, event.ProtocolMessageID)
	return &models.Ticket{ID: int64(len(f.applied))}, nil
}

func (f *fakeApplier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

func msg(id string) mail.RawMessage {
	return mail.RawMessage{
		ProtocolID: id,
		FromEmail:  "cust@x.com",
		Subject:    "help",
		Body:       "body",
		ReceivedAt: time.Now(),
	}
}

// TestPoll_ProcessesOldestFirst verifies that a newest-first fetch is
// replayed in chronological order within the cycle.
func TestPoll_ProcessesOldestFirst(t *testing.T) {
	source := &fakeSource{pages: [][]mail.RawMessage{{msg("<c>"), msg("<b>"), msg("<a>")}}}
	resolver := &fakeResolver{}
	applier := &fakeApplier{}

	p := NewPoller(PollerConfig{
		Source:   source,
		Filter:   &fakeFilter{},
		Resolver: resolver,
		Applier:  applier,
	})
	p.poll(context.Background())

	want := []string{"<a>", "<b>", "<c>"}
	if len(resolver.order) != 3 {
		t.Fatalf("resolved %d messages, want 3", len(resolver.order))
	}
	for i, id := range want {
		if resolver.order[i] != id {
			t.Errorf("position %d resolved %q, want %q", i, resolver.order[i], id)
		}
	}
}

// TestPoll_SkipsSeenMessages verifies the dedup fast path.
func TestPoll_SkipsSeenMessages(t *testing.T) {
	filter := &fakeFilter{seen: map[string]bool{"<a>": true}}
	source := &fakeSource{pages: [][]mail.RawMessage{{msg("<b>"), msg("<a>")}}}
	applier := &fakeApplier{}

	p := NewPoller(PollerConfig{
		Source:   source,
		Filter:   filter,
		Resolver: &fakeResolver{},
		Applier:  applier,
	})
	p.poll(context.Background())

	if len(applier.applied) != 1 || applier.applied[0] != "<b>" {
		t.Errorf("applied = %v, want only <b>", applier.applied)
	}
}

// TestPoll_DedupFailureProcessesAnyway verifies a broken dedup filter
// degrades to processing; the store constraint is the backstop.
func TestPoll_DedupFailureProcessesAnyway(t *testing.T) {
	source := &fakeSource{pages: [][]mail.RawMessage{{msg("<a>")}}}
	applier := &fakeApplier{}

	p := NewPoller(PollerConfig{
		Source:   source,
		Filter:   &fakeFilter{err: errors.New("redis down")},
		Resolver: &fakeResolver{},
		Applier:  applier,
	})
	p.poll(context.Background())

	if len(applier.applied) != 1 {
		t.Errorf("applied %d messages, want 1", len(applier.applied))
	}
}

// TestPoll_FetchFailureAbortsCycleOnly verifies a mail outage skips the
// cycle without touching downstream collaborators.
func TestPoll_FetchFailureAbortsCycleOnly(t *testing.T) {
	source := &fakeSource{errs: []error{errors.New("503")}}
	resolver := &fakeResolver{}

	p := NewPoller(PollerConfig{
		Source:   source,
		Filter:   &fakeFilter{},
		Resolver: resolver,
		Applier:  &fakeApplier{},
	})
	p.poll(context.Background())

	if len(resolver.order) != 0 {
		t.Errorf("resolved %d messages after fetch failure, want 0", len(resolver.order))
	}
}

// TestPoll_PerMessageFailureContinues verifies one bad message does not
// starve the rest of the cycle.
func TestPoll_PerMessageFailureContinues(t *testing.T) {
	source := &fakeSource{pages: [][]mail.RawMessage{{msg("<b>"), msg("<a>")}}}
	resolver := &fakeResolver{results: map[string]models.CorrelationResult{
		"<a>": {Action: "bogus"},
		"<b>": {Action: models.ActionCreate, MatchedBy: models.MatchedByNone},
	}}
	applier := &fakeApplier{}

	p := NewPoller(PollerConfig{
		Source:   source,
		Filter:   &fakeFilter{},
		Resolver: resolver,
		Applier:  applier,
	})
	p.poll(context.Background())

	if len(applier.applied) != 1 || applier.applied[0] != "<b>" {
		t.Errorf("applied = %v, want <b> despite <a> failing", applier.applied)
	}
}

// TestPoll_StopsBetweenMessagesOnCancel verifies cancellation is checked
// between messages within a cycle.
func TestPoll_StopsBetweenMessagesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := &fakeSource{pages: [][]mail.RawMessage{{msg("<b>"), msg("<a>")}}}
	resolver := &fakeResolver{}

	p := NewPoller(PollerConfig{
		Source:   source,
		Filter:   &fakeFilter{},
		Resolver: resolver,
		Applier:  &fakeApplier{},
	})
	p.poll(ctx)

	if len(resolver.order) != 0 {
		t.Errorf("resolved %d messages under a cancelled context, want 0", len(resolver.order))
	}
}

// TestRun_PollsImmediatelyAndStops verifies the loop fires once before
// the first tick and exits promptly on cancellation.
func TestRun_PollsImmediatelyAndStops(t *testing.T) {
	source := &fakeSource{pages: [][]mail.RawMessage{{msg("<a>")}}}
	applier := &fakeApplier{}

	p := NewPoller(PollerConfig{
		Source:   source,
		Filter:   &fakeFilter{},
		Resolver: &fakeResolver{},
		Applier:  applier,
		Interval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for applier.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("initial poll never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after cancellation")
	}

	source.mu.Lock()
	calls := source.calls
	source.mu.Unlock()
	if calls != 1 {
		t.Errorf("fetch calls = %d, want 1 (interval is an hour)", calls)
	}
}

// TestBuildEvent_TruncatesBody verifies the storage limit is applied in
// runes, not bytes.
func TestBuildEvent_TruncatesBody(t *testing.T) {
	m := msg("<a>")
	m.Body = strings.Repeat("ü", 2500)

	event := BuildEvent(m)
	if got := len([]rune(event.Body)); got != 2000 {
		t.Errorf("body length = %d runes, want 2000", got)
	}
}

// TestBuildEvent_CopiesHeaders verifies threading headers survive the
// conversion.
func TestBuildEvent_CopiesHeaders(t *testing.T) {
	m := mail.RawMessage{
		ProtocolID: "<m3@mail>",
		InReplyTo:  "<m2@mail>",
		References: []string{"<m1@mail>", "<m2@mail>"},
		FromEmail:  "cust@x.com",
		FromName:   "Customer",
		Subject:    "Re: help",
		Body:       "still broken",
	}

	event := BuildEvent(m)
	if event.ProtocolMessageID != "<m3@mail>" || event.InReplyTo != "<m2@mail>" {
		t.Errorf("headers not copied: %+v", event)
	}
	if len(event.References) != 2 {
		t.Errorf("references = %v, want 2 entries", event.References)
	}
}
