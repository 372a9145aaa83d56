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

// Package correlate decides whether an inbound email event belongs to an
// existing ticket thread or starts a new one. Matching is a fixed cascade:
// protocol reply headers, then explicit ticket references, then
// recency-bounded fuzzy/semantic similarity against the sender's recent
// tickets. Earlier layers always win regardless of later layers' scores.
package correlate

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	replyPrefixRe = regexp.MustCompile(`(?i)^(re|fwd|fw|aw|sv):\s*`)
	bracketTagRe  = regexp.MustCompile(`\[.*?\]`)

	ticketRefRes = []*regexp.Regexp{
		regexp.MustCompile(`#(\d+)`),
		regexp.MustCompile(`(?i)Ticket[-\s]?(\d+)`),
		regexp.MustCompile(`(?i)INC(\d+)`),
	}
)

// NormalizeSubject strips a leading reply/forward marker and every
// bracketed tag from a subject line, then trims and lowercases.
// Empty input yields the empty string.
func NormalizeSubject(s string) string {
	if s == "" {
		return ""
	}
	s = strings.TrimSpace(s)
	s = replyPrefixRe.ReplaceAllString(s, "")
	s = bracketTagRe.ReplaceAllString(s, "")
	return strings.ToLower(strings.TrimSpace(s))
}

// ExtractTicketRefs scans free text for explicit ticket identifiers
// (#123, Ticket-123, INC123) and returns the deduplicated digit strings
// in ascending numeric order. The ordering makes the "first existing
// reference wins" policy deterministic.
func ExtractTicketRefs(s string) []string {
	if s == "" {
		return nil
	}

	seen := make(map[string]bool)
	var refs []string
	for _, re := range ticketRefRes {
		for _, m := range re.FindAllStringSubmatch(s, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				refs = append(refs, m[1])
			}
		}
	}

	sort.Slice(refs, func(i, j int) bool {
		a, _ := strconv.ParseInt(refs[i], 10, 64)
		b, _ := strconv.ParseInt(refs[j], 10, 64)
		if a != b {
			return a < b
		}
		return refs[i] < refs[j]
	})

	return refs
}
