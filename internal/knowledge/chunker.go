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

package knowledge

import "strings"

const (
	chunkSize    = 500
	chunkOverlap = 50
)

var sentenceEnds = []string{". ", "! ", "? "}

// ChunkText splits document text into overlapping chunks sized for
// embedding. Chunks prefer to end at a sentence boundary when one falls
// in the second half of the window; consecutive chunks overlap so a
// sentence cut by a hard boundary still appears whole in one of them.
func ChunkText(text string) []string {
	runes := []rune(strings.Join(strings.Fields(text), " "))
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else if cut := lastSentenceEnd(runes, start+chunkSize/2, end); cut != -1 {
			end = cut + 1
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= len(runes) {
			break
		}
		start = end - chunkOverlap
	}
	return chunks
}

// lastSentenceEnd returns the index of the final sentence-ending
// punctuation within runes[lo:hi), or -1.
func lastSentenceEnd(runes []rune, lo, hi int) int {
	window := string(runes[lo:hi])
	best := -1
	for _, punct := range sentenceEnds {
		if i := strings.LastIndex(window, punct); i > best {
			best = i
		}
	}
	if best == -1 {
		return -1
	}
	// window is built from runes, so byte offsets need converting back.
	return lo + len([]rune(window[:best]))
}
