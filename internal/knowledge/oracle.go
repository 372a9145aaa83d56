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

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// embedCachePrefix namespaces cached embeddings in Redis.
	embedCachePrefix = "helpdesk:emb:"
	embedCacheTTL    = 24 * time.Hour

	// retrievalScanLimit caps how many chunks one retrieval ranks.
	retrievalScanLimit = 500
)

// Embedder produces embedding vectors for text. Satisfied by the OpenAI
// client; tests substitute a fake.
type Embedder interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Oracle computes text similarity and retrieves contextually relevant
// knowledge snippets. Correlation treats oracle failures as "no signal",
// so every method surfaces errors instead of guessing.
type Oracle struct {
	embedder Embedder
	model    openai.EmbeddingModel
	chunks   *ChunkStore
	rdb      *redis.Client
}

// NewOracle creates a similarity oracle. rdb may be nil to disable the
// embedding cache (every call then hits the embedding endpoint).
func NewOracle(embedder Embedder, model string, chunks *ChunkStore, rdb *redis.Client) *Oracle {
	return &Oracle{
		embedder: embedder,
		model:    openai.EmbeddingModel(model),
		chunks:   chunks,
		rdb:      rdb,
	}
}

// Similarity returns the cosine similarity of two texts on a 0–1 scale.
func (o *Oracle) Similarity(ctx context.Context, a, b string) (float64, error) {
	va, err := o.embed(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := o.embed(ctx, b)
	if err != nil {
		return 0, err
	}
	return clampScore(cosine(va, vb)), nil
}

// RetrieveContext returns up to k chunk contents most similar to query,
// best first. An empty index yields an empty slice, not an error.
func (o *Oracle) RetrieveContext(ctx context.Context, query string, k int) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}

	chunks, err := o.chunks.ListRecent(ctx, retrievalScanLimit)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	qv, err := o.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	type scored struct {
		content string
		score   float64
	}
	ranked := make([]scored, 0, len(chunks))
	for _, c := range chunks {
		ranked = append(ranked, scored{
			content: c.Content,
			score:   cosine(qv, c.Embedding),
		})
	}

	// Selection sort over k is fine for the small k used here.
	results := make([]string, 0, k)
	for len(results) < k && len(ranked) > 0 {
		best := 0
		for i := 1; i < len(ranked); i++ {
			if ranked[i].score > ranked[best].score {
				best = i
			}
		}
		results = append(results, ranked[best].content)
		ranked = append(ranked[:best], ranked[best+1:]...)
	}
	return results, nil
}

// IndexPair feeds a resolved question/answer pair back into the index so
// future retrievals can reuse it: the learning loop.
func (o *Oracle) IndexPair(ctx context.Context, question, answer, sourceTag string) error {
	content := fmt.Sprintf("Q: %s\nA: %s", question, answer)
	v, err := o.embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed knowledge pair: %w", err)
	}
	if err := o.chunks.Insert(ctx, sourceTag, content, v); err != nil {
		return err
	}
	slog.Info("knowledge pair indexed", "source", sourceTag)
	return nil
}

// RemoveSource withdraws every chunk indexed under a source tag and
// returns how many were removed.
func (o *Oracle) RemoveSource(ctx context.Context, sourceTag string) (int64, error) {
	return o.chunks.RemoveBySource(ctx, sourceTag)
}

// IndexChunks embeds and stores document chunks under a source tag.
func (o *Oracle) IndexChunks(ctx context.Context, sourceTag string, contents []string) (int, error) {
	indexed := 0
	for _, content := range contents {
		if content == "" {
			continue
		}
		v, err := o.embed(ctx, content)
		if err != nil {
			return indexed, fmt.Errorf("embed chunk: %w", err)
		}
		if err := o.chunks.Insert(ctx, sourceTag, content, v); err != nil {
			return indexed, err
		}
		indexed++
	}
	return indexed, nil
}

// embed returns the embedding for text, consulting the Redis cache first.
// Cache failures are logged and bypassed; the embedding endpoint is the
// source of truth.
func (o *Oracle) embed(ctx context.Context, text string) ([]float32, error) {
	key := embedCachePrefix + hashText(text)

	if o.rdb != nil {
		if raw, err := o.rdb.Get(ctx, key).Bytes(); err == nil {
			var v []float32
			if err := json.Unmarshal(raw, &v); err == nil && len(v) > 0 {
				return v, nil
			}
		} else if err != redis.Nil {
			slog.Warn("embedding cache read failed", "error", err)
		}
	}

	resp, err := o.embedder.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: o.model,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding response empty")
	}
	v := resp.Data[0].Embedding

	if o.rdb != nil {
		if raw, err := json.Marshal(v); err == nil {
			if err := o.rdb.Set(ctx, key, raw, embedCacheTTL).Err(); err != nil {
				slog.Warn("embedding cache write failed", "error", err)
			}
		}
	}

	return v, nil
}

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// cosine computes cosine similarity between two vectors. Mismatched or
// empty vectors score zero.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// clampScore maps cosine output onto the [0,1] scale the engine expects.
func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
