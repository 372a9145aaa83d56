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
	"errors"
	"math"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

// fakeEmbedder maps input text to fixed vectors.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) CreateEmbeddings(_ context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	f.calls++
	if f.err != nil {
		return openai.EmbeddingResponse{}, f.err
	}

	er, ok := req.(openai.EmbeddingRequest)
	if !ok {
		return openai.EmbeddingResponse{}, errors.New("unexpected request type")
	}
	inputs, ok := er.Input.([]string)
	if !ok || len(inputs) == 0 {
		return openai.EmbeddingResponse{}, errors.New("unexpected input shape")
	}

	v, ok := f.vectors[inputs[0]]
	if !ok {
		v = []float32{1, 0, 0}
	}
	return openai.EmbeddingResponse{
		Data: []openai.Embedding{{Embedding: v}},
	}, nil
}

func TestSimilarity(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"login broken":  {1, 0, 0},
		"cannot log in": {1, 0, 0},
		"invoice copy":  {0, 1, 0},
	}}
	o := NewOracle(emb, "test-embed", nil, nil)

	same, err := o.Similarity(context.Background(), "login broken", "cannot log in")
	if err != nil {
		t.Fatalf("Similarity failed: %v", err)
	}
	if math.Abs(same-1.0) > 1e-9 {
		t.Errorf("identical vectors scored %v, want 1.0", same)
	}

	other, err := o.Similarity(context.Background(), "login broken", "invoice copy")
	if err != nil {
		t.Fatalf("Similarity failed: %v", err)
	}
	if other != 0 {
		t.Errorf("orthogonal vectors scored %v, want 0", other)
	}
}

func TestSimilarity_EmbedderFailure(t *testing.T) {
	o := NewOracle(&fakeEmbedder{err: errors.New("quota exceeded")}, "test-embed", nil, nil)
	if _, err := o.Similarity(context.Background(), "a", "b"); err == nil {
		t.Fatal("expected error from broken embedder")
	}
}

func TestSimilarity_EmptyResponse(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"a": {}}}
	o := NewOracle(emb, "test-embed", nil, nil)
	if _, err := o.Similarity(context.Background(), "a", "b"); err == nil {
		t.Fatal("expected error for empty embedding vector")
	}
}

// TestSimilarity_NoCacheHitsEndpointEveryCall pins the nil-Redis
// behavior: each embed goes to the endpoint.
func TestSimilarity_NoCacheHitsEndpointEveryCall(t *testing.T) {
	emb := &fakeEmbedder{}
	o := NewOracle(emb, "test-embed", nil, nil)

	if _, err := o.Similarity(context.Background(), "x", "y"); err != nil {
		t.Fatalf("Similarity failed: %v", err)
	}
	if _, err := o.Similarity(context.Background(), "x", "y"); err != nil {
		t.Fatalf("Similarity failed: %v", err)
	}
	if emb.calls != 4 {
		t.Errorf("embedder calls = %d, want 4 without a cache", emb.calls)
	}
}

func TestCosine(t *testing.T) {
	for _, tt := range []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0.0},
		{"empty", nil, nil, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosine = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClampScore(t *testing.T) {
	for _, tt := range []struct {
		in, want float64
	}{
		{-0.3, 0},
		{0, 0},
		{0.85, 0.85},
		{1, 1},
		{1.2, 1},
	} {
		if got := clampScore(tt.in); got != tt.want {
			t.Errorf("clampScore(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHashText_Stable(t *testing.T) {
	if hashText("abc") != hashText("abc") {
		t.Error("hash not deterministic")
	}
	if hashText("abc") == hashText("abd") {
		t.Error("distinct inputs collided")
	}
}
