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

// Package knowledge implements the similarity oracle: embedding-based text
// similarity, top-k context retrieval over a Postgres chunk table, and the
// learning loop that feeds resolved question/answer pairs back into the
// index.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Chunk is one indexed knowledge snippet with its embedding.
type Chunk struct {
	ID        int64
	SourceTag string
	Content   string
	Embedding []float32
}

// ChunkStore persists knowledge chunks in Postgres.
type ChunkStore struct {
	pool *pgxpool.Pool
}

// NewChunkStore creates the chunk store and ensures its schema.
func NewChunkStore(ctx context.Context, pool *pgxpool.Pool) (*ChunkStore, error) {
	s := &ChunkStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure knowledge schema: %w", err)
	}
	slog.Info("knowledge chunk store initialised")
	return s, nil
}

func (s *ChunkStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS knowledge_chunks (
			id         BIGSERIAL PRIMARY KEY,
			source_tag TEXT NOT NULL DEFAULT '',
			content    TEXT NOT NULL,
			embedding  REAL[] NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_source ON knowledge_chunks(source_tag);
	`)
	return err
}

// Insert stores a chunk with its embedding.
func (s *ChunkStore) Insert(ctx context.Context, sourceTag, content string, embedding []float32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO knowledge_chunks (source_tag, content, embedding)
		VALUES ($1, $2, $3)
	`, sourceTag, content, embedding)
	if err != nil {
		return fmt.Errorf("insert knowledge chunk: %w", err)
	}
	return nil
}

// ListRecent returns the newest chunks up to limit. Retrieval ranks these
// in process; the table is expected to stay small enough that scanning the
// recent window is cheaper than maintaining a vector index.
func (s *ChunkStore) ListRecent(ctx context.Context, limit int) ([]Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_tag, content, embedding
		FROM knowledge_chunks
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list knowledge chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.SourceTag, &c.Content, &c.Embedding); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// RemoveBySource deletes all chunks carrying a source tag. Used when a
// knowledge document is withdrawn.
func (s *ChunkStore) RemoveBySource(ctx context.Context, sourceTag string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM knowledge_chunks WHERE source_tag = $1
	`, sourceTag)
	if err != nil {
		return 0, fmt.Errorf("remove knowledge chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}
