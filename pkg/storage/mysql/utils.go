package mysql

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/coachkit/memcore-go/pkg/storage"
)

// entryColumns is the column list shared by all SELECT statements.
const entryColumns = `id, owner_id, content, category, importance, keywords, labels, embedding,
       semantic_hash, access_count, last_accessed_at, update_count, is_active, created_at, updated_at`

// rowScanner abstracts sql.Row and sql.Rows for scanEntry.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanEntry scans a memory entry from a database row or rows.
func scanEntry(scanner rowScanner) (*storage.MemoryEntry, error) {
	var entry storage.MemoryEntry
	var keywordsStr, labelsStr, embeddingStr sql.NullString
	var lastAccessedAt sql.NullTime
	var isActive int

	err := scanner.Scan(
		&entry.ID,
		&entry.OwnerID,
		&entry.Content,
		&entry.Category,
		&entry.ImportanceScore,
		&keywordsStr,
		&labelsStr,
		&embeddingStr,
		&entry.SemanticHash,
		&entry.AccessCount,
		&lastAccessedAt,
		&entry.UpdateCount,
		&isActive,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if keywordsStr.Valid && keywordsStr.String != "" {
		if err := json.Unmarshal([]byte(keywordsStr.String), &entry.Keywords); err != nil {
			return nil, fmt.Errorf("parse keywords: %w", err)
		}
	}
	if labelsStr.Valid && labelsStr.String != "" {
		if err := json.Unmarshal([]byte(labelsStr.String), &entry.Labels); err != nil {
			return nil, fmt.Errorf("parse labels: %w", err)
		}
	}
	if embeddingStr.Valid && embeddingStr.String != "" {
		if err := json.Unmarshal([]byte(embeddingStr.String), &entry.Embedding); err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
	}
	if lastAccessedAt.Valid {
		entry.LastAccessedAt = &lastAccessedAt.Time
	}
	entry.IsActive = isActive != 0

	return &entry, nil
}

// encodeSets JSON-encodes the keyword, label and embedding fields of an entry.
func encodeSets(entry *storage.MemoryEntry) (keywords, labels, embedding interface{}, err error) {
	keywordsJSON, err := encodeStringSet(entry.Keywords)
	if err != nil {
		return nil, nil, nil, err
	}
	labelsJSON, err := encodeStringSet(entry.Labels)
	if err != nil {
		return nil, nil, nil, err
	}
	embeddingJSON, err := encodeVector(entry.Embedding)
	if err != nil {
		return nil, nil, nil, err
	}
	return keywordsJSON, labelsJSON, embeddingJSON, nil
}

// encodeStringSet JSON-encodes a string set. Nil sets encode as SQL NULL.
func encodeStringSet(set []string) (interface{}, error) {
	if set == nil {
		return nil, nil
	}
	data, err := json.Marshal(set)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// encodeVector JSON-encodes an embedding vector. Nil vectors encode as SQL NULL.
func encodeVector(vec []float64) (interface{}, error) {
	if vec == nil {
		return nil, nil
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
