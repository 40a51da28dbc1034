// Package mysql provides a MySQL implementation of the memory store.
//
// It works against MySQL 8+ and MySQL-protocol-compatible databases.
// Embeddings and string sets are stored as JSON columns.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/coachkit/memcore-go/pkg/storage"
)

// Client implements storage.Store using MySQL as the backend.
type Client struct {
	db        *sql.DB
	tableName string
}

// Config contains configuration for creating a MySQL store.
type Config struct {
	// Host is the database server hostname.
	Host string

	// Port is the database server port.
	Port int

	// User is the database user.
	User string

	// Password is the database password.
	Password string

	// DBName is the database name.
	DBName string

	// TableName is the name of the table to use. Defaults to "memories".
	TableName string
}

// NewClient creates a new MySQL store client.
//
// Parameters:
//   - cfg: Configuration containing connection parameters and table name
//
// Returns:
//   - *Client: The MySQL client instance
//   - error: Error if database connection or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}

	tableName := cfg.TableName
	if tableName == "" {
		tableName = "memories"
	}

	client := &Client{
		db:        db,
		tableName: tableName,
	}

	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

// initTables initializes the database table structure.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			owner_id VARCHAR(128) NOT NULL,
			content LONGTEXT NOT NULL,
			category VARCHAR(64) NOT NULL,
			importance DOUBLE NOT NULL DEFAULT 0.5,
			keywords JSON,
			labels JSON,
			embedding JSON,
			semantic_hash VARCHAR(64) NOT NULL,
			access_count INT NOT NULL DEFAULT 0,
			last_accessed_at DATETIME NULL,
			update_count INT NOT NULL DEFAULT 1,
			is_active TINYINT(1) NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_owner_hash (owner_id, semantic_hash),
			INDEX idx_owner_active (owner_id, is_active, created_at)
		)
	`, c.tableName)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	return nil
}

// Insert inserts a memory and returns its ID.
func (c *Client) Insert(ctx context.Context, entry *storage.MemoryEntry) (int64, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, owner_id, content, category, importance, keywords, labels, embedding,
		 semantic_hash, update_count, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.tableName)

	keywordsJSON, labelsJSON, embeddingJSON, err := encodeSets(entry)
	if err != nil {
		return 0, fmt.Errorf("Insert: %w", err)
	}

	now := time.Now()
	_, err = c.db.ExecContext(ctx, query,
		entry.ID,
		entry.OwnerID,
		entry.Content,
		entry.Category,
		entry.ImportanceScore,
		keywordsJSON,
		labelsJSON,
		embeddingJSON,
		entry.SemanticHash,
		1,
		1,
		now,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("Insert: %w", err)
	}

	return entry.ID, nil
}

// UpdateContent replaces a memory's content, importance, labels and keywords
// in place, incrementing its update count.
func (c *Client) UpdateContent(ctx context.Context, id int64, content string, importance float64, labels, keywords []string) error {
	keywordsJSON, err := encodeStringSet(keywords)
	if err != nil {
		return fmt.Errorf("UpdateContent: %w", err)
	}
	labelsJSON, err := encodeStringSet(labels)
	if err != nil {
		return fmt.Errorf("UpdateContent: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET content = ?, importance = ?, labels = ?, keywords = ?,
		    update_count = update_count + 1, updated_at = ?
		WHERE id = ?
	`, c.tableName)

	result, err := c.db.ExecContext(ctx, query, content, importance, labelsJSON, keywordsJSON, time.Now(), id)
	if err != nil {
		return fmt.Errorf("UpdateContent: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateContent: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("UpdateContent: memory %d not found", id)
	}

	return nil
}

// UpdateEmbedding attaches a computed embedding to an existing memory.
func (c *Client) UpdateEmbedding(ctx context.Context, id int64, embedding []float64) error {
	embeddingJSON, err := encodeVector(embedding)
	if err != nil {
		return fmt.Errorf("UpdateEmbedding: %w", err)
	}

	query := fmt.Sprintf(`UPDATE %s SET embedding = ?, updated_at = ? WHERE id = ?`, c.tableName)

	if _, err := c.db.ExecContext(ctx, query, embeddingJSON, time.Now(), id); err != nil {
		return fmt.Errorf("UpdateEmbedding: %w", err)
	}

	return nil
}

// FindBySemanticHash returns the active memory with the given
// (owner, semantic hash) pair, or nil if none exists.
func (c *Client) FindBySemanticHash(ctx context.Context, ownerID, hash string) (*storage.MemoryEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE owner_id = ? AND semantic_hash = ? AND is_active = 1
		LIMIT 1
	`, entryColumns, c.tableName)

	row := c.db.QueryRowContext(ctx, query, ownerID, hash)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindBySemanticHash: %w", err)
	}

	return entry, nil
}

// FindActiveSince returns the owner's active memories created at or after
// the given time, newest first.
func (c *Client) FindActiveSince(ctx context.Context, ownerID string, since time.Time) ([]*storage.MemoryEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE owner_id = ? AND is_active = 1 AND created_at >= ?
		ORDER BY created_at DESC
	`, entryColumns, c.tableName)

	return c.queryEntries(ctx, "FindActiveSince", query, ownerID, since)
}

// FindAllActive returns all of the owner's active memories, newest first.
func (c *Client) FindAllActive(ctx context.Context, ownerID string) ([]*storage.MemoryEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE owner_id = ? AND is_active = 1
		ORDER BY created_at DESC
	`, entryColumns, c.tableName)

	return c.queryEntries(ctx, "FindAllActive", query, ownerID)
}

// SoftDelete marks a memory inactive.
func (c *Client) SoftDelete(ctx context.Context, id int64) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET is_active = 0, updated_at = ? WHERE id = ? AND is_active = 1
	`, c.tableName)

	result, err := c.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return false, fmt.Errorf("SoftDelete: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("SoftDelete: %w", err)
	}

	return rowsAffected > 0, nil
}

// TouchAccess increments access counts and stamps last-accessed time for
// the given memories.
func (c *Client) TouchAccess(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		UPDATE %s SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?
	`, c.tableName)

	now := time.Now()
	for _, id := range ids {
		if _, err := c.db.ExecContext(ctx, query, now, id); err != nil {
			return fmt.Errorf("TouchAccess: %w", err)
		}
	}

	return nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// queryEntries runs a multi-row query and scans the results.
func (c *Client) queryEntries(ctx context.Context, op, query string, args ...interface{}) ([]*storage.MemoryEntry, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*storage.MemoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return entries, nil
}
