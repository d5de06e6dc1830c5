package feature

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteTable is the durable Tier-2 implementation over a local SQLite file.
type SQLiteTable struct {
	db *sql.DB
}

const featureRowsDDL = `
CREATE TABLE IF NOT EXISTS feature_rows (
	entity_id     TEXT NOT NULL,
	feature_group TEXT NOT NULL,
	payload       TEXT NOT NULL,
	version       INTEGER NOT NULL,
	updated_at    TEXT NOT NULL,
	PRIMARY KEY (entity_id, feature_group)
)`

// OpenSQLiteTable opens (creating if needed) the feature table at path.
// Use ":memory:" for an ephemeral store.
func OpenSQLiteTable(path string) (*SQLiteTable, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open feature db: %w", err)
	}
	// SQLite serializes writers; one connection avoids busy errors.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(featureRowsDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create feature_rows: %w", err)
	}
	return &SQLiteTable{db: db}, nil
}

// Close releases the underlying database handle.
func (t *SQLiteTable) Close() error { return t.db.Close() }

func (t *SQLiteTable) QueryRows(ctx context.Context, keys []Key) (map[Key]Row, error) {
	if len(keys) == 0 {
		return map[Key]Row{}, nil
	}
	var sb strings.Builder
	args := make([]any, 0, len(keys)*2)
	sb.WriteString(`SELECT entity_id, feature_group, payload, version, updated_at FROM feature_rows WHERE `)
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(" OR ")
		}
		sb.WriteString("(entity_id = ? AND feature_group = ?)")
		args = append(args, k.EntityID, k.Group)
	}
	rows, err := t.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, MarkTransient(fmt.Errorf("query feature_rows: %w", err))
	}
	defer rows.Close()

	out := make(map[Key]Row, len(keys))
	for rows.Next() {
		var (
			key       Key
			payload   string
			version   uint64
			updatedAt string
		)
		if err := rows.Scan(&key.EntityID, &key.Group, &payload, &version, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan feature row: %w", err)
		}
		values := map[string]any{}
		if err := json.Unmarshal([]byte(payload), &values); err != nil {
			return nil, fmt.Errorf("decode feature row %s/%s: %w", key.Group, key.EntityID, err)
		}
		fetched, _ := time.Parse(time.RFC3339Nano, updatedAt)
		out[key] = Row{Key: key, Values: values, Version: version, FetchedAt: fetched}
	}
	if err := rows.Err(); err != nil {
		return nil, MarkTransient(fmt.Errorf("iterate feature_rows: %w", err))
	}
	return out, nil
}

func (t *SQLiteTable) UpsertRow(ctx context.Context, key Key, values map[string]any, version uint64) error {
	payload, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode feature row: %w", err)
	}
	_, err = t.db.ExecContext(ctx, `
		INSERT INTO feature_rows (entity_id, feature_group, payload, version, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (entity_id, feature_group) DO UPDATE SET
			payload = excluded.payload,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		key.EntityID, key.Group, string(payload), version, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return MarkTransient(fmt.Errorf("upsert feature row: %w", err))
	}
	return nil
}

func (t *SQLiteTable) NextVersion(ctx context.Context, key Key) (uint64, error) {
	var current sql.NullInt64
	err := t.db.QueryRowContext(ctx,
		`SELECT version FROM feature_rows WHERE entity_id = ? AND feature_group = ?`,
		key.EntityID, key.Group).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return 0, MarkTransient(fmt.Errorf("read feature row version: %w", err))
	}
	return uint64(current.Int64) + 1, nil
}
