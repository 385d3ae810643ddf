package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// SQLiteStore implements VectorStore backed by SQLite + sqlite-vec. Each
// collection gets its own vec0 table using cosine distance.
type SQLiteStore struct {
	db   *sql.DB
	dims int
}

// OpenSQLite creates or opens a SQLite database at the given path and
// initializes the schema. dims is the embedding size of every collection.
func OpenSQLite(ctx context.Context, dbPath string, dims int) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := initSQLite(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db, dims: dims}, nil
}

func (s *SQLiteStore) EnsureCollection(ctx context.Context, name string) error {
	if !ValidCollectionName(name) {
		return invalidRequest("collection name %q", name)
	}
	if _, err := s.db.ExecContext(ctx, vecTableDDL(name, s.dims)); err != nil {
		return fmt.Errorf("create vector table: %w", err)
	}
	_, err := s.db.ExecContext(ctx, "INSERT INTO collections (name) VALUES (?) ON CONFLICT(name) DO NOTHING", name)
	return err
}

func (s *SQLiteStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM collections WHERE name = ?", name).Scan(&n)
	return n > 0, err
}

func (s *SQLiteStore) DropCollection(ctx context.Context, name string) error {
	if !ValidCollectionName(name) {
		return invalidRequest("collection name %q", name)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+vecTable(name)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE collection = ?", name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", name); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Upsert(ctx context.Context, collection string, entries []IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := s.EnsureCollection(ctx, collection); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	vt := vecTable(collection)
	for _, e := range entries {
		if len(e.Embedding) != s.dims {
			return invalidRequest("chunk %s: embedding has %d dimensions, store expects %d", e.ID, len(e.Embedding), s.dims)
		}
		blob, err := sqlite_vec.SerializeFloat32(e.Embedding)
		if err != nil {
			return fmt.Errorf("serialize embedding for chunk %s: %w", e.ID, err)
		}
		meta, err := encodeMetadata(e.Metadata)
		if err != nil {
			return err
		}

		var pk int64
		err = tx.QueryRowContext(ctx, "SELECT pk FROM chunks WHERE collection = ? AND id = ?", collection, e.ID).Scan(&pk)
		switch {
		case err == nil:
			_, err = tx.ExecContext(ctx,
				`UPDATE chunks SET file_path = ?, language = ?, start_line = ?, end_line = ?,
				 content = ?, content_hash = ?, metadata = ? WHERE pk = ?`,
				e.FilePath, e.Language, e.StartLine, e.EndLine, e.Content, e.ContentHash, meta, pk)
			if err != nil {
				return fmt.Errorf("update chunk %s: %w", e.ID, err)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+vt+" WHERE chunk_pk = ?", pk); err != nil {
				return fmt.Errorf("replace embedding for chunk %s: %w", e.ID, err)
			}
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx,
				`INSERT INTO chunks (collection, id, file_path, language, start_line, end_line, content, content_hash, metadata)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				collection, e.ID, e.FilePath, e.Language, e.StartLine, e.EndLine, e.Content, e.ContentHash, meta)
			if err != nil {
				return fmt.Errorf("insert chunk %s: %w", e.ID, err)
			}
			if pk, err = res.LastInsertId(); err != nil {
				return err
			}
		default:
			return err
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO "+vt+" (chunk_pk, embedding) VALUES (?, ?)", pk, blob); err != nil {
			return fmt.Errorf("insert embedding for chunk %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	exists, err := s.CollectionExists(ctx, collection)
	if err != nil || !exists {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	vt := vecTable(collection)
	for _, id := range ids {
		var pk int64
		err := tx.QueryRowContext(ctx, "SELECT pk FROM chunks WHERE collection = ? AND id = ?", collection, id).Scan(&pk)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+vt+" WHERE chunk_pk = ?", pk); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE pk = ?", pk); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Query(ctx context.Context, collection string, embedding []float32, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	exists, err := s.CollectionExists(ctx, collection)
	if err != nil || !exists {
		return nil, err
	}
	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT v.distance, c.id, c.file_path, c.language, c.start_line, c.end_line,
		       c.content, c.content_hash, c.metadata
		FROM `+vecTable(collection)+` v
		JOIN chunks c ON c.pk = v.chunk_pk
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, blob, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var distance float64
		var meta string
		if err := rows.Scan(&distance, &r.Chunk.ID, &r.Chunk.FilePath, &r.Chunk.Language,
			&r.Chunk.StartLine, &r.Chunk.EndLine, &r.Chunk.Content, &r.Chunk.ContentHash, &meta); err != nil {
			return nil, err
		}
		if r.Chunk.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		r.Score = 1 - distance
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	SortResults(results)
	return results, nil
}

func (s *SQLiteStore) ChunksForFile(ctx context.Context, collection, path string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_path, language, start_line, end_line, content, content_hash, metadata
		FROM chunks WHERE collection = ? AND file_path = ?
		ORDER BY start_line, id
	`, collection, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var meta string
		if err := rows.Scan(&c.ID, &c.FilePath, &c.Language, &c.StartLine, &c.EndLine, &c.Content, &c.ContentHash, &meta); err != nil {
			return nil, err
		}
		if c.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) ListFiles(ctx context.Context, collection string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT file_path FROM chunks WHERE collection = ? ORDER BY file_path", collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]string, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}
