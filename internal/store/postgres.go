package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// PostgresOptions tune the pgvector backend.
type PostgresOptions struct {
	DSN            string
	Schema         string
	Dimensions     int
	M              int
	EfConstruction int
	EfSearch       int
	// DistMethod is the pgvector operator class: vector_cosine_ops,
	// vector_l2_ops or vector_ip_ops.
	DistMethod string
}

// PostgresStore implements VectorStore on Postgres with the pgvector
// extension and an HNSW index.
type PostgresStore struct {
	db       *sql.DB
	schema   string
	dims     int
	efSearch int
	operator string
	score    func(distance float64) float64
}

// OpenPostgres connects, pings and creates the schema.
func OpenPostgres(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	if !ValidCollectionName(opts.Schema) {
		return nil, fmt.Errorf("invalid schema name %q", opts.Schema)
	}
	op, score, err := distanceOperator(opts.DistMethod)
	if err != nil {
		return nil, err
	}
	if opts.DistMethod == "" {
		opts.DistMethod = "vector_cosine_ops"
	}
	if opts.M <= 0 {
		opts.M = 16
	}
	if opts.EfConstruction <= 0 {
		opts.EfConstruction = 64
	}

	db, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	ddl := fmt.Sprintf(postgresDDL, opts.Schema, opts.Dimensions, opts.DistMethod, opts.M, opts.EfConstruction)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &PostgresStore{
		db:       db,
		schema:   opts.Schema,
		dims:     opts.Dimensions,
		efSearch: opts.EfSearch,
		operator: op,
		score:    score,
	}, nil
}

func distanceOperator(method string) (string, func(float64) float64, error) {
	switch method {
	case "", "vector_cosine_ops":
		return "<=>", func(d float64) float64 { return 1 - d }, nil
	case "vector_l2_ops":
		return "<->", func(d float64) float64 { return 1 / (1 + d) }, nil
	case "vector_ip_ops":
		// <#> is the negated inner product.
		return "<#>", func(d float64) float64 { return -d }, nil
	default:
		return "", nil, fmt.Errorf("unsupported pgvector distance method %q", method)
	}
}

func (s *PostgresStore) table(name string) string {
	return s.schema + "." + name
}

func (s *PostgresStore) EnsureCollection(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+s.table("collections")+` (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	return err
}

func (s *PostgresStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.table("collections")+` WHERE name = $1)`, name).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) DropCollection(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table("collections")+` WHERE name = $1`, name)
	return err
}

func (s *PostgresStore) Upsert(ctx context.Context, collection string, entries []IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := s.EnsureCollection(ctx, collection); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO `+s.table("chunks")+` (collection, id, file_path, language, start_line, end_line,
		                                   content, content_hash, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::vector)
		ON CONFLICT (collection, id) DO UPDATE SET
			file_path = EXCLUDED.file_path,
			language = EXCLUDED.language,
			start_line = EXCLUDED.start_line,
			end_line = EXCLUDED.end_line,
			content = EXCLUDED.content,
			content_hash = EXCLUDED.content_hash,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if len(e.Embedding) != s.dims {
			return invalidRequest("chunk %s: embedding has %d dimensions, store expects %d", e.ID, len(e.Embedding), s.dims)
		}
		meta, err := encodeMetadata(e.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			collection, e.ID, e.FilePath, e.Language, e.StartLine, e.EndLine,
			e.Content, e.ContentHash, meta, vectorToString(e.Embedding),
		); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM `+s.table("chunks")+` WHERE collection = $1 AND id = $2`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, collection, id); err != nil {
			return fmt.Errorf("delete chunk %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) Query(ctx context.Context, collection string, embedding []float32, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}

	// ef_search is session state, so it is set inside the query's own transaction.
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if s.efSearch > 0 {
		if _, err := tx.ExecContext(ctx, "SET LOCAL hnsw.ef_search = "+strconv.Itoa(s.efSearch)); err != nil {
			return nil, fmt.Errorf("set ef_search: %w", err)
		}
	}

	query := `SELECT id, file_path, language, start_line, end_line, content, content_hash, metadata,
	                 embedding ` + s.operator + ` $1::vector AS distance
	          FROM ` + s.table("chunks") + `
	          WHERE collection = $2
	          ORDER BY embedding ` + s.operator + ` $1::vector
	          LIMIT $3`

	rows, err := tx.QueryContext(ctx, query, vectorToString(embedding), collection, topK)
	if err != nil {
		return nil, fmt.Errorf("search similar: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var meta []byte
		var distance float64
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.FilePath, &r.Chunk.Language, &r.Chunk.StartLine, &r.Chunk.EndLine,
			&r.Chunk.Content, &r.Chunk.ContentHash, &meta, &distance); err != nil {
			return nil, fmt.Errorf("scan similar: %w", err)
		}
		if r.Chunk.Metadata, err = decodeMetadata(string(meta)); err != nil {
			return nil, err
		}
		r.Score = s.score(distance)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	SortResults(results)
	return results, nil
}

func (s *PostgresStore) ChunksForFile(ctx context.Context, collection, path string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_path, language, start_line, end_line, content, content_hash, metadata
		FROM `+s.table("chunks")+`
		WHERE collection = $1 AND file_path = $2
		ORDER BY start_line, id`, collection, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var meta []byte
		if err := rows.Scan(&c.ID, &c.FilePath, &c.Language, &c.StartLine, &c.EndLine, &c.Content, &c.ContentHash, &meta); err != nil {
			return nil, err
		}
		if c.Metadata, err = decodeMetadata(string(meta)); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *PostgresStore) ListFiles(ctx context.Context, collection string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT file_path FROM `+s.table("chunks")+` WHERE collection = $1 ORDER BY file_path`, collection)
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

func (s *PostgresStore) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM `+s.table("meta")+` WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (s *PostgresStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+s.table("meta")+` (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return err
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// vectorToString converts a float32 slice to pgvector string format: [0.1,0.2,0.3].
func vectorToString(v []float32) string {
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = strconv.FormatFloat(float64(val), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
