package store

import (
	"context"
	"database/sql"
	"fmt"
)

const sqliteDDL = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS collections (
    name       TEXT PRIMARY KEY,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chunks (
    pk           INTEGER PRIMARY KEY AUTOINCREMENT,
    collection   TEXT NOT NULL,
    id           TEXT NOT NULL,
    file_path    TEXT NOT NULL,
    language     TEXT NOT NULL DEFAULT '',
    start_line   INTEGER NOT NULL,
    end_line     INTEGER NOT NULL,
    content      TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    metadata     TEXT NOT NULL DEFAULT '{}',
    UNIQUE (collection, id)
);

CREATE INDEX IF NOT EXISTS chunks_by_file ON chunks (collection, file_path);

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// initSQLite creates the schema tables if they don't exist.
func initSQLite(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, sqliteDDL)
	return err
}

// vecTable is the sqlite-vec table holding one collection's embeddings.
func vecTable(collection string) string {
	return "vec_" + collection
}

func vecTableDDL(collection string, dims int) string {
	return fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(
    chunk_pk INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
)`, vecTable(collection), dims)
}

const postgresDDL = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[1]s.collections (
    name       TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS %[1]s.chunks (
    collection   TEXT NOT NULL REFERENCES %[1]s.collections(name) ON DELETE CASCADE,
    id           TEXT NOT NULL,
    file_path    TEXT NOT NULL,
    language     TEXT NOT NULL DEFAULT '',
    start_line   INTEGER NOT NULL,
    end_line     INTEGER NOT NULL,
    content      TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    metadata     JSONB NOT NULL DEFAULT '{}',
    embedding    vector(%[2]d) NOT NULL,
    PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS chunks_by_file ON %[1]s.chunks (collection, file_path);

CREATE INDEX IF NOT EXISTS chunks_embedding_hnsw ON %[1]s.chunks
    USING hnsw (embedding %[3]s) WITH (m = %[4]d, ef_construction = %[5]d);

CREATE TABLE IF NOT EXISTS %[1]s.meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
