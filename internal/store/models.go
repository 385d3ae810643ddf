package store

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Chunk is a contiguous line range of a source file, the unit of retrieval.
// Chunks are never modified in place; a changed chunk is replaced whole.
type Chunk struct {
	ID          string            `json:"id"`
	FilePath    string            `json:"file_path"`
	Language    string            `json:"language"`
	StartLine   int               `json:"start_line"`
	EndLine     int               `json:"end_line"`
	Content     string            `json:"content"`
	ContentHash string            `json:"content_hash"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// IndexEntry is a chunk together with its embedding, as stored.
type IndexEntry struct {
	Chunk
	Embedding []float32
}

// SearchResult is a stored chunk and its similarity to a query. Higher
// scores are more similar.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// ChunkID derives the id of the index-th chunk of a file. Re-chunking an
// unchanged file reproduces the same ids.
func ChunkID(filePath string, index int) string {
	sum := sha256.Sum256([]byte(filePath + ":" + strconv.Itoa(index)))
	return hex.EncodeToString(sum[:])
}

// ContentHash is the digest used to detect unchanged chunks.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// SameStored reports whether two chunks with the same id would be stored
// identically, so that replacing one with the other is a no-op.
func SameStored(a, b Chunk) bool {
	return a.ContentHash == b.ContentHash && a.StartLine == b.StartLine && a.EndLine == b.EndLine
}
