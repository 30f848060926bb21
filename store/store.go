// Package store is the single owner of all persistent state: document
// and chunk metadata, the full-text index, and the vector index,
// behind one SQLite connection.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/bbiangul/recall/rerr"
)

func init() {
	sqlite_vec.Auto()
}

// Document represents a row in the documents table.
type Document struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	Title       string `json:"title"`
	FileType    string `json:"file_type"`
	ByteSize    int64  `json:"byte_size"`
	ContentHash string `json:"content_hash"`
	MediaType   string `json:"media_type,omitempty"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	Metadata    string `json:"metadata,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// Document status values.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Document file-type values.
const (
	FileTypePDF        = "pdf"
	FileTypeText       = "text"
	FileTypeMarkdown   = "markdown"
	FileTypeVideo      = "video"
	FileTypeAudio      = "audio"
	FileTypeImage      = "image"
	FileTypeScreenshot = "screenshot"
	FileTypeUnknown    = "unknown"
)

// Chunk represents a row in the chunks table.
type Chunk struct {
	ID         int64    `json:"id"`
	DocumentID string   `json:"document_id"`
	ChunkIndex int      `json:"chunk_index"`
	Content    string   `json:"content"`
	TokenCount int      `json:"token_count"`
	ByteStart  *int     `json:"byte_start,omitempty"`
	ByteEnd    *int     `json:"byte_end,omitempty"`
	PageNumber *int     `json:"page_number,omitempty"`
	StartTime  *float64 `json:"start_time,omitempty"`
	EndTime    *float64 `json:"end_time,omitempty"`
	Metadata   string   `json:"metadata,omitempty"`
	CreatedAt  string   `json:"created_at"`
}

// Conversation represents a row in the conversations table.
type Conversation struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Message represents a row in the messages table.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	Citations      string `json:"citations,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// VectorHit is a raw k-NN result: a chunk id and its distance from the
// query vector (ascending = closer).
type VectorHit struct {
	ChunkID  int64
	Distance float64
}

// FTSHit is a raw full-text result: a chunk id and a higher-is-better
// relevance score (BM25 rank inverted).
type FTSHit struct {
	ChunkID int64
	Score   float64
}

// ChunkWithDocument joins a chunk to its owning document's identity,
// the shape the retriever materializes results into.
type ChunkWithDocument struct {
	Chunk
	DocumentTitle string
	DocumentPath  string
}

// Stats summarizes store contents.
type Stats struct {
	ByStatus    map[string]int `json:"by_status"`
	TotalChunks int            `json:"total_chunks"`
	TotalBytes  int64          `json:"total_bytes"`
}

// Store wraps the SQLite database for all persistence.
type Store struct {
	db           *sql.DB
	dbPath       string
	embeddingDim int
	vectorOK     bool
}

// New opens (or creates) a SQLite database at the given path and
// initializes the schema including sqlite-vec and FTS5 virtual tables.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, rerr.Wrap(rerr.Storage, err, "creating db directory")
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, rerr.Wrap(rerr.Storage, err, "opening database")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, rerr.Wrap(rerr.Storage, err, "pinging database")
	}

	for _, pragma := range []string{
		"PRAGMA synchronous=FULL",
		"PRAGMA mmap_size=268435456",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, rerr.Wrap(rerr.Storage, err, "setting pragma")
		}
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, rerr.Wrap(rerr.Storage, err, "creating schema")
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, dbPath: dbPath, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, rerr.Wrap(rerr.Storage, err, "running migrations")
	}

	s.vectorOK = s.probeVectorExtension()
	if !s.vectorOK {
		slog.Warn("vector extension did not load; vector search will be unavailable")
	}

	if err := s.cleanupOrphaned(context.Background()); err != nil {
		db.Close()
		return nil, rerr.Wrap(rerr.Storage, err, "cleaning up orphaned documents")
	}

	return s, nil
}

func (s *Store) probeVectorExtension() bool {
	var version string
	err := s.db.QueryRow("SELECT vec_version()").Scan(&version)
	return err == nil
}

// VectorExtensionLoaded reports whether the vec0 virtual table is usable.
func (s *Store) VectorExtensionLoaded() bool {
	return s.vectorOK
}

// cleanupOrphaned marks documents left in pending/processing by a prior
// crash as failed, since no ingestion run can be in flight at startup.
func (s *Store) cleanupOrphaned(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = 'failed', error = 'interrupted by restart', updated_at = CURRENT_TIMESTAMP
		WHERE status IN ('pending', 'processing')
	`)
	return err
}

// HardReset closes the database, deletes its files, and reopens a
// fresh store with the same path and embedding dimension.
func (s *Store) HardReset() error {
	if err := s.db.Close(); err != nil {
		return rerr.Wrap(rerr.Storage, err, "closing database before reset")
	}
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		_ = os.Remove(s.dbPath + suffix)
	}
	fresh, err := New(s.dbPath, s.embeddingDim)
	if err != nil {
		return err
	}
	*s = *fresh
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// CanonicalPath resolves symlinks and normalizes separators so that
// `/a/b` and `/a/./b` compare equal. It is idempotent.
func CanonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// The path may not exist yet (pre-creation lookups); fall back
		// to the cleaned absolute form.
		return filepath.Clean(abs), nil
	}
	return filepath.Clean(resolved), nil
}

// --- Document operations ---

// InsertDocument inserts a new document row, assigning a UUID if the
// caller left ID empty. Returns the assigned id.
func (s *Store) InsertDocument(ctx context.Context, doc Document) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, path, title, file_type, byte_size, content_hash, media_type, status, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.Path, doc.Title, doc.FileType, doc.ByteSize, doc.ContentHash, doc.MediaType, doc.Status, doc.Metadata)
	if err != nil {
		return "", rerr.Wrap(rerr.Storage, err, "inserting document")
	}
	return doc.ID, nil
}

func scanDocument(row interface{ Scan(...interface{}) error }) (*Document, error) {
	d := &Document{}
	var mediaType, errMsg, metadata, completedAt sql.NullString
	err := row.Scan(&d.ID, &d.Path, &d.Title, &d.FileType, &d.ByteSize, &d.ContentHash,
		&mediaType, &d.Status, &errMsg, &metadata, &d.CreatedAt, &d.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	d.MediaType = mediaType.String
	d.Error = errMsg.String
	d.Metadata = metadata.String
	d.CompletedAt = completedAt.String
	return d, nil
}

const documentColumns = `id, path, title, file_type, byte_size, content_hash, media_type, status, error, metadata, created_at, updated_at, completed_at`

// GetDocumentByID retrieves a document by id.
func (s *Store) GetDocumentByID(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, rerr.New(rerr.NotFound, "document "+id)
	}
	if err != nil {
		return nil, rerr.Wrap(rerr.Storage, err, "getting document")
	}
	return d, nil
}

// GetDocumentByPath canonicalizes path and retrieves the document at it.
func (s *Store) GetDocumentByPath(ctx context.Context, path string) (*Document, error) {
	canon, err := CanonicalPath(path)
	if err != nil {
		return nil, rerr.Wrap(rerr.Io, err, "canonicalizing path")
	}
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE path = ?", canon)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, rerr.New(rerr.NotFound, "document at "+canon)
	}
	if err != nil {
		return nil, rerr.Wrap(rerr.Storage, err, "getting document by path")
	}
	return d, nil
}

// GetDocumentByHash retrieves a document by its content hash.
func (s *Store) GetDocumentByHash(ctx context.Context, hash string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE content_hash = ? ORDER BY updated_at DESC LIMIT 1", hash)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, rerr.New(rerr.NotFound, "document with hash "+hash)
	}
	if err != nil {
		return nil, rerr.Wrap(rerr.Storage, err, "getting document by hash")
	}
	return d, nil
}

// ListDocuments returns all documents ordered by most-recently updated.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+documentColumns+" FROM documents ORDER BY updated_at DESC")
	if err != nil {
		return nil, rerr.Wrap(rerr.Storage, err, "listing documents")
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, rerr.Wrap(rerr.Storage, err, "scanning document")
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus updates status and, on failure, the error
// message. Reaching StatusCompleted stamps completed_at.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id, status, errMsg string) error {
	var completedClause string
	args := []interface{}{status, errMsg}
	if status == StatusCompleted {
		completedClause = ", completed_at = CURRENT_TIMESTAMP"
	}
	args = append(args, id)
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP"+completedClause+" WHERE id = ?",
		args...)
	if err != nil {
		return rerr.Wrap(rerr.Storage, err, "updating document status")
	}
	return nil
}

// UpdateDocumentPathAndTitle updates only path and title, used by the
// ingestion engine's rename-detection path.
func (s *Store) UpdateDocumentPathAndTitle(ctx context.Context, id, path, title string) error {
	canon, err := CanonicalPath(path)
	if err != nil {
		return rerr.Wrap(rerr.Io, err, "canonicalizing path")
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE documents SET path = ?, title = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		canon, title, id)
	if err != nil {
		return rerr.Wrap(rerr.Storage, err, "updating document path/title")
	}
	return nil
}

// UpdateDocumentTitle updates just the title.
func (s *Store) UpdateDocumentTitle(ctx context.Context, id, title string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET title = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", title, id)
	if err != nil {
		return rerr.Wrap(rerr.Storage, err, "updating document title")
	}
	return nil
}

// UpdateDocumentMetadata replaces the metadata JSON bag.
func (s *Store) UpdateDocumentMetadata(ctx context.Context, id, metadata string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET metadata = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", metadata, id)
	if err != nil {
		return rerr.Wrap(rerr.Storage, err, "updating document metadata")
	}
	return nil
}

// DeleteDocument removes a document and cascades to chunks (FK
// cascade keeps FTS in sync via triggers) and explicitly to vector
// rows, since the vector index is a separate virtual table the
// foreign key cannot reach. If the vector extension is unavailable
// the cascade still proceeds, logging a warning instead of failing.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if s.vectorOK {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM vec_chunks WHERE chunk_id IN (
					SELECT id FROM chunks WHERE document_id = ?
				)`, id); err != nil {
				slog.Warn("vector cascade delete failed", "document_id", id, "error", err)
			}
		} else {
			slog.Warn("vector extension unavailable; skipping vector cascade delete", "document_id", id)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id); err != nil {
			return err
		}
		return nil
	})
}

// --- Chunk operations ---

// InsertChunks inserts a batch of chunks for a document in a single
// transaction. It re-verifies the parent document exists inside the
// transaction to close a TOCTOU window against a concurrent delete.
func (s *Store) InsertChunks(ctx context.Context, documentID string, chunks []Chunk) ([]int64, error) {
	ids := make([]int64, len(chunks))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT 1 FROM documents WHERE id = ?", documentID).Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return rerr.New(rerr.NotFound, "document "+documentID+" vanished before chunk insert")
			}
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (document_id, chunk_index, content, token_count,
				byte_start, byte_end, page_number, start_time, end_time, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, c := range chunks {
			res, err := stmt.ExecContext(ctx, documentID, c.ChunkIndex, c.Content, c.TokenCount,
				c.ByteStart, c.ByteEnd, c.PageNumber, c.StartTime, c.EndTime, c.Metadata)
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ids[i] = id
		}
		return nil
	})
	if err != nil {
		return nil, rerr.Wrap(rerr.Storage, err, "inserting chunks")
	}
	return ids, nil
}

func scanChunk(row interface{ Scan(...interface{}) error }) (*Chunk, error) {
	c := &Chunk{}
	var metadata sql.NullString
	var byteStart, byteEnd, pageNumber sql.NullInt64
	var startTime, endTime sql.NullFloat64
	err := row.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.TokenCount,
		&byteStart, &byteEnd, &pageNumber, &startTime, &endTime, &metadata, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if byteStart.Valid {
		v := int(byteStart.Int64)
		c.ByteStart = &v
	}
	if byteEnd.Valid {
		v := int(byteEnd.Int64)
		c.ByteEnd = &v
	}
	if pageNumber.Valid {
		v := int(pageNumber.Int64)
		c.PageNumber = &v
	}
	if startTime.Valid {
		v := startTime.Float64
		c.StartTime = &v
	}
	if endTime.Valid {
		v := endTime.Float64
		c.EndTime = &v
	}
	c.Metadata = metadata.String
	return c, nil
}

const chunkColumns = `id, document_id, chunk_index, content, token_count, byte_start, byte_end, page_number, start_time, end_time, metadata, created_at`

// ListChunksByDocument returns all chunks for a document ordered by index.
func (s *Store) ListChunksByDocument(ctx context.Context, docID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+chunkColumns+" FROM chunks WHERE document_id = ? ORDER BY chunk_index", docID)
	if err != nil {
		return nil, rerr.Wrap(rerr.Storage, err, "listing chunks")
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, rerr.Wrap(rerr.Storage, err, "scanning chunk")
		}
		chunks = append(chunks, *c)
	}
	return chunks, rows.Err()
}

// GetChunkByID retrieves a single chunk.
func (s *Store) GetChunkByID(ctx context.Context, id int64) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+chunkColumns+" FROM chunks WHERE id = ?", id)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, rerr.Newf(rerr.NotFound, "chunk %d", id)
	}
	if err != nil {
		return nil, rerr.Wrap(rerr.Storage, err, "getting chunk")
	}
	return c, nil
}

// GetChunksByIDs retrieves chunks matching an IN-list of ids.
func (s *Store) GetChunksByIDs(ctx context.Context, ids []int64) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := "SELECT " + chunkColumns + " FROM chunks WHERE id IN (?" + repeatPlaceholders(len(ids)-1) + ")"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, rerr.Wrap(rerr.Storage, err, "getting chunks by ids")
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, rerr.Wrap(rerr.Storage, err, "scanning chunk")
		}
		chunks = append(chunks, *c)
	}
	return chunks, rows.Err()
}

// GetChunksWithDocument joins chunks to their owning documents,
// preserving the order of the requested ids (the order callers rank
// fused results in).
func (s *Store) GetChunksWithDocument(ctx context.Context, ids []int64) ([]ChunkWithDocument, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := "SELECT c.id, c.document_id, c.chunk_index, c.content, c.token_count, c.byte_start, c.byte_end, " +
		"c.page_number, c.start_time, c.end_time, c.metadata, c.created_at, d.title, d.path " +
		"FROM chunks c JOIN documents d ON d.id = c.document_id " +
		"WHERE c.id IN (?" + repeatPlaceholders(len(ids)-1) + ")"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, rerr.Wrap(rerr.Storage, err, "loading chunks with document")
	}
	defer rows.Close()

	byID := make(map[int64]ChunkWithDocument)
	for rows.Next() {
		var cwd ChunkWithDocument
		var metadata sql.NullString
		var byteStart, byteEnd, pageNumber sql.NullInt64
		var startTime, endTime sql.NullFloat64
		if err := rows.Scan(&cwd.ID, &cwd.DocumentID, &cwd.ChunkIndex, &cwd.Content, &cwd.TokenCount,
			&byteStart, &byteEnd, &pageNumber, &startTime, &endTime, &metadata, &cwd.CreatedAt,
			&cwd.DocumentTitle, &cwd.DocumentPath); err != nil {
			return nil, rerr.Wrap(rerr.Storage, err, "scanning chunk with document")
		}
		if byteStart.Valid {
			v := int(byteStart.Int64)
			cwd.ByteStart = &v
		}
		if byteEnd.Valid {
			v := int(byteEnd.Int64)
			cwd.ByteEnd = &v
		}
		if pageNumber.Valid {
			v := int(pageNumber.Int64)
			cwd.PageNumber = &v
		}
		if startTime.Valid {
			v := startTime.Float64
			cwd.StartTime = &v
		}
		if endTime.Valid {
			v := endTime.Float64
			cwd.EndTime = &v
		}
		cwd.Metadata = metadata.String
		byID[cwd.ID] = cwd
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ordered := make([]ChunkWithDocument, 0, len(ids))
	for _, id := range ids {
		if cwd, ok := byID[id]; ok {
			ordered = append(ordered, cwd)
		}
	}
	return ordered, nil
}

// --- Vector operations ---

// InsertEmbedding stores a vector embedding for a chunk.
func (s *Store) InsertEmbedding(ctx context.Context, chunkID int64, embedding []float32) error {
	if !s.vectorOK {
		return rerr.New(rerr.ExtensionLoad, "vector extension not loaded")
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)",
		chunkID, serializeFloat32(embedding))
	if err != nil {
		return rerr.Wrap(rerr.Embedding, err, "inserting embedding")
	}
	return nil
}

// InsertEmbeddings stores a batch of embeddings in one transaction.
func (s *Store) InsertEmbeddings(ctx context.Context, embeddings map[int64][]float32) error {
	if !s.vectorOK {
		return rerr.New(rerr.ExtensionLoad, "vector extension not loaded")
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for chunkID, vec := range embeddings {
			if _, err := stmt.ExecContext(ctx, chunkID, serializeFloat32(vec)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return rerr.Wrap(rerr.Embedding, err, "inserting embeddings")
	}
	return nil
}

// VectorSearch returns the k nearest chunks to queryEmbedding, sorted
// ascending by distance.
func (s *Store) VectorSearch(ctx context.Context, queryEmbedding []float32, k int) ([]VectorHit, error) {
	if !s.vectorOK {
		return nil, rerr.New(rerr.ExtensionLoad, "vector extension not loaded")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, distance FROM vec_chunks
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance
	`, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, rerr.Wrap(rerr.VectorSearch, err, "vector search")
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var h VectorHit
		if err := rows.Scan(&h.ChunkID, &h.Distance); err != nil {
			return nil, rerr.Wrap(rerr.VectorSearch, err, "scanning vector hit")
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// VectorSearchByChunkID runs k-NN using an existing chunk's own
// embedding as the query vector, excluding that chunk from results.
func (s *Store) VectorSearchByChunkID(ctx context.Context, chunkID int64, k int) ([]VectorHit, error) {
	if !s.vectorOK {
		return nil, rerr.New(rerr.ExtensionLoad, "vector extension not loaded")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, distance FROM vec_chunks
		WHERE embedding MATCH (SELECT embedding FROM vec_chunks WHERE chunk_id = ?) AND k = ?
		ORDER BY distance
	`, chunkID, k+1)
	if err != nil {
		return nil, rerr.Wrap(rerr.VectorSearch, err, "vector search by chunk id")
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var h VectorHit
		if err := rows.Scan(&h.ChunkID, &h.Distance); err != nil {
			return nil, rerr.Wrap(rerr.VectorSearch, err, "scanning vector hit")
		}
		if h.ChunkID == chunkID {
			continue
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// --- FTS operations ---

// FTSSearch runs a full-text query, returning chunk ids with a
// higher-is-better score (BM25's rank, which SQLite reports negative,
// inverted before return).
func (s *Store) FTSSearch(ctx context.Context, query string, limit int) ([]FTSHit, error) {
	if query == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT rowid, rank FROM chunks_fts
		WHERE chunks_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, rerr.Wrap(rerr.Storage, err, "fts search")
	}
	defer rows.Close()

	var hits []FTSHit
	for rows.Next() {
		var h FTSHit
		var rank float64
		if err := rows.Scan(&h.ChunkID, &rank); err != nil {
			return nil, rerr.Wrap(rerr.Storage, err, "scanning fts hit")
		}
		h.Score = -rank
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// --- Conversation/message operations ---

// CreateConversation inserts a new conversation, assigning a UUID.
func (s *Store) CreateConversation(ctx context.Context, title string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, "INSERT INTO conversations (id, title) VALUES (?, ?)", id, title)
	if err != nil {
		return "", rerr.Wrap(rerr.Storage, err, "creating conversation")
	}
	return id, nil
}

// GetConversation retrieves a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	c := &Conversation{}
	var title sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?", id).
		Scan(&c.ID, &title, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, rerr.New(rerr.NotFound, "conversation "+id)
	}
	if err != nil {
		return nil, rerr.Wrap(rerr.Storage, err, "getting conversation")
	}
	c.Title = title.String
	return c, nil
}

// ListConversations returns all conversations, most recently updated first.
func (s *Store) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC")
	if err != nil {
		return nil, rerr.Wrap(rerr.Storage, err, "listing conversations")
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		var title sql.NullString
		if err := rows.Scan(&c.ID, &title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, rerr.Wrap(rerr.Storage, err, "scanning conversation")
		}
		c.Title = title.String
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// DeleteConversation removes a conversation; its messages cascade via FK.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return rerr.Wrap(rerr.Storage, err, "deleting conversation")
	}
	return nil
}

// UpdateConversationTitle updates just the title.
func (s *Store) UpdateConversationTitle(ctx context.Context, id, title string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET title = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", title, id)
	if err != nil {
		return rerr.Wrap(rerr.Storage, err, "updating conversation title")
	}
	return nil
}

// AppendMessage inserts a message and bumps its conversation's updated_at.
func (s *Store) AppendMessage(ctx context.Context, msg Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, role, content, citations)
			VALUES (?, ?, ?, ?, ?)
		`, msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.Citations); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = ?", msg.ConversationID)
		return err
	})
	if err != nil {
		return "", rerr.Wrap(rerr.Storage, err, "appending message")
	}
	return msg.ID, nil
}

// ListMessagesByConversation returns messages ordered by creation time.
func (s *Store) ListMessagesByConversation(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, citations, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at
	`, conversationID)
	if err != nil {
		return nil, rerr.Wrap(rerr.Storage, err, "listing messages")
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var citations sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &citations, &m.CreatedAt); err != nil {
			return nil, rerr.Wrap(rerr.Storage, err, "scanning message")
		}
		m.Citations = citations.String
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// --- Stats ---

// GetStats computes aggregate counts over the store.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByStatus: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM documents GROUP BY status")
	if err != nil {
		return nil, rerr.Wrap(rerr.Storage, err, "counting documents by status")
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, rerr.Wrap(rerr.Storage, err, "scanning status count")
		}
		stats.ByStatus[status] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&stats.TotalChunks); err != nil {
		return nil, rerr.Wrap(rerr.Storage, err, "counting chunks")
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(SUM(byte_size), 0) FROM documents").Scan(&stats.TotalBytes); err != nil {
		return nil, rerr.Wrap(rerr.Storage, err, "summing bytes")
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func repeatPlaceholders(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// MarshalMetadata is a small convenience used across components that
// need to stash a metadata bag without importing encoding/json
// directly at every call site.
func MarshalMetadata(v interface{}) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
