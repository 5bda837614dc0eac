package persistence

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/sanonone/kektorrag/pkg/core/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS vectors (
	id            TEXT PRIMARY KEY,
	collection_id TEXT NOT NULL,
	document_id   TEXT NOT NULL,
	file_name     TEXT NOT NULL,
	content_type  TEXT NOT NULL DEFAULT '',
	byte_start    INTEGER,
	byte_end      INTEGER,
	line_start    INTEGER,
	line_end      INTEGER,
	embedding     BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vectors_collection ON vectors(collection_id);
CREATE INDEX IF NOT EXISTS idx_vectors_document ON vectors(document_id);
`

// SQLiteStore keeps one row per record in a single table.
type SQLiteStore struct {
	db          *sql.DB
	path        string
	deleteBatch int
}

// NewSQLiteStore opens (or creates) the database file at path.
func NewSQLiteStore(path string, deleteBatchSize int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fault("open sqlite", err)
	}
	// A single connection serialises writers and keeps transactions simple.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fault("create schema", err)
	}
	if deleteBatchSize <= 0 {
		deleteBatchSize = DefaultDeleteBatchSize
	}
	return &SQLiteStore{db: db, path: path, deleteBatch: deleteBatchSize}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// encodeEmbedding packs a vector as little-endian float32.
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}

func rangeArgs(start, end *int) (any, any) {
	if start == nil {
		return nil, nil
	}
	return *start, *end
}

func (s *SQLiteStore) Put(ctx context.Context, rec types.Record) error {
	return s.PutBatch(ctx, []types.Record{rec})
}

func (s *SQLiteStore) PutBatch(ctx context.Context, recs []types.Record) error {
	if len(recs) == 0 {
		return checkCtx(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fault("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO vectors
		(id, collection_id, document_id, file_name, content_type, byte_start, byte_end, line_start, line_end, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fault("prepare insert", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		m := rec.Metadata
		var bs, be, ls, le any
		if m.Bytes != nil {
			bs, be = rangeArgs(&m.Bytes.Start, &m.Bytes.End)
		}
		if m.Lines != nil {
			ls, le = rangeArgs(&m.Lines.Start, &m.Lines.End)
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, m.CollectionID, m.DocumentID, m.FileName, m.ContentType,
			bs, be, ls, le, encodeEmbedding(rec.Vector)); err != nil {
			return fault("insert "+rec.ID, err)
		}
	}
	return fault("commit", tx.Commit())
}

func (s *SQLiteStore) GetAll(ctx context.Context) ([]types.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, collection_id, document_id, file_name, content_type,
		byte_start, byte_end, line_start, line_end, embedding FROM vectors ORDER BY rowid`)
	if err != nil {
		return nil, fault("query records", err)
	}
	defer rows.Close()

	out := []types.Record{}
	for rows.Next() {
		var (
			rec            types.Record
			bs, be, ls, le sql.NullInt64
			blob           []byte
		)
		m := &rec.Metadata
		if err := rows.Scan(&rec.ID, &m.CollectionID, &m.DocumentID, &m.FileName, &m.ContentType,
			&bs, &be, &ls, &le, &blob); err != nil {
			return nil, fault("scan record", err)
		}
		vec, err := decodeEmbedding(blob)
		if err != nil {
			slog.Warn("[SQLITE] Skipping corrupt record", "id", rec.ID, "error", err)
			continue
		}
		rec.Vector = vec
		if bs.Valid && be.Valid {
			m.Bytes = &types.ByteRange{Start: int(bs.Int64), End: int(be.Int64)}
		}
		if ls.Valid && le.Valid {
			m.Lines = &types.LineRange{Start: int(ls.Int64), End: int(le.Int64)}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("iterate records", err)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteByID(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vectors WHERE id = ?`, id); err != nil {
		return fault("delete "+id, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteByDocumentID(ctx context.Context, documentID string) ([]string, error) {
	return s.deleteOwned(ctx, "document_id", documentID)
}

func (s *SQLiteStore) DeleteByCollectionID(ctx context.Context, collectionID string) ([]string, error) {
	return s.deleteOwned(ctx, "collection_id", collectionID)
}

// deleteOwned looks ids up through the column index, then deletes them in
// transactions of at most deleteBatch rows.
func (s *SQLiteStore) deleteOwned(ctx context.Context, column, owner string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM vectors WHERE `+column+` = ?`, owner)
	if err != nil {
		return nil, fault("query "+column, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fault("scan id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fault("iterate ids", err)
	}

	deleted := make([]string, 0, len(ids))
	for _, batch := range chunk(ids, s.deleteBatch) {
		if err := s.deleteBatchTx(ctx, batch); err != nil {
			return deleted, err
		}
		deleted = append(deleted, batch...)
	}
	return deleted, nil
}

func (s *SQLiteStore) deleteBatchTx(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fault("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fault("delete batch", err)
	}
	return fault("commit", tx.Commit())
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vectors`); err != nil {
		return fault("clear", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return fault("close sqlite", s.db.Close())
}
