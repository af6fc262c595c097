// Package sqlite persists collections in a SQLite database through the pure
// Go modernc.org/sqlite driver. Embeddings are stored as little-endian
// float32 blobs and scored in Go.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"

	"github.com/becomeliminal/semantic-memory/memory"
	"github.com/becomeliminal/semantic-memory/memory/index"
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	name       TEXT PRIMARY KEY,
	dimension  INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
	collection           TEXT NOT NULL REFERENCES collections(name) ON DELETE CASCADE,
	key                  TEXT NOT NULL,
	seq                  INTEGER NOT NULL,
	text                 TEXT NOT NULL DEFAULT '',
	description          TEXT NOT NULL DEFAULT '',
	additional_metadata  TEXT NOT NULL DEFAULT '',
	is_reference         INTEGER NOT NULL DEFAULT 0,
	external_source_name TEXT NOT NULL DEFAULT '',
	embedding            BLOB NOT NULL,
	timestamp            TEXT NOT NULL,
	PRIMARY KEY (collection, key)
);

CREATE INDEX IF NOT EXISTS idx_records_seq ON records(collection, seq);
`

// Store is a durable collection registry.
//
// Every write runs in an immediate transaction, so writes are serialized
// across the whole database: an upsert in one collection waits for writers in
// any other collection, up to the busy timeout. Reads are not blocked in WAL
// mode.
type Store struct {
	db     *sql.DB
	closed atomic.Bool
	logger *log.Logger
}

var _ memory.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open opens (and migrates) the database at path. Use ":memory:" for a
// private in-memory database.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	memoryDB := path == ":memory:"
	if !memoryDB {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite database", goerr.V("path", path))
	}
	if memoryDB {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to migrate sqlite schema", goerr.V("path", path))
	}

	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = memory.NamedLogger(s.logger, "sqlite")
	s.logger.Debug("Opened database", "path", path)
	return s, nil
}

func (s *Store) check(ctx context.Context, op string) error {
	if s.closed.Load() {
		return memory.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return goerr.Wrap(err, "sqlite operation cancelled", goerr.V("op", op))
	}
	return nil
}

// ListCollections returns collection names in lexical order.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	if err := s.check(ctx, "list"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM collections ORDER BY name`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list collections")
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, goerr.Wrap(err, "failed to scan collection name")
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to list collections")
	}
	return names, nil
}

// EnsureCollection creates the collection row if missing. The insert is
// atomic, so concurrent first writers converge on one collection.
func (s *Store) EnsureCollection(ctx context.Context, name string) (memory.Collection, error) {
	if err := memory.ValidateCollectionName(name); err != nil {
		return nil, err
	}
	if err := s.check(ctx, "ensure"); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name, dimension, created_at) VALUES (?, 0, ?) ON CONFLICT(name) DO NOTHING`,
		name, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create collection", goerr.V("collection", name))
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Debug("Created collection", "collection", name)
	}
	return &collection{store: s, name: name}, nil
}

// Collection looks a collection up without creating it.
func (s *Store) Collection(ctx context.Context, name string) (memory.Collection, bool, error) {
	if err := s.check(ctx, "lookup"); err != nil {
		return nil, false, err
	}

	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM collections WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, goerr.Wrap(err, "failed to look up collection", goerr.V("collection", name))
	}
	return &collection{store: s, name: name}, true, nil
}

// DropCollection deletes the collection and its records.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	if err := s.check(ctx, "drop"); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, name); err != nil {
		return goerr.Wrap(err, "failed to delete records", goerr.V("collection", name))
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name)
	if err != nil {
		return goerr.Wrap(err, "failed to delete collection", goerr.V("collection", name))
	}
	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit collection drop", goerr.V("collection", name))
	}

	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Debug("Dropped collection", "collection", name)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return goerr.Wrap(err, "failed to close sqlite database")
	}
	return nil
}

type collection struct {
	store *Store
	name  string
}

func (c *collection) Name() string { return c.name }

// Upsert checks and records the dimension and writes the record in one
// immediate transaction. A replaced key keeps its sequence number.
func (c *collection) Upsert(ctx context.Context, rec *memory.MemoryRecord) error {
	if err := c.store.check(ctx, "upsert"); err != nil {
		return err
	}

	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	// The collection may have been dropped after the handle was issued.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO collections (name, dimension, created_at) VALUES (?, 0, ?) ON CONFLICT(name) DO NOTHING`,
		c.name, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return goerr.Wrap(err, "failed to create collection", goerr.V("collection", c.name))
	}

	var dim int
	if err := tx.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, c.name).Scan(&dim); err != nil {
		return goerr.Wrap(err, "failed to read collection dimension", goerr.V("collection", c.name))
	}
	switch {
	case dim == 0:
		if _, err := tx.ExecContext(ctx, `UPDATE collections SET dimension = ? WHERE name = ?`, len(rec.Embedding), c.name); err != nil {
			return goerr.Wrap(err, "failed to set collection dimension", goerr.V("collection", c.name))
		}
	case dim != len(rec.Embedding):
		return memory.DimensionMismatch(c.name, dim, len(rec.Embedding))
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM records WHERE collection = ?`, c.name).Scan(&seq); err != nil {
		return goerr.Wrap(err, "failed to allocate sequence", goerr.V("collection", c.name))
	}

	md := rec.Metadata
	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (collection, key, seq, text, description, additional_metadata,
			is_reference, external_source_name, embedding, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET
			text = excluded.text,
			description = excluded.description,
			additional_metadata = excluded.additional_metadata,
			is_reference = excluded.is_reference,
			external_source_name = excluded.external_source_name,
			embedding = excluded.embedding,
			timestamp = excluded.timestamp
	`, c.name, rec.Key, seq, md.Text, md.Description, md.AdditionalMetadata,
		md.IsReference, md.ExternalSourceName, encodeFloat32s(rec.Embedding),
		rec.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return goerr.Wrap(err, "failed to upsert record", goerr.V("collection", c.name), goerr.V("key", rec.Key))
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit record", goerr.V("collection", c.name), goerr.V("key", rec.Key))
	}
	return nil
}

const recordColumns = `key, seq, text, description, additional_metadata, is_reference, external_source_name, embedding, timestamp`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*memory.MemoryRecord, error) {
	var (
		rec  memory.MemoryRecord
		seq  int64
		blob []byte
		ts   string
	)
	err := row.Scan(&rec.Key, &seq, &rec.Metadata.Text, &rec.Metadata.Description,
		&rec.Metadata.AdditionalMetadata, &rec.Metadata.IsReference,
		&rec.Metadata.ExternalSourceName, &blob, &ts)
	if err != nil {
		return nil, err
	}
	rec.Metadata.ID = rec.Key
	rec.Embedding = decodeFloat32s(blob)
	if rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return nil, goerr.Wrap(err, "invalid record timestamp", goerr.V("key", rec.Key))
	}
	return &rec, nil
}

func (c *collection) Get(ctx context.Context, key string, withEmbedding bool) (*memory.MemoryRecord, error) {
	if err := c.store.check(ctx, "get"); err != nil {
		return nil, err
	}

	row := c.store.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE collection = ? AND key = ?`, c.name, key)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get record", goerr.V("collection", c.name), goerr.V("key", key))
	}
	if !withEmbedding {
		rec.Embedding = nil
	}
	return rec, nil
}

func (c *collection) Remove(ctx context.Context, key string) error {
	if err := c.store.check(ctx, "remove"); err != nil {
		return err
	}

	if _, err := c.store.db.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND key = ?`, c.name, key); err != nil {
		return goerr.Wrap(err, "failed to remove record", goerr.V("collection", c.name), goerr.V("key", key))
	}
	return nil
}

// Search scans the collection in insertion order and ranks in Go.
func (c *collection) Search(ctx context.Context, query []float32, limit int, minRelevance float64, withEmbeddings bool) ([]*memory.MemoryQueryResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	if err := c.store.check(ctx, "search"); err != nil {
		return nil, err
	}

	var dim int
	err := c.store.db.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, c.name).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && dim == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read collection dimension", goerr.V("collection", c.name))
	}
	if dim != len(query) {
		return nil, memory.DimensionMismatch(c.name, dim, len(query))
	}

	rows, err := c.store.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE collection = ? ORDER BY seq`, c.name)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to scan records", goerr.V("collection", c.name))
	}
	defer rows.Close()

	var hits []*memory.MemoryQueryResult
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan record", goerr.V("collection", c.name))
		}
		rel := index.Cosine(query, rec.Embedding)
		if rel < minRelevance {
			continue
		}
		hits = append(hits, memory.NewQueryResult(rec, rel, withEmbeddings))
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to scan records", goerr.V("collection", c.name))
	}

	// Rows arrive in insertion order, so a stable sort keeps ties in order.
	slices.SortStableFunc(hits, func(a, b *memory.MemoryQueryResult) int {
		switch {
		case a.Relevance > b.Relevance:
			return -1
		case a.Relevance < b.Relevance:
			return 1
		}
		return 0
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// encodeFloat32s converts a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s converts little-endian bytes back to a float32 slice.
func decodeFloat32s(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
