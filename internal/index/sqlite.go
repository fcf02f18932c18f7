package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nvandessel/cardsync/internal/embedding"
	"github.com/nvandessel/cardsync/internal/models"
	"github.com/nvandessel/cardsync/internal/store"
	"github.com/nvandessel/cardsync/internal/vecmath"
	"github.com/nvandessel/cardsync/internal/vectorindex"
)

const schema = `
CREATE TABLE IF NOT EXISTS namespaces (
	name         TEXT PRIMARY KEY,
	facet_policy TEXT NOT NULL,
	embedder     TEXT NOT NULL,
	dims         INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL,
	collection   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS entries (
	namespace  TEXT NOT NULL REFERENCES namespaces(name) ON DELETE CASCADE,
	id         TEXT NOT NULL,
	note_id    INTEGER NOT NULL,
	side       TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL,
	front      TEXT NOT NULL,
	back       TEXT NOT NULL,
	vector     BLOB NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (namespace, id)
);

CREATE INDEX IF NOT EXISTS idx_entries_note ON entries(namespace, note_id);
`

// SQLiteIndex is a SimilarityIndex persisted in a SQLite database. Vectors are
// stored next to their entries; each namespace's search structure is built in
// memory the first time the namespace is queried.
type SQLiteIndex struct {
	db       *sql.DB
	embedder embedding.Embedder
	opts     Options
	logger   *slog.Logger

	// mu serializes writes and guards spaces.
	mu     sync.Mutex
	spaces map[string]*vectorindex.TieredIndex
}

// NamespaceInfo describes one namespace of the index.
type NamespaceInfo struct {
	Name        string             `json:"name"`
	Collection  string             `json:"collection,omitempty"`
	FacetPolicy models.FacetPolicy `json:"facet_policy"`
	Embedder    string             `json:"embedder"`
	Dims        int                `json:"dims"`
	Entries     int                `json:"entries"`
	Notes       int                `json:"notes"`
	CreatedAt   time.Time          `json:"created_at"`
}

// OpenSQLiteIndex opens (creating if needed) the index database at path.
func OpenSQLiteIndex(path string, embedder embedding.Embedder, opts Options) (*SQLiteIndex, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	// One connection keeps the pragmas in effect and serializes writers.
	db.SetMaxOpenConns(1)

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	opts = opts.withDefaults()
	return &SQLiteIndex{
		db:       db,
		embedder: embedder,
		opts:     opts,
		logger:   opts.Logger,
		spaces:   make(map[string]*vectorindex.TieredIndex),
	}, nil
}

func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// migrate adds columns introduced after the first schema version.
func migrate(db *sql.DB) error {
	rows, err := db.Query(`PRAGMA table_info(namespaces)`)
	if err != nil {
		return err
	}
	hasCollection := false
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		if name == "collection" {
			hasCollection = true
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if hasCollection {
		return nil
	}
	_, err = db.Exec(`ALTER TABLE namespaces ADD COLUMN collection TEXT NOT NULL DEFAULT ''`)
	return err
}

// Close releases the database and in-memory search structures.
func (s *SQLiteIndex) Close() error {
	s.mu.Lock()
	for name, vi := range s.spaces {
		_ = vi.Close()
		delete(s.spaces, name)
	}
	s.mu.Unlock()
	return s.db.Close()
}

// Metric implements store.SimilarityIndex.
func (s *SQLiteIndex) Metric() vecmath.Metric {
	return vecmath.Cosine
}

// ListAll implements store.SimilarityIndex.
func (s *SQLiteIndex) ListAll(ctx context.Context, namespace string) ([]models.IndexEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, note_id, side, text, front, back FROM entries WHERE namespace = ? ORDER BY id`,
		namespace)
	if err != nil {
		return nil, store.Connectivity("index list", err)
	}
	defer rows.Close()

	var entries []models.IndexEntry
	for rows.Next() {
		var (
			e    models.IndexEntry
			side string
		)
		if err := rows.Scan(&e.ID, &e.Metadata.NoteID, &side, &e.Text, &e.Metadata.Front, &e.Metadata.Back); err != nil {
			return nil, store.Connectivity("index list", err)
		}
		e.Metadata.Side = models.Side(side)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Connectivity("index list", err)
	}
	return entries, nil
}

// Upsert implements store.SimilarityIndex. Entries are embedded before the
// write transaction so concurrent callers overlap their embedder calls.
func (s *SQLiteIndex) Upsert(ctx context.Context, namespace string, entries []models.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if (e.Metadata.Side == models.SideNone) != (s.opts.FacetPolicy == models.FacetSingle) {
			return fmt.Errorf("entry %s under %s policy: %w", e.ID, s.opts.FacetPolicy, store.ErrFacetPolicyMismatch)
		}
	}

	vecs, err := s.embedder.Embed(ctx, prepareAll(entries, s.opts.MaxTokens))
	if err != nil {
		return fmt.Errorf("embed entries: %w", err)
	}
	if len(vecs) != len(entries) {
		return fmt.Errorf("embedder returned %d vectors for %d entries", len(vecs), len(entries))
	}
	dims := len(vecs[0])

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureNamespace(ctx, namespace, dims); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Connectivity("index upsert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (namespace, id, note_id, side, text, front, back, vector, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (namespace, id) DO UPDATE SET
			note_id = excluded.note_id,
			side = excluded.side,
			text = excluded.text,
			front = excluded.front,
			back = excluded.back,
			vector = excluded.vector,
			updated_at = excluded.updated_at`)
	if err != nil {
		return store.Connectivity("index upsert", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for i, e := range entries {
		if len(vecs[i]) != dims {
			return fmt.Errorf("entry %s has %d dims, want %d: %w", e.ID, len(vecs[i]), dims, store.ErrEmbedderMismatch)
		}
		if _, err := stmt.ExecContext(ctx, namespace, e.ID, int64(e.Metadata.NoteID), string(e.Metadata.Side),
			e.Text, e.Metadata.Front, e.Metadata.Back, packVector(vecs[i]), now); err != nil {
			return store.Connectivity("index upsert", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return store.Connectivity("index upsert", err)
	}

	if vi, ok := s.spaces[namespace]; ok {
		if err := vi.Remove(ctx, entryIDs(entries)...); err != nil {
			return err
		}
		for i, e := range entries {
			if err := vi.Add(ctx, e.ID, vecs[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// ensureNamespace creates the namespace row or checks that an existing one
// was written with the same facet policy and embedder. Caller must hold s.mu.
func (s *SQLiteIndex) ensureNamespace(ctx context.Context, namespace string, dims int) error {
	var (
		policy, embedder string
		storedDims       int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT facet_policy, embedder, dims FROM namespaces WHERE name = ?`, namespace).
		Scan(&policy, &embedder, &storedDims)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO namespaces (name, facet_policy, embedder, dims, created_at) VALUES (?, ?, ?, ?, ?)`,
			namespace, string(s.opts.FacetPolicy), s.embedder.Name(), dims, time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return store.Connectivity("index create namespace", err)
		}
		s.logger.Info("created index namespace", "namespace", namespace,
			"facet_policy", s.opts.FacetPolicy, "embedder", s.embedder.Name(), "dims", dims)
		return nil
	case err != nil:
		return store.Connectivity("index namespace lookup", err)
	}

	if models.FacetPolicy(policy) != s.opts.FacetPolicy {
		return fmt.Errorf("namespace %s uses %s, configured %s: %w", namespace, policy, s.opts.FacetPolicy, store.ErrFacetPolicyMismatch)
	}
	if embedder != s.embedder.Name() || (storedDims != 0 && storedDims != dims) {
		return fmt.Errorf("namespace %s uses %s, configured %s: %w", namespace, embedder, s.embedder.Name(), store.ErrEmbedderMismatch)
	}
	if storedDims == 0 {
		if _, err := s.db.ExecContext(ctx, `UPDATE namespaces SET dims = ? WHERE name = ?`, dims, namespace); err != nil {
			return store.Connectivity("index update namespace", err)
		}
	}
	return nil
}

// ClaimNamespace implements store.NamespaceOwners. Claiming a namespace that
// does not exist yet creates it empty.
func (s *SQLiteIndex) ClaimNamespace(ctx context.Context, namespace, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT collection FROM namespaces WHERE name = ?`, namespace).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO namespaces (name, facet_policy, embedder, dims, created_at, collection) VALUES (?, ?, ?, 0, ?, ?)`,
			namespace, string(s.opts.FacetPolicy), s.embedder.Name(), time.Now().UTC().Format(time.RFC3339), collection)
		if err != nil {
			return store.Connectivity("index claim namespace", err)
		}
		s.logger.Info("created index namespace", "namespace", namespace, "collection", collection,
			"facet_policy", s.opts.FacetPolicy, "embedder", s.embedder.Name())
		return nil
	case err != nil:
		return store.Connectivity("index namespace lookup", err)
	}

	switch owner {
	case collection:
		return nil
	case "":
		if _, err := s.db.ExecContext(ctx, `UPDATE namespaces SET collection = ? WHERE name = ?`, collection, namespace); err != nil {
			return store.Connectivity("index claim namespace", err)
		}
		return nil
	}
	return &store.CollisionError{Namespace: namespace, Owner: owner, Collection: collection}
}

// NamespaceOwner implements store.NamespaceOwners.
func (s *SQLiteIndex) NamespaceOwner(ctx context.Context, namespace string) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT collection FROM namespaces WHERE name = ?`, namespace).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", store.Connectivity("index namespace lookup", err)
	}
	return owner, nil
}

// Delete implements store.SimilarityIndex.
func (s *SQLiteIndex) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Connectivity("index delete", err)
	}
	defer tx.Rollback()

	for _, chunk := range chunkStrings(ids, 500) {
		query := `DELETE FROM entries WHERE namespace = ? AND id IN (` + placeholders(len(chunk)) + `)`
		if _, err := tx.ExecContext(ctx, query, stringArgs(namespace, chunk)...); err != nil {
			return store.Connectivity("index delete", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return store.Connectivity("index delete", err)
	}

	if vi, ok := s.spaces[namespace]; ok {
		return vi.Remove(ctx, ids...)
	}
	return nil
}

// Query implements store.SimilarityIndex. A namespace that does not exist
// yet has no neighbors.
func (s *SQLiteIndex) Query(ctx context.Context, namespace, text string, k int) ([]store.QueryResult, error) {
	if k <= 0 {
		return nil, nil
	}

	var embedder string
	err := s.db.QueryRowContext(ctx, `SELECT embedder FROM namespaces WHERE name = ?`, namespace).Scan(&embedder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Connectivity("index query", err)
	}
	if embedder != s.embedder.Name() {
		return nil, fmt.Errorf("namespace %s uses %s, configured %s: %w", namespace, embedder, s.embedder.Name(), store.ErrEmbedderMismatch)
	}

	vecs, err := s.embedder.Embed(ctx, []string{prepare(text, s.opts.MaxTokens)})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	vi, err := s.vectors(ctx, namespace)
	if err != nil {
		return nil, err
	}
	hits, err := vi.Search(ctx, vecs[0], k)
	if err != nil {
		return nil, fmt.Errorf("search namespace %s: %w", namespace, err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	meta, err := s.metadata(ctx, namespace, ids)
	if err != nil {
		return nil, err
	}

	results := make([]store.QueryResult, 0, len(hits))
	for _, h := range hits {
		md, ok := meta[h.ID]
		if !ok {
			continue
		}
		results = append(results, store.QueryResult{ID: h.ID, Distance: h.Distance, Metadata: md})
	}
	return results, nil
}

// vectors returns the namespace's search structure, loading it from the
// database on first use.
func (s *SQLiteIndex) vectors(ctx context.Context, namespace string) (*vectorindex.TieredIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if vi, ok := s.spaces[namespace]; ok {
		return vi, nil
	}

	start := time.Now()
	vi, err := vectorindex.NewTieredIndex(vectorindex.TieredConfig{Threshold: s.opts.TierThreshold})
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, vector FROM entries WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, store.Connectivity("index load", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, store.Connectivity("index load", err)
		}
		if err := vi.Add(ctx, id, unpackVector(blob)); err != nil {
			return nil, fmt.Errorf("load vector %s: %w", id, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, store.Connectivity("index load", err)
	}

	s.spaces[namespace] = vi
	s.logger.Debug("loaded index namespace", "namespace", namespace,
		"vectors", vi.Len(), "hnsw", vi.Promoted(), "duration", time.Since(start))
	return vi, nil
}

func (s *SQLiteIndex) metadata(ctx context.Context, namespace string, ids []string) (map[string]models.EntryMetadata, error) {
	query := `SELECT id, note_id, side, front, back FROM entries WHERE namespace = ? AND id IN (` + placeholders(len(ids)) + `)`
	rows, err := s.db.QueryContext(ctx, query, stringArgs(namespace, ids)...)
	if err != nil {
		return nil, store.Connectivity("index query", err)
	}
	defer rows.Close()

	out := make(map[string]models.EntryMetadata, len(ids))
	for rows.Next() {
		var (
			id, side string
			md       models.EntryMetadata
		)
		if err := rows.Scan(&id, &md.NoteID, &side, &md.Front, &md.Back); err != nil {
			return nil, store.Connectivity("index query", err)
		}
		md.Side = models.Side(side)
		out[id] = md
	}
	if err := rows.Err(); err != nil {
		return nil, store.Connectivity("index query", err)
	}
	return out, nil
}

// Namespaces lists every namespace with its entry and note counts.
func (s *SQLiteIndex) Namespaces(ctx context.Context) ([]NamespaceInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.name, n.collection, n.facet_policy, n.embedder, n.dims, n.created_at,
		       COUNT(e.id), COUNT(DISTINCT e.note_id)
		FROM namespaces n
		LEFT JOIN entries e ON e.namespace = n.name
		GROUP BY n.name
		ORDER BY n.name`)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	defer rows.Close()

	var out []NamespaceInfo
	for rows.Next() {
		var (
			info      NamespaceInfo
			policy    string
			createdAt string
		)
		if err := rows.Scan(&info.Name, &info.Collection, &policy, &info.Embedder, &info.Dims, &createdAt, &info.Entries, &info.Notes); err != nil {
			return nil, fmt.Errorf("scan namespace: %w", err)
		}
		info.FacetPolicy = models.FacetPolicy(policy)
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			info.CreatedAt = t
		} else {
			s.logger.Warn("invalid timestamp in namespace", "namespace", info.Name, "err", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Stats describes one namespace. It returns store.ErrUnknownNamespace when
// the namespace has never been written.
func (s *SQLiteIndex) Stats(ctx context.Context, namespace string) (NamespaceInfo, error) {
	all, err := s.Namespaces(ctx)
	if err != nil {
		return NamespaceInfo{}, err
	}
	for _, info := range all {
		if info.Name == namespace {
			return info, nil
		}
	}
	return NamespaceInfo{}, fmt.Errorf("stats %s: %w", namespace, store.ErrUnknownNamespace)
}

// DropNamespace deletes a namespace and all of its entries.
func (s *SQLiteIndex) DropNamespace(ctx context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("drop namespace %s: %w", namespace, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE namespace = ?`, namespace); err != nil {
		return fmt.Errorf("drop namespace %s: %w", namespace, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM namespaces WHERE name = ?`, namespace); err != nil {
		return fmt.Errorf("drop namespace %s: %w", namespace, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("drop namespace %s: %w", namespace, err)
	}

	if vi, ok := s.spaces[namespace]; ok {
		_ = vi.Close()
		delete(s.spaces, namespace)
	}
	s.logger.Info("dropped index namespace", "namespace", namespace)
	return nil
}

func packVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func unpackVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func stringArgs(first string, rest []string) []any {
	args := make([]any, 0, len(rest)+1)
	args = append(args, first)
	for _, r := range rest {
		args = append(args, r)
	}
	return args
}

func chunkStrings(s []string, size int) [][]string {
	var out [][]string
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	if len(s) > 0 {
		out = append(out, s)
	}
	return out
}

// Verify SQLiteIndex satisfies the SimilarityIndex interface at compile time.
var (
	_ store.SimilarityIndex = (*SQLiteIndex)(nil)
	_ store.NamespaceOwners = (*SQLiteIndex)(nil)
)
