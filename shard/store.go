// Package shard implements the shard router and the shard store:
// per-shard durable document storage with a trigram full-text index, routed
// to by a stable hash of the file path.
package shard

import (
	"context"
	"database/sql"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure-Go driver with FTS5 compiled in

	"github.com/d1424da/gofilesearch/log"
	"github.com/d1424da/gofilesearch/normalize"
)

// Document is the indexed unit.
type Document struct {
	Path         string
	Name         string
	Content      string
	Type         string
	Size         int64
	ModifiedTime time.Time
	IndexedTime  time.Time
	Hash         string // 128-bit (MD5) hex digest of Content
}

// Row is one match returned by Query, carrying enough of the matching
// clause's identity for the query planner's scoring pass.
type Row struct {
	Document
	Raw          float64 // raw relevance score from the matching clause; higher is better
	ClauseKind   normalize.ClauseKind
	PatternIndex int
}

// Stats summarizes one shard.
type Stats struct {
	ShardIndex    int
	DocumentCount int
	ByType        map[string]int
	SizeBytes     int64
}

const (
	maxUpsertAttempts = 8
	backoffBase       = 50 * time.Millisecond
	backoffFactor     = 2
	busyTimeoutMillis = 120_000
)

// Store is one shard's durable document store + full-text index.
type Store struct {
	index int
	path  string
	db    *sql.DB

	// Writes are serialized at the application level in addition to
	// SQLite's own locking, so the retry loop in upsertTx has a single
	// well-understood contender to reason about within this process.
	writeMu sync.Mutex
}

// Open opens (creating if necessary) the SQLite-backed store for shard i
// under dataDir/data_storage, applying the tuning pragmas.
func Open(ctx context.Context, dataDir string, index int) (*Store, error) {
	storageDir := filepath.Join(dataDir, "data_storage")
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating data_storage directory")
	}

	path := filepath.Join(storageDir, ShardFileName(index))
	// Tuning pragmas go on the DSN so every pooled connection gets them,
	// not just the one an Exec happens to land on.
	dsn := "file:" + path + "?" + strings.Join([]string{
		"_pragma=journal_mode(WAL)",
		"_pragma=synchronous(NORMAL)",
		"_pragma=cache_size(-64000)", // ~64MiB page cache
		"_pragma=temp_store(MEMORY)",
		"_pragma=busy_timeout(120000)",
	}, "&")
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening shard %d", index)
	}

	s := &Store{index: index, path: path, db: db}
	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY,
			file_path TEXT UNIQUE NOT NULL,
			file_name TEXT,
			content TEXT,
			file_type TEXT,
			size INTEGER,
			modified_time REAL,
			indexed_time REAL,
			hash TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_file_path ON documents(file_path)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_file_type ON documents(file_type)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_modified_time ON documents(modified_time)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
			file_path, file_name, content, file_type,
			tokenize='trigram'
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "creating schema (%.40s...)", stmt)
		}
	}
	return nil
}

// Close closes the shard's connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts or replaces doc by path in one transaction; writers in
// this process are serialized by writeMu. The transaction is not opened in
// exclusive mode: it takes SQLite's write lock at its first write. It retries on SQLITE_BUSY/SQLITE_LOCKED with exponential
// back-off up to maxUpsertAttempts times.
func (s *Store) Upsert(ctx context.Context, doc Document) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var lastErr error
	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		err := s.upsertOnce(ctx, doc)
		if err == nil {
			return nil
		}
		if !isBusyOrLocked(err) {
			return err
		}
		lastErr = err
		sleepBackoff(ctx, attempt)
	}
	log.Get().Warn("shard upsert exhausted retries", zap.String("path", doc.Path), zap.Int("shard", s.index))
	return errors.Wrapf(lastErr, "upsert %q: exhausted %d attempts", doc.Path, maxUpsertAttempts)
}

func (s *Store) upsertOnce(ctx context.Context, doc Document) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	// BeginTx has already opened the transaction, so SQLite rejects this
	// nested BEGIN EXCLUSIVE and the error is discarded; no exclusive lock
	// is taken up front, and the writes below take the write lock.
	_, _ = tx.ExecContext(ctx, "BEGIN EXCLUSIVE")

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE file_path = ?`, doc.Path).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		id, err = s.insertNew(ctx, tx, doc)
		if err != nil {
			if isConstraintViolation(err) {
				// Repair path: a concurrent insert beat us to it; re-resolve
				// by path and retry as an update.
				if rerr := tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE file_path = ?`, doc.Path).Scan(&id); rerr != nil {
					return errors.Wrap(rerr, "re-resolving path after constraint violation")
				}
				if err := s.updateExisting(ctx, tx, id, doc); err != nil {
					return err
				}
			} else {
				return err
			}
		}
	case err != nil:
		return err
	default:
		if err := s.updateExisting(ctx, tx, id, doc); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) insertNew(ctx context.Context, tx *sql.Tx, doc Document) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO documents(file_path, file_name, content, file_type, size, modified_time, indexed_time, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.Path, doc.Name, doc.Content, doc.Type, doc.Size,
		float64(doc.ModifiedTime.Unix()), float64(doc.IndexedTime.Unix()), doc.Hash)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents_fts(rowid, file_path, file_name, content, file_type) VALUES (?, ?, ?, ?, ?)`,
		id, doc.Path, doc.Name, doc.Content, doc.Type); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) updateExisting(ctx context.Context, tx *sql.Tx, id int64, doc Document) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET file_name=?, content=?, file_type=?, size=?, modified_time=?, indexed_time=?, hash=?
		WHERE id=?`,
		doc.Name, doc.Content, doc.Type, doc.Size,
		float64(doc.ModifiedTime.Unix()), float64(doc.IndexedTime.Unix()), doc.Hash, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents_fts WHERE rowid=?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents_fts(rowid, file_path, file_name, content, file_type) VALUES (?, ?, ?, ?, ?)`,
		id, doc.Path, doc.Name, doc.Content, doc.Type); err != nil {
		return err
	}
	return nil
}

// BulkUpsert writes many documents in a single transaction, amortizing
// transaction overhead. The indexing pipeline must use this instead of
// per-row Upsert once roughly 50+ documents target the same shard.
func (s *Store) BulkUpsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var lastErr error
	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		err := s.bulkUpsertOnce(ctx, docs)
		if err == nil {
			return nil
		}
		if !isBusyOrLocked(err) {
			return err
		}
		lastErr = err
		sleepBackoff(ctx, attempt)
	}
	return errors.Wrapf(lastErr, "bulk upsert of %d documents: exhausted %d attempts", len(docs), maxUpsertAttempts)
}

func (s *Store) bulkUpsertOnce(ctx context.Context, docs []Document) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()
	tx.ExecContext(ctx, "BEGIN EXCLUSIVE")

	for _, doc := range docs {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE file_path = ?`, doc.Path).Scan(&id)
		switch {
		case err == sql.ErrNoRows:
			if _, err := s.insertNew(ctx, tx, doc); err != nil {
				if isConstraintViolation(err) {
					if rerr := tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE file_path = ?`, doc.Path).Scan(&id); rerr == nil {
						_ = s.updateExisting(ctx, tx, id, doc)
						continue
					}
				}
				return errors.Wrapf(err, "bulk insert %q", doc.Path)
			}
		case err != nil:
			return err
		default:
			if err := s.updateExisting(ctx, tx, id, doc); err != nil {
				return errors.Wrapf(err, "bulk update %q", doc.Path)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Query executes the normalizer's FTS clauses in priority order against
// this shard: for each pattern, the first clause kind that
// returns rows wins and later clause kinds for that pattern are skipped.
func (s *Store) Query(ctx context.Context, clauses []normalize.FTSClause, limit int) ([]Row, error) {
	byPattern := groupByPattern(clauses)

	seen := make(map[string]bool)
	var out []Row

	for _, group := range byPattern {
		if len(out) >= limit {
			break
		}
		rows, err := s.queryPatternGroup(ctx, group, limit-len(out))
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if seen[r.Path] {
				continue
			}
			seen[r.Path] = true
			out = append(out, r)
		}
	}
	return out, nil
}

// queryPatternGroup tries each clause for a single pattern in order, and
// stops at the first one producing rows.
func (s *Store) queryPatternGroup(ctx context.Context, group []normalize.FTSClause, limit int) ([]Row, error) {
	for _, c := range group {
		rows, err := s.runClause(ctx, c, limit)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return rows, nil
		}
	}
	return nil, nil
}

func (s *Store) runClause(ctx context.Context, c normalize.FTSClause, limit int) ([]Row, error) {
	if c.Kind == normalize.ClauseLike {
		return s.runLike(ctx, c, limit)
	}
	return s.runFTS(ctx, c, limit)
}

func (s *Store) runFTS(ctx context.Context, c normalize.FTSClause, limit int) ([]Row, error) {
	query := `
		SELECT d.file_path, d.file_name, d.content, d.file_type, d.size, d.modified_time, d.indexed_time, d.hash,
		       bm25(documents_fts) AS rank
		FROM documents_fts
		JOIN documents d ON d.id = documents_fts.rowid
		WHERE documents_fts MATCH ?
		ORDER BY rank
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, c.Expr, limit)
	if err != nil {
		// A malformed FTS5 query (e.g. an escaped phrase SQLite still
		// rejects) degrades to no rows for this clause rather than
		// aborting the shard's contribution to the fan-out.
		log.Get().Debug("fts clause failed, skipping", zap.String("expr", c.Expr), zap.Error(err))
		return nil, nil
	}
	defer rows.Close()
	return s.scanRows(rows, c)
}

func (s *Store) runLike(ctx context.Context, c normalize.FTSClause, limit int) ([]Row, error) {
	query := `
		SELECT file_path, file_name, content, file_type, size, modified_time, indexed_time, hash, 0.0 AS rank
		FROM documents
		WHERE file_path LIKE ? ESCAPE '\' OR file_name LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\'
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, c.Expr, c.Expr, c.Expr, limit)
	if err != nil {
		return nil, errors.Wrap(err, "like query")
	}
	defer rows.Close()
	return s.scanRows(rows, c)
}

func (s *Store) scanRows(rows *sql.Rows, c normalize.FTSClause) ([]Row, error) {
	var out []Row
	for rows.Next() {
		var (
			r                    Row
			modUnix, indexedUnix float64
			rawRank              float64
		)
		if err := rows.Scan(&r.Path, &r.Name, &r.Content, &r.Type, &r.Size, &modUnix, &indexedUnix, &r.Hash, &rawRank); err != nil {
			return nil, err
		}
		r.ModifiedTime = time.Unix(int64(modUnix), 0)
		r.IndexedTime = time.Unix(int64(indexedUnix), 0)
		// bm25() returns a more-negative-is-better score; flip sign so the
		// planner's "higher is better" convention holds uniformly.
		if c.Kind != normalize.ClauseLike {
			r.Raw = -rawRank
		}
		r.ClauseKind = c.Kind
		r.PatternIndex = c.PatternIndex
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats reports document counts and on-disk size.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ShardIndex: s.index, ByType: map[string]int{}}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&st.DocumentCount); err != nil {
		return st, errors.Wrap(err, "counting documents")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT file_type, COUNT(*) FROM documents GROUP BY file_type`)
	if err != nil {
		return st, errors.Wrap(err, "counting by type")
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return st, err
		}
		st.ByType[t] = n
	}

	if info, err := os.Stat(s.path); err == nil {
		st.SizeBytes = info.Size()
	}
	return st, nil
}

// Optimize runs FTS merge, vacuum, analyze and pragma-optimize.
func (s *Store) Optimize(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stmts := []string{
		`INSERT INTO documents_fts(documents_fts) VALUES('optimize')`,
		`VACUUM`,
		`ANALYZE`,
		`PRAGMA optimize`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "optimize step %q", stmt)
		}
	}
	return nil
}

func groupByPattern(clauses []normalize.FTSClause) [][]normalize.FTSClause {
	var groups [][]normalize.FTSClause
	var cur []normalize.FTSClause
	curIdx := -1
	for _, c := range clauses {
		if c.PatternIndex != curIdx {
			if len(cur) > 0 {
				groups = append(groups, cur)
			}
			cur = nil
			curIdx = c.PatternIndex
		}
		cur = append(cur, c)
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

func sleepBackoff(ctx context.Context, attempt int) {
	wait := backoffBase * time.Duration(1<<uint(attempt))
	jitter := time.Duration(rand.Int63n(int64(10 * time.Millisecond)))
	select {
	case <-time.After(wait + jitter):
	case <-ctx.Done():
	}
}

func isBusyOrLocked(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "SQLITE_LOCKED")
}

func isConstraintViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "SQLITE_CONSTRAINT")
}
