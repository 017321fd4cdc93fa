// Package walletstore is the encrypted persistent store: five logical
// streams (plaintext metadata, encrypted static keys, encrypted dynamic
// snapshot, and two encrypted append-only asset-table logs) sharing one
// atomic commit boundary with per-stream dirty-flag tracking and revert
// semantics.
package walletstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cap-protocol/cap-wallet/pkg/logging"
)

// ErrNotExist is returned by LoadStatic when no static snapshot has ever
// been committed. (Exists, by contrast, tracks whether the metadata
// snapshot has ever been committed.)
var ErrNotExist = errors.New("walletstore: no wallet exists at this path")

// ErrWrongPassword is returned by Unlock, and by any load of an encrypted
// stream, when the derived key fails to decrypt the stored data.
var ErrWrongPassword = errors.New("walletstore: wrong password or corrupt store")

// stream names for the five persisted logs.
const (
	streamMeta   = "wallet_meta"
	streamStatic = "wallet_static"
	streamDyn    = "wallet_dyn"
	streamAud    = "wallet_aud"
	streamDef    = "wallet_def"
)

var allStreams = []string{streamMeta, streamStatic, streamDyn, streamAud, streamDef}

// Config configures the encrypted persistent store's location.
type Config struct {
	DataDir string
}

// Store is a sqlite-backed collection of named streams, each
// snapshot-or-append, sharing one commit/revert boundary.
type Store struct {
	mu sync.Mutex

	db     *sql.DB
	dbPath string

	cipher *streamCipher

	dirty map[string]bool

	// staged holds writes made since the last commit/revert, keyed by
	// stream name; for snapshot streams it holds at most one entry, for
	// append streams it accumulates.
	staged map[string][][]byte

	log *logging.Logger
}

// Open opens (creating if necessary) the sqlite-backed store at
// cfg.DataDir. The store is unusable for anything but Exists until a
// password is supplied via Unlock.
func Open(cfg Config) (*Store, error) {
	dataDir := expandPath(cfg.DataDir)
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create wallet store directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "wallet.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open wallet store database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping wallet store database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:     db,
		dbPath: dbPath,
		dirty:  make(map[string]bool),
		staged: make(map[string][][]byte),
		log:    logging.GetDefault().Component("walletstore"),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init wallet store schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS streams (
		stream TEXT NOT NULL,
		seq INTEGER NOT NULL,
		payload BLOB NOT NULL,
		committed_at INTEGER NOT NULL,
		PRIMARY KEY (stream, seq)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Exists reports whether the metadata snapshot has been committed at
// least once.
func (s *Store) Exists() (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM streams WHERE stream = ?`, streamMeta).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check wallet store existence: %w", err)
	}
	return count > 0, nil
}

// latestSnapshot returns the highest-seq payload committed to a snapshot
// stream (meta/static/dyn), or nil if none.
func (s *Store) latestSnapshot(stream string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRow(
		`SELECT payload FROM streams WHERE stream = ? ORDER BY seq DESC LIMIT 1`, stream,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read latest snapshot of stream %s: %w", stream, err)
	}
	return payload, nil
}

// appendedRows returns every payload ever appended to an append-only
// stream (aud/def), in commit order.
func (s *Store) appendedRows(stream string) ([][]byte, error) {
	rows, err := s.db.Query(`SELECT payload FROM streams WHERE stream = ? ORDER BY seq ASC`, stream)
	if err != nil {
		return nil, fmt.Errorf("read appended rows of stream %s: %w", stream, err)
	}
	defer rows.Close()
	var out [][]byte
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan appended row of stream %s: %w", stream, err)
		}
		out = append(out, payload)
	}
	return out, rows.Err()
}

// markDirty flags a stream as having staged, uncommitted writes.
func (s *Store) markDirty(stream string, payload []byte, snapshot bool) {
	s.dirty[stream] = true
	if snapshot {
		s.staged[stream] = [][]byte{payload}
	} else {
		s.staged[stream] = append(s.staged[stream], payload)
	}
}

// Commit advances only dirty streams; clean streams emit no row. All
// writes happen inside a single sqlite transaction so the commit
// boundary is atomic across every stream.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.dirty) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin wallet store commit: %w", err)
	}
	now := time.Now().Unix()

	for _, stream := range allStreams {
		if !s.dirty[stream] {
			continue // skip marker: nothing staged for this stream
		}
		seq, err := s.nextSeqTx(tx, stream)
		if err != nil {
			tx.Rollback()
			return err
		}
		for _, payload := range s.staged[stream] {
			if _, err := tx.Exec(
				`INSERT INTO streams (stream, seq, payload, committed_at) VALUES (?, ?, ?, ?)`,
				stream, seq, payload, now,
			); err != nil {
				tx.Rollback()
				return fmt.Errorf("commit stream %s: %w", stream, err)
			}
			seq++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit wallet store transaction: %w", err)
	}

	s.dirty = make(map[string]bool)
	s.staged = make(map[string][][]byte)
	return nil
}

func (s *Store) nextSeqTx(tx *sql.Tx, stream string) (int64, error) {
	var seq sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(seq) FROM streams WHERE stream = ?`, stream).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next seq for stream %s: %w", stream, err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64 + 1, nil
}

// Revert discards every staged, uncommitted write across all streams and
// clears every dirty flag. Committing afterward is then a
// no-op, since nothing remains dirty.
func (s *Store) Revert() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = make(map[string]bool)
	s.staged = make(map[string][][]byte)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
