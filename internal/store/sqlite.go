package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tvu/mailcache/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
// A single store file may be opened from multiple goroutines; writes are
// transactional and reads use the pool's own connections.
type SQLiteStore struct {
	db *sqlx.DB

	mu     sync.Mutex
	closed bool

	// FTS availability cache. Only successful probes are cached so a
	// transient error retries on the next call.
	ftsMu      sync.Mutex
	ftsResult  bool
	ftsChecked bool
}

// New opens (or creates) a SQLite database at dbPath, enables WAL mode and
// foreign keys, and applies any pending schema migrations. The pragmas ride
// on the DSN so every pooled connection gets them, not just the first.
func New(dbPath string) (*SQLiteStore, error) {
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)"

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, storageErr("open", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the database connection. It is safe to call multiple
// times; a fresh store for the same path can be opened afterwards.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.db.Close(); err != nil {
		return storageErr("close", err)
	}
	return nil
}

// schemaVersionCurrent is the version the newest migration produces.
var schemaVersionCurrent = migrations[len(migrations)-1].version

// runMigrations reads the stored schema version and applies every pending
// migration, in order, inside a single transaction. A store written by a
// newer build is refused rather than opened with an old layout.
func (s *SQLiteStore) runMigrations() error {
	tx, err := s.db.Beginx()
	if err != nil {
		return storageErr("beginning migration transaction", err)
	}
	defer tx.Rollback()

	currentVersion := 0

	var tableCount int
	err = tx.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return storageErr("checking schema_version table", err)
	}

	if tableCount > 0 {
		err = tx.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return storageErr("reading schema version", err)
		}
	}

	if currentVersion > schemaVersionCurrent {
		return storageErr("opening store", fmt.Errorf(
			"database schema version %d is newer than supported version %d",
			currentVersion, schemaVersionCurrent))
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if err := m.apply(tx); err != nil {
			return storageErr(fmt.Sprintf("applying migration v%d", m.version), err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			return storageErr(fmt.Sprintf("recording migration v%d", m.version), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("committing migrations", err)
	}
	return nil
}

// ftsAvailable reports whether the indexed full-text backend exists. The
// fts5 module is an optional runtime feature, so queries probe once and
// fall back to pattern matching when it is absent.
func (s *SQLiteStore) ftsAvailable(ctx context.Context) bool {
	s.ftsMu.Lock()
	defer s.ftsMu.Unlock()

	if s.ftsChecked {
		return s.ftsResult
	}

	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='messages_fts'")
	if err != nil {
		return false
	}

	s.ftsResult = count > 0
	s.ftsChecked = true
	return s.ftsResult
}

// GetDeltaLink returns the stored delta cursor for a folder, or the empty
// string when no incremental baseline has been established.
func (s *SQLiteStore) GetDeltaLink(ctx context.Context, folderID string) (string, error) {
	var link sql.NullString
	err := s.db.GetContext(ctx, &link,
		"SELECT delta_link FROM sync_state WHERE folder_id = ?", folderID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storageErr(fmt.Sprintf("reading delta link for folder %s", folderID), err)
	}
	return link.String, nil
}

// SaveDeltaLink stores a folder's delta cursor and stamps the last
// successful sync time.
func (s *SQLiteStore) SaveDeltaLink(ctx context.Context, folderID string, link string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (folder_id, delta_link, last_sync_at)
		VALUES (?, ?, ?)
		ON CONFLICT(folder_id) DO UPDATE SET
			delta_link = excluded.delta_link,
			last_sync_at = excluded.last_sync_at`,
		folderID, link, time.Now().UTC(),
	)
	if err != nil {
		return storageErr(fmt.Sprintf("saving delta link for folder %s", folderID), err)
	}
	return nil
}

// ClearDeltaLink drops one folder's delta cursor. Other folders' cursors
// are untouched.
func (s *SQLiteStore) ClearDeltaLink(ctx context.Context, folderID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sync_state SET delta_link = NULL WHERE folder_id = ?", folderID)
	if err != nil {
		return storageErr(fmt.Sprintf("clearing delta link for folder %s", folderID), err)
	}
	return nil
}

// GetSyncState returns the full sync bookmark for a folder, or nil when the
// folder has never synced.
func (s *SQLiteStore) GetSyncState(ctx context.Context, folderID string) (*model.SyncState, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT folder_id, delta_link, last_sync_at FROM sync_state WHERE folder_id = ?",
		folderID)

	var (
		state    model.SyncState
		link     sql.NullString
		lastSync sql.NullTime
	)
	err := row.Scan(&state.FolderID, &link, &lastSync)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(fmt.Sprintf("reading sync state for folder %s", folderID), err)
	}
	state.DeltaLink = link.String
	state.LastSyncAt = lastSync.Time
	return &state, nil
}
