package storage

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to a SQLite database. It is the Registry
// backend for instances that outgrow the single JSON document.
type DB struct {
	db *sql.DB
}

// NewDB opens (or creates) a SQLite database at path and runs schema migrations.
func NewDB(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway and this keeps
	// the read-modify-write transactions below free of SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate creates all required tables if they do not already exist.
func (d *DB) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS uploads (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    short_id TEXT NOT NULL UNIQUE,
    owner_id TEXT NOT NULL,
    original_name TEXT NOT NULL,
    storage_path TEXT NOT NULL,
    mime_type TEXT NOT NULL DEFAULT '',
    size INTEGER NOT NULL DEFAULT 0,
    checksum TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    delete_token TEXT NOT NULL,
    views INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS counters (
    name TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);

INSERT OR IGNORE INTO counters (name, value) VALUES ('deleted', 0);

CREATE INDEX IF NOT EXISTS idx_uploads_owner ON uploads(owner_id);`
	_, err := d.db.Exec(schema)
	return err
}

const uploadColumns = `short_id, owner_id, original_name, storage_path, mime_type, size, checksum, created_at, delete_token, views`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpload(s rowScanner) (Upload, error) {
	var u Upload
	err := s.Scan(&u.ShortID, &u.OwnerID, &u.OriginalName, &u.StoragePath, &u.MimeType,
		&u.Size, &u.Checksum, &u.CreatedAt, &u.DeleteToken, &u.Views)
	return u, err
}

// Insert adds a new upload record.
func (d *DB) Insert(u *Upload) error {
	if u.OwnerID == MetaKey {
		return fmt.Errorf("insert upload: %w", ErrReservedOwner)
	}
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow(`SELECT 1 FROM uploads WHERE short_id = ?`, u.ShortID).Scan(&exists)
	if err == nil {
		return fmt.Errorf("insert upload %s: %w", u.ShortID, ErrDuplicate)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("insert upload: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO uploads (`+uploadColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ShortID, u.OwnerID, u.OriginalName, u.StoragePath, u.MimeType,
		u.Size, u.Checksum, u.CreatedAt, u.DeleteToken, u.Views,
	)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return tx.Commit()
}

// Find retrieves an upload by short id.
func (d *DB) Find(shortID string) (*Upload, error) {
	u, err := scanUpload(d.db.QueryRow(
		`SELECT `+uploadColumns+` FROM uploads WHERE short_id = ?`, shortID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find %s: %w", shortID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", shortID, err)
	}
	return &u, nil
}

// ListOwner returns an owner's uploads, newest first.
func (d *DB) ListOwner(ownerID string) ([]Upload, error) {
	rows, err := d.db.Query(
		`SELECT `+uploadColumns+` FROM uploads WHERE owner_id = ?
		 ORDER BY created_at DESC, seq ASC`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list owner uploads: %w", err)
	}
	defer rows.Close()

	var uploads []Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// ForEachOwner walks uploads grouped by owner id. Rows are read fully
// before fn runs so fn may call back into the registry.
func (d *DB) ForEachOwner(fn func(ownerID string, uploads []Upload) error) error {
	rows, err := d.db.Query(
		`SELECT ` + uploadColumns + ` FROM uploads ORDER BY owner_id, seq`,
	)
	if err != nil {
		return fmt.Errorf("list uploads: %w", err)
	}

	var (
		owners []string
		groups = make(map[string][]Upload)
	)
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("scan upload: %w", err)
		}
		if _, seen := groups[u.OwnerID]; !seen {
			owners = append(owners, u.OwnerID)
		}
		groups[u.OwnerID] = append(groups[u.OwnerID], u)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("list uploads: %w", err)
	}
	rows.Close()

	for _, owner := range owners {
		if err := fn(owner, groups[owner]); err != nil {
			return err
		}
	}
	return nil
}

// IncrementViews increments the view counter for an upload.
func (d *DB) IncrementViews(shortID string) error {
	res, err := d.db.Exec(`UPDATE uploads SET views = views + 1 WHERE short_id = ?`, shortID)
	if err != nil {
		return fmt.Errorf("increment views: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment views rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("increment views %s: %w", shortID, ErrNotFound)
	}
	return nil
}

func (d *DB) remove(shortID string, counted bool) (*Upload, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("remove upload: %w", err)
	}
	defer tx.Rollback()

	u, err := scanUpload(tx.QueryRow(
		`SELECT `+uploadColumns+` FROM uploads WHERE short_id = ?`, shortID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("remove %s: %w", shortID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("remove %s: %w", shortID, err)
	}

	if _, err := tx.Exec(`DELETE FROM uploads WHERE short_id = ?`, shortID); err != nil {
		return nil, fmt.Errorf("remove upload: %w", err)
	}
	if counted {
		if _, err := tx.Exec(`UPDATE counters SET value = value + 1 WHERE name = 'deleted'`); err != nil {
			return nil, fmt.Errorf("count deletion: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("remove upload: %w", err)
	}
	return &u, nil
}

// Remove deletes an upload and bumps the deleted counter.
func (d *DB) Remove(shortID string) (*Upload, error) {
	return d.remove(shortID, true)
}

// Purge deletes a dangling upload record without counting it.
func (d *DB) Purge(shortID string) error {
	_, err := d.remove(shortID, false)
	return err
}

// Deleted returns the cumulative deletion count.
func (d *DB) Deleted() (int64, error) {
	var n int64
	if err := d.db.QueryRow(`SELECT value FROM counters WHERE name = 'deleted'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("read deleted counter: %w", err)
	}
	return n, nil
}
