// Package contact resolves identities to display names and avatar images.
// Name lookup is a collaborator of the exporter, not part of it; this package
// only fronts the account's contact store and degrades to empty answers when
// the store is absent.
package contact

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Directory answers name and avatar questions about identities. A nil *DB
// satisfies the same calls, so callers never branch on store availability.
type Directory interface {
	// DisplayName returns the best-known name for an identity, or "" when
	// the directory has nothing. Callers fall back to the raw identity.
	DisplayName(username string) string
	// Avatar returns the stored avatar image bytes, or nil.
	Avatar(username string) []byte
}

// DB is a read-only view over the account's contact store.
type DB struct {
	db *sql.DB
}

// Open opens the contact store read-only. The caller decides whether a
// failure matters; a nil *DB is a working empty directory.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open contact store: %w", err)
	}
	var n int
	if err := db.QueryRow(`SELECT count(*) FROM sqlite_master`).Scan(&n); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read contact store: %w", err)
	}
	return &DB{db: db}, nil
}

// Close releases the store. Nil-safe like the lookups.
func (d *DB) Close() error {
	if d == nil {
		return nil
	}
	return d.db.Close()
}

// DisplayName prefers the user-assigned remark over the contact's own
// nickname.
func (d *DB) DisplayName(username string) string {
	if d == nil {
		return ""
	}
	var nick, remark sql.NullString
	err := d.db.QueryRow(`SELECT nick_name, remark FROM contact
		WHERE user_name = ?`, username).Scan(&nick, &remark)
	if err != nil {
		return ""
	}
	if remark.String != "" {
		return remark.String
	}
	return nick.String
}

// Avatar returns the raw stored image, which callers must sniff; the store
// does not declare a format.
func (d *DB) Avatar(username string) []byte {
	if d == nil {
		return nil
	}
	var blob []byte
	err := d.db.QueryRow(`SELECT image FROM avatar
		WHERE user_name = ?`, username).Scan(&blob)
	if err != nil || len(blob) == 0 {
		return nil
	}
	return blob
}
