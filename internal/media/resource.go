package media

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ResourceIndex maps a message row to the content hash of its media, for
// payloads that carry no usable identity of their own.
type ResourceIndex struct {
	db *sql.DB
}

// OpenResourceIndex opens the index read-only.
func OpenResourceIndex(path string) (*ResourceIndex, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open resource index: %w", err)
	}
	var n int
	if err := db.QueryRow(`SELECT count(*) FROM sqlite_master`).Scan(&n); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read resource index: %w", err)
	}
	return &ResourceIndex{db: db}, nil
}

func (x *ResourceIndex) Close() error { return x.db.Close() }

// HashFor returns the indexed content hash for the row, or "" when the
// index has no entry. The key is the full (conversation, type, server id,
// local id, create time) tuple.
func (x *ResourceIndex) HashFor(conv string, key RowKey) string {
	var h string
	err := x.db.QueryRow(`SELECT md5 FROM resource_index
		WHERE conversation = ? AND type = ? AND server_id = ?
		AND local_id = ? AND create_time = ? LIMIT 1`,
		conv, key.Type, key.ServerID, key.LocalID, key.CreateTime).Scan(&h)
	if err != nil {
		return ""
	}
	return NormalizeHash(h)
}
