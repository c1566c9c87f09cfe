package sessiondb

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// List reads every session entry from the index at path, most recent first.
// The database is opened read-only; account data is never written.
func List(path string) ([]Session, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open session index: %w", err)
	}
	defer db.Close()

	rows, err := db.Query(`
		SELECT username, COALESCE(summary, ''),
			COALESCE(last_timestamp, 0), COALESCE(sort_timestamp, 0),
			COALESCE(is_hidden, 0)
		FROM SessionTable
		ORDER BY sort_timestamp DESC, username`)
	if err != nil {
		return nil, fmt.Errorf("query session index: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var hidden int
		if err := rows.Scan(&s.Username, &s.Summary, &s.LastTimestamp, &s.SortTimestamp, &hidden); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.Hidden = hidden != 0
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ListFiltered reads the session index and applies the filter.
func ListFiltered(path string, f Filter) ([]Session, error) {
	all, err := List(path)
	if err != nil {
		return nil, err
	}
	var out []Session
	for _, s := range all {
		if f.Match(s) {
			out = append(out, s)
		}
	}
	return out, nil
}
