package media

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// HardlinkIndex maps content hashes to the physical directory components a
// blob was stored under. Each media family has its own table generation
// (image_hardlink_info_v2, v3, …); the newest by name wins.
type HardlinkIndex struct {
	db     *sql.DB
	tables map[Kind]string
	dirs   map[int64]string
}

var hardlinkFamilies = map[Kind]string{
	KindImage:      "image_hardlink_info_",
	KindEmoji:      "emoji_hardlink_info_",
	KindVideo:      "video_hardlink_info_",
	KindVideoThumb: "video_hardlink_info_",
	KindFile:       "file_hardlink_info_",
}

// OpenHardlinkIndex opens the index read-only and discovers the live table
// of each family plus the dir2id directory-name table.
func OpenHardlinkIndex(path string) (*HardlinkIndex, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open hardlink index: %w", err)
	}
	h := &HardlinkIndex{db: db, tables: make(map[Kind]string)}
	for kind, prefix := range hardlinkFamilies {
		table, err := newestTable(db, prefix)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if table != "" {
			h.tables[kind] = table
		}
	}
	if err := h.loadDirs(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return h, nil
}

func (h *HardlinkIndex) Close() error { return h.db.Close() }

func newestTable(db *sql.DB, prefix string) (string, error) {
	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master
		WHERE type = 'table' AND name LIKE ?
		ORDER BY name DESC LIMIT 1`, prefix+"%").Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("probe %s tables: %w", prefix, err)
	}
	return name, nil
}

func (h *HardlinkIndex) loadDirs() error {
	rows, err := h.db.Query(`SELECT rowid, username FROM dir2id`)
	if err != nil {
		// Some accounts ship the index without the directory table; path
		// candidates then skip the conversation component.
		return nil
	}
	defer rows.Close()
	h.dirs = make(map[int64]string)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			continue
		}
		h.dirs[id] = name
	}
	return rows.Err()
}

// HardlinkRow is one index entry with its directory references resolved to
// names.
type HardlinkRow struct {
	FileName   string
	Dir1       string
	Dir2       string
	ModifyTime int64
}

// Lookup finds the index entry for (kind, hash), or nil when the family has
// no table or no row matches.
func (h *HardlinkIndex) Lookup(kind Kind, hash string) (*HardlinkRow, error) {
	table, ok := h.tables[kind]
	if !ok {
		return nil, nil
	}
	var (
		row        HardlinkRow
		dir1, dir2 int64
	)
	err := h.db.QueryRow(fmt.Sprintf(`SELECT file_name, COALESCE(dir1, 0),
		COALESCE(dir2, 0), COALESCE(modify_time, 0) FROM %q
		WHERE md5 = ? LIMIT 1`, table), hash).
		Scan(&row.FileName, &dir1, &dir2, &row.ModifyTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hardlink lookup %s: %w", table, err)
	}
	row.Dir1 = h.dirs[dir1]
	row.Dir2 = h.dirs[dir2]
	return &row, nil
}

// monthsAround returns the year-month folder names to probe for a row: the
// modify-time month first, then the previous and next. Media written near a
// month boundary can land one bucket off its index timestamp.
func monthsAround(modifyTime int64) []string {
	t := time.Unix(modifyTime, 0).UTC()
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return []string{
		first.Format("2006-01"),
		first.AddDate(0, -1, 0).Format("2006-01"),
		first.AddDate(0, 1, 0).Format("2006-01"),
	}
}

// thumbName maps a stored filename to its thumbnail variant.
func thumbName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + "_thumb.jpg"
}
