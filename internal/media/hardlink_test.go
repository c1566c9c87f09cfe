package media

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
)

type hlRow struct {
	md5        string
	fileName   string
	dir1       int64
	dir2       int64
	modifyTime int64
}

// writeHardlinkDB builds an index fixture: dir2id rows in order (rowid 1..n)
// plus one table per generation name.
func writeHardlinkDB(t *testing.T, path string, dirs []string, tables map[string][]hlRow) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE dir2id (username TEXT)`); err != nil {
		t.Fatalf("create dir2id: %v", err)
	}
	for _, d := range dirs {
		if _, err := db.Exec(`INSERT INTO dir2id (username) VALUES (?)`, d); err != nil {
			t.Fatalf("insert dir: %v", err)
		}
	}
	for table, rows := range tables {
		stmt := fmt.Sprintf(`CREATE TABLE %q (md5 TEXT, file_name TEXT,
			dir1 INTEGER, dir2 INTEGER, modify_time INTEGER)`, table)
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("create %s: %v", table, err)
		}
		for _, r := range rows {
			ins := fmt.Sprintf(`INSERT INTO %q (md5, file_name, dir1, dir2, modify_time)
				VALUES (?, ?, ?, ?, ?)`, table)
			if _, err := db.Exec(ins, r.md5, r.fileName, r.dir1, r.dir2, r.modifyTime); err != nil {
				t.Fatalf("insert into %s: %v", table, err)
			}
		}
	}
}

func TestHardlinkLookup(t *testing.T) {
	const hash = "11112222333344445555666677778888"
	path := filepath.Join(t.TempDir(), "hardlink.db")
	writeHardlinkDB(t, path, []string{"convdir", "subdir"}, map[string][]hlRow{
		"image_hardlink_info_v3": {
			{md5: hash, fileName: "pic.dat", dir1: 1, dir2: 2, modifyTime: 1684108800},
		},
	})

	idx, err := OpenHardlinkIndex(path)
	if err != nil {
		t.Fatalf("OpenHardlinkIndex: %v", err)
	}
	defer idx.Close()

	row, err := idx.Lookup(KindImage, hash)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if row == nil {
		t.Fatal("Lookup returned nil for an indexed hash")
	}
	if row.FileName != "pic.dat" || row.Dir1 != "convdir" || row.Dir2 != "subdir" {
		t.Errorf("row = %+v", row)
	}

	if row, err := idx.Lookup(KindImage, "ffffffffffffffffffffffffffffffff"); err != nil || row != nil {
		t.Errorf("miss: got (%v, %v), want (nil, nil)", row, err)
	}
	if row, err := idx.Lookup(KindFile, hash); err != nil || row != nil {
		t.Errorf("absent family: got (%v, %v), want (nil, nil)", row, err)
	}
}

func TestHardlinkNewestGenerationWins(t *testing.T) {
	const hash = "aaaa1111bbbb2222cccc3333dddd4444"
	path := filepath.Join(t.TempDir(), "hardlink.db")
	writeHardlinkDB(t, path, []string{"d"}, map[string][]hlRow{
		"image_hardlink_info_v2": {{md5: hash, fileName: "stale.dat", dir1: 1}},
		"image_hardlink_info_v3": {{md5: hash, fileName: "fresh.dat", dir1: 1}},
	})

	idx, err := OpenHardlinkIndex(path)
	if err != nil {
		t.Fatalf("OpenHardlinkIndex: %v", err)
	}
	defer idx.Close()

	row, err := idx.Lookup(KindImage, hash)
	if err != nil || row == nil {
		t.Fatalf("Lookup: (%v, %v)", row, err)
	}
	if row.FileName != "fresh.dat" {
		t.Errorf("file = %q, want the v3 entry", row.FileName)
	}
}

func TestMonthsAround(t *testing.T) {
	tests := []struct {
		name string
		ts   int64
		want [3]string
	}{
		{"mid month", 1684108800, [3]string{"2023-05", "2023-04", "2023-06"}},
		{"last day of month", 1685491200, [3]string{"2023-05", "2023-04", "2023-06"}},
		{"january wraps year", 1705276800, [3]string{"2024-01", "2023-12", "2024-02"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := monthsAround(tt.ts)
			if len(got) != 3 || got[0] != tt.want[0] || got[1] != tt.want[1] || got[2] != tt.want[2] {
				t.Errorf("monthsAround(%d) = %v, want %v", tt.ts, got, tt.want)
			}
		})
	}
}

func TestThumbName(t *testing.T) {
	if got := thumbName("vid.mp4"); got != "vid_thumb.jpg" {
		t.Errorf("thumbName(vid.mp4) = %q", got)
	}
	if got := thumbName("noext"); got != "noext_thumb.jpg" {
		t.Errorf("thumbName(noext) = %q", got)
	}
}
