package contact

import (
	"bytes"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func writeContactDB(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE contact (user_name TEXT PRIMARY KEY, nick_name TEXT, remark TEXT)`,
		`CREATE TABLE avatar (user_name TEXT PRIMARY KEY, image BLOB)`,
		`INSERT INTO contact VALUES ('alice@chat', 'Alice', 'Work Alice')`,
		`INSERT INTO contact VALUES ('bob@chat', 'Bob', '')`,
		`INSERT INTO contact VALUES ('carol@chat', NULL, NULL)`,
		`INSERT INTO avatar VALUES ('alice@chat', X'89504E470D0A1A0A')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contact.db")
	writeContactDB(t, path)
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDisplayName(t *testing.T) {
	d := openTestDB(t)
	tests := []struct {
		username string
		want     string
	}{
		{"alice@chat", "Work Alice"}, // remark wins
		{"bob@chat", "Bob"},
		{"carol@chat", ""},
		{"nobody@chat", ""},
	}
	for _, tt := range tests {
		if got := d.DisplayName(tt.username); got != tt.want {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.username, got, tt.want)
		}
	}
}

func TestAvatar(t *testing.T) {
	d := openTestDB(t)
	want := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	if got := d.Avatar("alice@chat"); !bytes.Equal(got, want) {
		t.Errorf("Avatar(alice) = % x", got)
	}
	if got := d.Avatar("bob@chat"); got != nil {
		t.Errorf("Avatar(bob) = % x, want nil", got)
	}
}

func TestNilDirectory(t *testing.T) {
	var d *DB
	if got := d.DisplayName("alice@chat"); got != "" {
		t.Errorf("nil DisplayName = %q", got)
	}
	if got := d.Avatar("alice@chat"); got != nil {
		t.Errorf("nil Avatar = % x", got)
	}
	if err := d.Close(); err != nil {
		t.Errorf("nil Close = %v", err)
	}
}

func TestOpenMissingStore(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "absent.db")); err == nil {
		t.Error("expected error for a missing store")
	}
}
