package sessiondb

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func writeSessionDB(t *testing.T, sessions []Session) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE SessionTable (
		username TEXT PRIMARY KEY,
		summary TEXT,
		last_timestamp INTEGER,
		sort_timestamp INTEGER,
		is_hidden INTEGER
	)`)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range sessions {
		hidden := 0
		if s.Hidden {
			hidden = 1
		}
		_, err = db.Exec(`INSERT INTO SessionTable VALUES (?, ?, ?, ?, ?)`,
			s.Username, s.Summary, s.LastTimestamp, s.SortTimestamp, hidden)
		if err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestListOrdersBySortTimestamp(t *testing.T) {
	path := writeSessionDB(t, []Session{
		{Username: "alice", SortTimestamp: 100},
		{Username: "bob", SortTimestamp: 300},
		{Username: "carol", SortTimestamp: 200},
	})

	sessions, err := List(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 3 {
		t.Fatalf("got %d sessions, want 3", len(sessions))
	}
	want := []string{"bob", "carol", "alice"}
	for i, w := range want {
		if sessions[i].Username != w {
			t.Errorf("sessions[%d] = %q, want %q", i, sessions[i].Username, w)
		}
	}
}

func TestListFilteredDefault(t *testing.T) {
	path := writeSessionDB(t, []Session{
		{Username: "alice", SortTimestamp: 500},
		{Username: "team1234@chatroom", SortTimestamp: 400},
		{Username: "gh_news", SortTimestamp: 300},
		{Username: "filehelper", SortTimestamp: 200},
		{Username: "secret", SortTimestamp: 100, Hidden: true},
	})

	sessions, err := ListFiltered(path, DefaultFilter())
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2 (singles + groups only): %+v", len(sessions), sessions)
	}
	if sessions[0].Username != "alice" || sessions[1].Username != "team1234@chatroom" {
		t.Errorf("unexpected entries: %q, %q", sessions[0].Username, sessions[1].Username)
	}
}

func TestFilterMatch(t *testing.T) {
	tests := []struct {
		name    string
		filter  Filter
		session Session
		want    bool
	}{
		{"hidden excluded by default", DefaultFilter(), Session{Username: "x", Hidden: true}, false},
		{"hidden included when asked", Filter{Singles: true, Hidden: true}, Session{Username: "x", Hidden: true}, true},
		{"group excluded without flag", Filter{Singles: true}, Session{Username: "g@chatroom"}, false},
		{"official needs its own flag", Filter{Singles: true, Groups: true}, Session{Username: "gh_brand"}, false},
		{"service account is official", Filter{Singles: true, Official: true}, Session{Username: "weixin"}, true},
		{"single allowed", Filter{Singles: true}, Session{Username: "friend"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(tt.session); got != tt.want {
				t.Errorf("Match(%+v) = %v, want %v", tt.session, got, tt.want)
			}
		})
	}
}

func TestPredicates(t *testing.T) {
	if !IsGroup("team@chatroom") || IsGroup("alice") {
		t.Error("IsGroup misclassified")
	}
	if !IsOfficial("gh_brand") || !IsOfficial("filehelper") || IsOfficial("alice") {
		t.Error("IsOfficial misclassified")
	}
}
