package shard

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/chatarc/chatarc/internal/account"
)

// Shard is one read-only message store.
type Shard struct {
	db      *sql.DB
	Name    string
	account string
	names   map[int64]string
	logger  *zap.Logger
}

// Open opens the shard at path read-only and loads its name-resolution side
// table. accountID is used to attribute outgoing rows.
func Open(path, accountID string, logger *zap.Logger) (*Shard, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open shard %s: %w", filepath.Base(path), err)
	}
	// SQLite defers reading the header until the first statement, so a
	// plain Ping would accept a corrupt file. Probe the schema instead.
	var n int
	if err := db.QueryRow(`SELECT count(*) FROM sqlite_master`).Scan(&n); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read shard %s: %w", filepath.Base(path), err)
	}
	s := &Shard{db: db, Name: filepath.Base(path), account: accountID, logger: logger}
	s.names = s.loadNames()
	return s, nil
}

// OpenAll opens every shard of the account. Unreadable shards are skipped
// with a warning; only zero openable shards is an error.
func OpenAll(acct *account.Account, logger *zap.Logger) ([]*Shard, error) {
	paths := acct.ShardPaths()
	var shards []*Shard
	for _, p := range paths {
		s, err := Open(p, acct.ID, logger)
		if err != nil {
			logger.Warn("skipping unreadable shard", zap.String("path", p), zap.Error(err))
			continue
		}
		shards = append(shards, s)
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("no readable shards under %s", acct.DBDir())
	}
	return shards, nil
}

func (s *Shard) Close() error { return s.db.Close() }

// CloseAll closes every shard, keeping the first error.
func CloseAll(shards []*Shard) error {
	var first error
	for _, s := range shards {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *Shard) loadNames() map[int64]string {
	rows, err := s.db.Query(`SELECT rowid, user_name FROM Name2Id`)
	if err != nil {
		// Older shards ship without the side table; heuristics take over.
		s.logger.Debug("shard has no name table", zap.String("shard", s.Name))
		return nil
	}
	defer rows.Close()
	names := make(map[int64]string)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			continue
		}
		names[id] = name
	}
	return names
}

// tableFor locates the conversation's message table in this shard. Newer
// format generations name it Msg_<md5(conv)>, older ones Chat_<md5(conv)>.
// An empty name means the shard holds nothing for this conversation.
func (s *Shard) tableFor(conv string) (string, error) {
	h := account.HashID(conv)
	for _, prefix := range []string{"Msg_", "Chat_"} {
		name := prefix + h
		var found string
		err := s.db.QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&found)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("probe table %s: %w", name, err)
		}
		return found, nil
	}
	return "", nil
}

// Conversation returns an ordered cursor over the conversation's rows in this
// shard, restricted to the window. A shard without a matching table yields an
// empty cursor, not an error.
func (s *Shard) Conversation(conv string, isGroup bool, w TimeWindow) (Cursor, error) {
	table, err := s.tableFor(conv)
	if err != nil {
		return nil, err
	}
	if table == "" {
		return emptyCursor{}, nil
	}

	query := fmt.Sprintf(`SELECT local_id, COALESCE(server_id, 0), local_type,
		COALESCE(sort_seq, 0), COALESCE(real_sender_id, 0), create_time,
		COALESCE(message_content, x'') FROM %q`, table)
	var conds []string
	var args []any
	if w.From > 0 {
		conds = append(conds, "create_time >= ?")
		args = append(args, w.From)
	}
	if w.To > 0 {
		conds = append(conds, "create_time <= ?")
		args = append(args, w.To)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY create_time, COALESCE(sort_seq, 0), local_id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	return &tableCursor{rows: rows, shard: s, table: table, conv: conv, group: isGroup}, nil
}

type tableCursor struct {
	rows  *sql.Rows
	shard *Shard
	table string
	conv  string
	group bool
}

func (c *tableCursor) Next() (*MessageRow, error) {
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return nil, fmt.Errorf("read %s: %w", c.table, err)
		}
		return nil, nil
	}
	var (
		r         MessageRow
		senderRef int64
		payload   []byte
	)
	if err := c.rows.Scan(&r.LocalID, &r.ServerID, &r.Type, &r.SortSeq,
		&senderRef, &r.CreateTime, &payload); err != nil {
		return nil, fmt.Errorf("scan %s: %w", c.table, err)
	}
	r.Shard = c.shard.Name
	r.Table = c.table
	r.Conversation = c.conv
	r.Content = decodePayload(payload)
	c.shard.attribute(&r, senderRef, c.group)
	return &r, nil
}

func (c *tableCursor) Close() error { return c.rows.Close() }

type emptyCursor struct{}

func (emptyCursor) Next() (*MessageRow, error) { return nil, nil }
func (emptyCursor) Close() error               { return nil }

// Group payloads prefix-encode the sender as "<id>:\n" before the body.
var senderPrefixRe = regexp.MustCompile(`^([0-9A-Za-z_@.\-]+):\n`)

// attribute resolves the row's sender. Outgoing rows always belong to the
// account; group rows prefer the payload prefix over the join result; direct
// chats with no join result fall back to the other party.
func (s *Shard) attribute(r *MessageRow, senderRef int64, group bool) {
	joined := s.names[senderRef]
	if joined != "" && joined == s.account {
		r.IsSender = true
		r.Sender = s.account
		return
	}
	if group {
		if m := senderPrefixRe.FindStringSubmatch(r.Content); m != nil {
			r.Sender = m[1]
			r.Content = r.Content[len(m[0]):]
			return
		}
		r.Sender = joined
		return
	}
	r.Sender = joined
	if r.Sender == "" {
		r.Sender = r.Conversation
	}
}
