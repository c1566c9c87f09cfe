// Package shard reads message rows from an account's sharded message stores
// and merges them into one globally ordered stream per conversation.
package shard

import "fmt"

// MessageRow is one physical record from a shard, immutable once read.
// Content is the decompressed payload text; Sender is the resolved sender
// identity after the join and group-prefix heuristics.
type MessageRow struct {
	Shard        string // shard file base name, e.g. "message_0.db"
	Table        string
	Conversation string
	LocalID      int64
	ServerID     int64
	Type         int
	SortSeq      int64
	CreateTime   int64 // unix seconds
	Content      string
	Sender       string
	IsSender     bool
}

// CompositeID is the stable shard-qualified identifier for the row. Two rows
// from different shards can never collide on it.
func (r *MessageRow) CompositeID() string {
	return fmt.Sprintf("%s/%s/%d", r.Shard, r.Table, r.LocalID)
}

// TimeWindow restricts a cursor to an inclusive creation-time range in unix
// seconds. A zero bound leaves that side open.
type TimeWindow struct {
	From int64
	To   int64
}

// Cursor yields message rows in ascending (CreateTime, SortSeq, LocalID)
// order. Next returns (nil, nil) once the stream is exhausted.
type Cursor interface {
	Next() (*MessageRow, error)
	Close() error
}

// Less orders two rows by the (CreateTime, SortSeq, LocalID) triple.
func Less(a, b *MessageRow) bool {
	if a.CreateTime != b.CreateTime {
		return a.CreateTime < b.CreateTime
	}
	if a.SortSeq != b.SortSeq {
		return a.SortSeq < b.SortSeq
	}
	return a.LocalID < b.LocalID
}
