// Package decode turns raw message rows into typed, renderable messages.
// Decode is a pure function: it never touches the network or filesystem.
// Media it cannot resolve by itself becomes media.Ref values for the media
// engine to chase later.
package decode

import (
	"github.com/chatarc/chatarc/internal/media"
	"github.com/chatarc/chatarc/internal/shard"
)

// Kind is the render kind of a parsed message. It is always set; unknown
// type codes fall back to KindText with a generic label.
type Kind string

const (
	KindText       Kind = "text"
	KindImage      Kind = "image"
	KindVideo      Kind = "video"
	KindVideoThumb Kind = "video_thumb"
	KindVoice      Kind = "voice"
	KindEmoji      Kind = "emoji"
	KindFile       Kind = "file"
	KindLink       Kind = "link"
	KindTransfer   Kind = "transfer"
	KindQuote      Kind = "quote"
	KindSystem     Kind = "system"
	KindVoip       Kind = "voip"
	KindRedPacket  Kind = "redPacket"
)

// ParsedMessage is the typed view of one message row. Sender may differ from
// the row's resolved sender when the payload envelope embeds the identity.
type ParsedMessage struct {
	Row      *shard.MessageRow
	Kind     Kind
	Content  string
	Sender   string
	IsSender bool

	URL            string
	Title          string
	FileName       string
	FileSize       int64
	Duration       int // seconds
	Amount         string
	TransferStatus string
	QuoteTitle     string
	QuoteContent   string
	MD5            string
	ThumbMD5       string
	FileID         string

	Media []media.Ref
}

func (m *ParsedMessage) addMedia(kind media.Kind, hash, fileID string) {
	m.Media = append(m.Media, media.Ref{
		Kind:         kind,
		Hash:         hash,
		FileID:       fileID,
		Conversation: m.Row.Conversation,
		Row: media.RowKey{
			Type:       m.Row.Type,
			ServerID:   m.Row.ServerID,
			LocalID:    m.Row.LocalID,
			CreateTime: m.Row.CreateTime,
		},
	})
}

func (m *ParsedMessage) addOptionalMedia(kind media.Kind, hash, fileID string) {
	m.addMedia(kind, hash, fileID)
	m.Media[len(m.Media)-1].Optional = true
}
