// Package media locates, decrypts and type-sniffs the media blobs referenced
// by decoded messages, across the storage layouts and encryption generations
// the application has used over time.
package media

import "strings"

// Kind is the media family of a resolution request. It selects the hardlink
// index tables, the filesystem search roots and the archive subdirectory.
type Kind string

const (
	KindImage      Kind = "image"
	KindEmoji      Kind = "emoji"
	KindVideo      Kind = "video"
	KindVideoThumb Kind = "video_thumb"
	KindVoice      Kind = "voice"
	KindFile       Kind = "file"
	KindAvatar     Kind = "avatar"
)

// ArchiveDir returns the archive subdirectory items of this kind are written
// to.
func (k Kind) ArchiveDir() string {
	switch k {
	case KindImage:
		return "images"
	case KindEmoji:
		return "emojis"
	case KindVideo:
		return "videos"
	case KindVideoThumb:
		return "video_thumbs"
	case KindVoice:
		return "voices"
	case KindFile:
		return "files"
	case KindAvatar:
		return "avatars"
	}
	return string(k) + "s"
}

// RowKey identifies the originating message row, used for the resource-index
// fallback when a reference carries no hash or file id of its own.
type RowKey struct {
	Type       int
	ServerID   int64
	LocalID    int64
	CreateTime int64
}

// Ref is a resolution request for one media item. Hash and FileID may both
// be empty, in which case only the resource-index fallback applies. Optional
// references that fail to resolve are dropped silently instead of being
// reported as missing.
type Ref struct {
	Kind         Kind
	Hash         string // 32 lowercase hex chars when present
	FileID       string
	Conversation string
	Row          RowKey
	Optional     bool
}

// Identity returns the memoization key for the reference: the normalized
// content hash when present, else the opaque file id.
func (r Ref) Identity() string {
	if r.Hash != "" {
		return r.Hash
	}
	return r.FileID
}

// NormalizeHash lowercases and validates a 32-hex content hash. Anything
// else returns "" so malformed identities never become cache keys.
func NormalizeHash(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if len(h) != 32 {
		return ""
	}
	for _, c := range h {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return ""
		}
	}
	return h
}
