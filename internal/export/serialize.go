package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chatarc/chatarc/internal/account"
)

// schemaVersion tags every JSON document in the archive.
const schemaVersion = 1

// timeLayout is the formatted-timestamp layout used throughout the archive.
const timeLayout = "2006-01-02 15:04:05"

func timeText(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(timeLayout)
}

// OfflineMedia points from a message to a media entry inside the archive.
type OfflineMedia struct {
	Kind     string `json:"kind"`
	Path     string `json:"path"`
	Identity string `json:"identity"`
}

// jsonMessage is the serialized form of one parsed message. Optional fields
// are omitted when empty so readers can treat presence as applicability.
type jsonMessage struct {
	ID                string `json:"id"`
	CreateTime        int64  `json:"createTime"`
	CreateTimeText    string `json:"createTimeText"`
	Type              int    `json:"type"`
	Kind              string `json:"kind"`
	IsSender          bool   `json:"isSender"`
	SenderUsername    string `json:"senderUsername"`
	SenderDisplayName string `json:"senderDisplayName,omitempty"`
	SenderAvatar      string `json:"senderAvatar,omitempty"`
	Conversation      string `json:"conversation"`
	Content           string `json:"content"`

	URL            string `json:"url,omitempty"`
	Title          string `json:"title,omitempty"`
	FileName       string `json:"fileName,omitempty"`
	FileSize       int64  `json:"fileSize,omitempty"`
	Duration       int    `json:"duration,omitempty"`
	Amount         string `json:"amount,omitempty"`
	TransferStatus string `json:"transferStatus,omitempty"`
	QuoteTitle     string `json:"quoteTitle,omitempty"`
	QuoteContent   string `json:"quoteContent,omitempty"`
	MD5            string `json:"md5,omitempty"`
	ThumbMD5       string `json:"thumbMD5,omitempty"`
	FileID         string `json:"fileID,omitempty"`

	OfflineMedia []OfflineMedia `json:"offlineMedia,omitempty"`
}

// convInfo describes the conversation inside its documents. In privacy mode
// only the short hash survives.
type convInfo struct {
	ID      string `json:"id,omitempty"`
	IDHash  string `json:"idHash"`
	Name    string `json:"name,omitempty"`
	IsGroup bool   `json:"isGroup"`
}

// filterInfo restates the row filters a document was produced under.
type filterInfo struct {
	Groups   bool  `json:"groups"`
	Singles  bool  `json:"singles"`
	Hidden   bool  `json:"hidden"`
	Official bool  `json:"official"`
	From     int64 `json:"from,omitempty"`
	To       int64 `json:"to,omitempty"`
}

// conversationDoc is the messages.json document.
type conversationDoc struct {
	SchemaVersion int           `json:"schemaVersion"`
	ExportedAt    string        `json:"exportedAt"`
	Conversation  convInfo      `json:"conversation"`
	Filters       filterInfo    `json:"filters"`
	Messages      []jsonMessage `json:"messages"`
}

// metaDoc is the per-conversation meta.json document.
type metaDoc struct {
	Index         int      `json:"index"`
	Conversation  convInfo `json:"conversation"`
	Messages      int      `json:"messages"`
	MediaExported int      `json:"mediaExported"`
	MediaMissing  int      `json:"mediaMissing"`
	FirstTime     string   `json:"firstTime,omitempty"`
	LastTime      string   `json:"lastTime,omitempty"`
}

// shortHash is the stable 8-hex conversation tag used in directory names
// and privacy-mode documents.
func shortHash(convID string) string {
	return account.HashID(convID)[:8]
}

// conversationDir builds the archive directory name for one conversation:
// a 1-based ordinal, the sanitized display name and the short id hash. The
// name part is dropped in privacy mode, leaving the ordinal and hash.
func conversationDir(idx int, name, convID string, privacy bool) string {
	h := shortHash(convID)
	if privacy {
		return fmt.Sprintf("%03d_%s", idx+1, h)
	}
	s := sanitizeName(name)
	if s == "" {
		s = sanitizeName(convID)
	}
	if s == "" {
		return fmt.Sprintf("%03d_%s", idx+1, h)
	}
	return fmt.Sprintf("%03d_%s_%s", idx+1, s, h)
}

// sanitizeName reduces a display name to a safe directory component:
// anything outside letters, digits, dot, dash and underscore collapses to a
// single underscore, and the result is length-capped.
func sanitizeName(s string) string {
	const maxLen = 48
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > maxLen {
		out = strings.Trim(out[:maxLen], "_")
	}
	return out
}

// writeTranscript renders the line-per-message text serialization.
func writeTranscript(w io.Writer, info convInfo, msgs []jsonMessage) error {
	title := info.Name
	if title == "" {
		title = info.IDHash
	}
	if _, err := fmt.Fprintf(w, "# %s\n\n", title); err != nil {
		return err
	}
	for _, m := range msgs {
		name := m.SenderDisplayName
		if name == "" {
			name = m.SenderUsername
		}
		if _, err := fmt.Fprintf(w, "[%s] %s: %s\n", m.CreateTimeText, name, m.Content); err != nil {
			return err
		}
		for _, om := range m.OfflineMedia {
			if _, err := fmt.Fprintf(w, "    (%s: %s)\n", om.Kind, om.Path); err != nil {
				return err
			}
		}
	}
	return nil
}
