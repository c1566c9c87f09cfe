package export

import (
	"fmt"

	"github.com/chatarc/chatarc/internal/decode"
)

// Pseudonyms for the two fixed roles. Group members get sequential ones.
const (
	pseudonymSelf    = "me"
	pseudonymContact = "contact"
)

// Scrubber strips identifying data from parsed messages. The pseudonym map
// is job-wide: the same sender scrubs to the same pseudonym in every
// conversation of one export, and applying the scrubber twice is a no-op.
type Scrubber struct {
	names  map[string]string
	issued map[string]bool
	seq    int
}

func NewScrubber() *Scrubber {
	return &Scrubber{
		names: make(map[string]string),
		issued: map[string]bool{
			pseudonymSelf:    true,
			pseudonymContact: true,
		},
	}
}

// Pseudonym maps a sender identity to its stable pseudonym. Outgoing
// messages and one-to-one peers collapse to fixed labels; group members are
// numbered in first-seen order.
func (s *Scrubber) Pseudonym(sender string, outgoing, group bool) string {
	if outgoing {
		return pseudonymSelf
	}
	if s.issued[sender] {
		// Already a pseudonym; scrubbing again must not re-map it.
		return sender
	}
	if !group {
		return pseudonymContact
	}
	if p, ok := s.names[sender]; ok {
		return p
	}
	s.seq++
	p := fmt.Sprintf("member-%02d", s.seq)
	s.names[sender] = p
	s.issued[p] = true
	return p
}

// Apply scrubs one message in place: pseudonymous sender, kind-only
// placeholder content, every payload-derived field cleared, media dropped.
func (s *Scrubber) Apply(m *decode.ParsedMessage, group bool) {
	m.Sender = s.Pseudonym(m.Sender, m.IsSender, group)
	m.Content = "[" + string(m.Kind) + "]"
	m.URL = ""
	m.Title = ""
	m.FileName = ""
	m.FileSize = 0
	m.Duration = 0
	m.Amount = ""
	m.TransferStatus = ""
	m.QuoteTitle = ""
	m.QuoteContent = ""
	m.MD5 = ""
	m.ThumbMD5 = ""
	m.FileID = ""
	m.Media = nil
}
