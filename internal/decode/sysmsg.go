package decode

import (
	"encoding/xml"
	"html"
	"regexp"
	"strings"

	"github.com/chatarc/chatarc/internal/shard"
)

var tagRe = regexp.MustCompile(`<[^>]*>`)

func unescape(s string) string {
	return html.UnescapeString(s)
}

// stripTags flattens markup in system notices to plain text.
func stripTags(s string) string {
	return strings.TrimSpace(unescape(tagRe.ReplaceAllString(s, "")))
}

func decodeSystem(m *ParsedMessage, row *shard.MessageRow) {
	m.Kind = KindSystem
	m.Content = stripTags(row.Content)
}

type sysMsgEnvelope struct {
	XMLName xml.Name `xml:"sysmsg"`
	Type    string   `xml:"type,attr"`
	Revoke  *struct {
		ReplaceMsg string `xml:"replacemsg"`
	} `xml:"revokemsg"`
	Pat *struct {
		FromUsername   string `xml:"fromusername"`
		PattedUsername string `xml:"pattedusername"`
		Template       string `xml:"template"`
	} `xml:"pat"`
}

// Pat templates carry the identities inline as ${username} placeholders.
var patPlaceholderRe = regexp.MustCompile(`\$\{([^}]*)\}`)

func decodeSystemXML(m *ParsedMessage, row *shard.MessageRow) {
	m.Kind = KindSystem
	var env sysMsgEnvelope
	if err := xml.Unmarshal([]byte(row.Content), &env); err != nil {
		m.Content = stripTags(row.Content)
		return
	}
	switch {
	case env.Revoke != nil:
		m.Content = firstNonEmpty(strings.TrimSpace(env.Revoke.ReplaceMsg), "[message revoked]")
	case env.Pat != nil:
		tpl := strings.TrimSpace(env.Pat.Template)
		if tpl == "" {
			m.Content = "[pat]"
			return
		}
		m.Content = patPlaceholderRe.ReplaceAllString(tpl, "$1")
	default:
		m.Content = stripTags(row.Content)
	}
}
