// Package sessiondb reads the account's session index: the conversation list
// the application itself shows, with per-conversation flags. Conversation
// resolution for an export starts here when no explicit list is given.
package sessiondb

import "strings"

// Session is one conversation entry from the session index.
type Session struct {
	Username      string
	Summary       string
	LastTimestamp int64
	SortTimestamp int64
	Hidden        bool
}

// serviceAccounts are built-in identities that behave like official accounts
// without the gh_ prefix.
var serviceAccounts = map[string]bool{
	"filehelper":            true,
	"weixin":                true,
	"newsapp":               true,
	"fmessage":              true,
	"floatbottle":           true,
	"medianote":             true,
	"notification_messages": true,
}

// IsGroup reports whether username names a group conversation.
func IsGroup(username string) bool {
	return strings.HasSuffix(username, "@chatroom")
}

// IsOfficial reports whether username names an official or service account.
func IsOfficial(username string) bool {
	return strings.HasPrefix(username, "gh_") || serviceAccounts[username]
}

// Filter selects which session entries become export targets.
type Filter struct {
	Groups   bool
	Singles  bool
	Hidden   bool
	Official bool
}

// DefaultFilter exports regular chats and groups, skipping hidden entries and
// official accounts.
func DefaultFilter() Filter {
	return Filter{Groups: true, Singles: true}
}

// Match reports whether the session entry passes the filter.
func (f Filter) Match(s Session) bool {
	if s.Hidden && !f.Hidden {
		return false
	}
	if IsOfficial(s.Username) {
		return f.Official
	}
	if IsGroup(s.Username) {
		return f.Groups
	}
	return f.Singles
}
