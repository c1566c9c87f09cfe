package account

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Account describes one account's on-disk data directory. All paths under
// Root are treated as read-only input; nothing in this package writes there.
type Account struct {
	// Root is the account data directory (contains db/, msg/, ...).
	Root string
	// ID is the account's own identity, used to attribute outgoing messages.
	ID string
}

// Open validates root and builds an Account. If id is empty the directory
// base name is used, which is how the source application lays accounts out.
func Open(root, id string) (*Account, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve account root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("account root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("account root %s is not a directory", abs)
	}
	if id == "" {
		id = filepath.Base(abs)
	}
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	return &Account{Root: abs, ID: id}, nil
}

// DBDir returns the directory holding all embedded stores.
func (a *Account) DBDir() string {
	return filepath.Join(a.Root, "db")
}

// ShardPaths returns the message shard databases in name order. Missing
// shards are not an error; an account may have any number of them.
func (a *Account) ShardPaths() []string {
	matches, _ := filepath.Glob(filepath.Join(a.DBDir(), "message_*.db"))
	sort.Strings(matches)
	return matches
}

// SessionDBPath returns the session index store path.
func (a *Account) SessionDBPath() string {
	return filepath.Join(a.DBDir(), "session.db")
}

// HardlinkDBPath returns the hardlink index store path.
func (a *Account) HardlinkDBPath() string {
	return filepath.Join(a.DBDir(), "hardlink.db")
}

// ResourceDBPath returns the resource index store path.
func (a *Account) ResourceDBPath() string {
	return filepath.Join(a.DBDir(), "resource.db")
}

// ContactDBPath returns the contact/avatar store path.
func (a *Account) ContactDBPath() string {
	return filepath.Join(a.DBDir(), "contact.db")
}

// AttachRoot returns the per-conversation attachment root.
func (a *Account) AttachRoot() string {
	return filepath.Join(a.Root, "msg", "attach")
}

// ConvAttachDir returns the attachment directory for one conversation,
// which the source application names by the conversation's id hash.
func (a *Account) ConvAttachDir(convID string) string {
	return filepath.Join(a.AttachRoot(), HashID(convID))
}

// FileRoot returns the root of exported file storage.
func (a *Account) FileRoot() string {
	return filepath.Join(a.Root, "msg", "file")
}

// VideoRoot returns the root of video storage.
func (a *Account) VideoRoot() string {
	return filepath.Join(a.Root, "msg", "video")
}

// VoiceRoot returns the root of voice blob storage.
func (a *Account) VoiceRoot() string {
	return filepath.Join(a.Root, "msg", "voice")
}

// EmoticonRoot returns the sticker cache root (first-2-hex bucket layout).
func (a *Account) EmoticonRoot() string {
	return filepath.Join(a.Root, "emoticon")
}

// GenericCacheRoot returns the application's generic cache directory.
func (a *Account) GenericCacheRoot() string {
	return filepath.Join(a.Root, "cache")
}

// HashID returns the lowercase hex md5 of an identity string. The source
// application uses this digest for conversation table names and attachment
// directory names.
func HashID(id string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(id)))
	return hex.EncodeToString(sum[:])
}
