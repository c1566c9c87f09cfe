package account

import (
	"os"
	"path/filepath"
)

// StateDir returns ~/.chatarc, the exporter-owned state directory.
func StateDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatarc")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(StateDir(), "config.toml")
}

// HistoryDBPath returns the export-history database path.
func HistoryDBPath() string {
	return filepath.Join(StateDir(), "history.db")
}

// LogDir returns the log directory.
func LogDir() string {
	return filepath.Join(StateDir(), "logs")
}

// LogPath returns the exporter log file path.
func LogPath() string {
	return filepath.Join(LogDir(), "chatarc.log")
}

// CacheDir returns the decrypted-resource cache root for one account.
// Resolved media is written here as <hh>/<hash>.<ext> so later runs can
// skip decryption entirely.
func CacheDir(accountID string) string {
	return filepath.Join(StateDir(), "cache", accountID)
}

// EnsureStateDirs creates the state directory tree with owner-only permissions.
func EnsureStateDirs() error {
	dirs := []string{
		StateDir(),
		LogDir(),
		filepath.Join(StateDir(), "cache"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
