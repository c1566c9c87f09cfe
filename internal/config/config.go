package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatarc/config.toml.
type Config struct {
	// OutputDir is the default archive destination. Empty means the
	// current working directory at export time.
	OutputDir string `toml:"output_dir"`
	// CodecBin is an external converter for the vendor-proprietary image
	// container. Empty disables conversion; such images are reported as
	// unresolved rather than exported raw.
	CodecBin string `toml:"codec_bin"`
	Keys     Keys   `toml:"keys"`
	Export   Export `toml:"export"`
}

// Keys holds per-account media decryption material. Both values come from
// an external key-acquisition step; this tool never derives them.
type Keys struct {
	// XOR is the single-byte mask key, 0-255. Negative means unset.
	XOR int `toml:"xor"`
	// AES is the 16-byte key for generation-2 containers, as raw text.
	AES string `toml:"aes"`
}

// Export holds default export options, overridable per run by CLI flags.
type Export struct {
	Format string `toml:"format"` // "json" or "txt"
	Media  bool   `toml:"media"`
}

// Default returns the config used when no file exists yet.
func Default() *Config {
	return &Config{
		Keys:   Keys{XOR: -1},
		Export: Export{Format: "json", Media: true},
	}
}

// Load reads config from the given path. Returns an error if the file is
// missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) validate() error {
	if c.Keys.XOR > 255 {
		return fmt.Errorf("keys.xor = %d: must be a single byte (0-255)", c.Keys.XOR)
	}
	if c.Keys.AES != "" && len(c.Keys.AES) != 16 {
		return fmt.Errorf("keys.aes must be exactly 16 bytes, got %d", len(c.Keys.AES))
	}
	switch c.Export.Format {
	case "", "json", "txt":
	default:
		return fmt.Errorf("export.format %q: must be json or txt", c.Export.Format)
	}
	return nil
}

// XORByte returns the configured XOR key and whether one is set.
func (c *Config) XORByte() (byte, bool) {
	if c.Keys.XOR < 0 || c.Keys.XOR > 255 {
		return 0, false
	}
	return byte(c.Keys.XOR), true
}

// AESKey returns the configured AES key bytes and whether one is set.
func (c *Config) AESKey() ([]byte, bool) {
	if len(c.Keys.AES) != 16 {
		return nil, false
	}
	return []byte(c.Keys.AES), true
}
