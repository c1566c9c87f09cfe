package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ErrCodecUnavailable marks vendor images that cannot be converted because
// no external codec binary is configured.
var ErrCodecUnavailable = errors.New("media: vendor image codec not configured")

// Codec converts the vendor image container to a standard format by running
// an external binary as <bin> <input> <output>.
type Codec struct {
	Bin string
}

func (c *Codec) available() bool { return c != nil && c.Bin != "" }

func (c *Codec) Convert(ctx context.Context, data []byte) ([]byte, error) {
	if !c.available() {
		return nil, ErrCodecUnavailable
	}
	dir, err := os.MkdirTemp("", "chatarc-codec-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.bin")
	out := filepath.Join(dir, "out.bin")
	if err := os.WriteFile(in, data, 0600); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, c.Bin, in, out)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("codec: %w (%s)", err, firstLine(output))
	}
	converted, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("codec produced no output: %w", err)
	}
	return converted, nil
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	return string(bytes.TrimSpace(b))
}
