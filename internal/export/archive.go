package export

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/flate"
)

// Archive wraps a zip writer building the export package. Entries are
// written strictly sequentially: text entries deflated, media stored as-is
// since it is already compressed by its own container format. The archive
// is built under a temporary name and only appears at its final path on
// Publish.
type Archive struct {
	f         *os.File
	zw        *zip.Writer
	dir       string
	baseName  string
	published bool
	closed    bool
}

// NewArchive creates the temporary archive file in dir.
func NewArchive(dir, baseName string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.CreateTemp(dir, baseName+"-*.part")
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})
	return &Archive{f: f, zw: zw, dir: dir, baseName: baseName}, nil
}

func (a *Archive) entry(name string, method uint16) (io.Writer, error) {
	return a.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   method,
		Modified: time.Now(),
	})
}

// AddStore writes an uncompressed entry.
func (a *Archive) AddStore(name string, data []byte) error {
	w, err := a.entry(name, zip.Store)
	if err != nil {
		return fmt.Errorf("archive entry %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("archive entry %s: %w", name, err)
	}
	return nil
}

// AddJSON writes v as an indented, deflated JSON entry.
func (a *Archive) AddJSON(name string, v any) error {
	w, err := a.entry(name, zip.Deflate)
	if err != nil {
		return fmt.Errorf("archive entry %s: %w", name, err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("archive entry %s: %w", name, err)
	}
	return nil
}

// AddText writes a deflated text entry produced by fn.
func (a *Archive) AddText(name string, fn func(w io.Writer) error) error {
	w, err := a.entry(name, zip.Deflate)
	if err != nil {
		return fmt.Errorf("archive entry %s: %w", name, err)
	}
	if err := fn(w); err != nil {
		return fmt.Errorf("archive entry %s: %w", name, err)
	}
	return nil
}

// Publish finalizes the archive and renames it to its permanent name,
// suffixing on collision. Returns the final path.
func (a *Archive) Publish() (string, error) {
	if err := a.close(); err != nil {
		_ = os.Remove(a.f.Name())
		return "", err
	}
	for n := 0; ; n++ {
		name := a.baseName + ".zip"
		if n > 0 {
			name = fmt.Sprintf("%s_%d.zip", a.baseName, n+1)
		}
		final := filepath.Join(a.dir, name)
		if _, err := os.Stat(final); err == nil {
			continue
		}
		if err := os.Rename(a.f.Name(), final); err != nil {
			_ = os.Remove(a.f.Name())
			return "", fmt.Errorf("publish archive: %w", err)
		}
		a.published = true
		return final, nil
	}
}

// Discard removes the temporary archive. A no-op after Publish; safe to
// defer unconditionally.
func (a *Archive) Discard() {
	if a.published {
		return
	}
	_ = a.close()
	_ = os.Remove(a.f.Name())
}

func (a *Archive) close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	if err := a.zw.Close(); err != nil {
		_ = a.f.Close()
		return fmt.Errorf("finalize archive: %w", err)
	}
	if err := a.f.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}
