package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/chatarc/chatarc/internal/account"
)

// ErrNotFound means every resolution step came up empty for a reference.
var ErrNotFound = errors.New("media: not found")

// Resolution is a successfully located and decoded media item.
type Resolution struct {
	Data   []byte
	Ext    string
	Source string // originating path, for diagnostics
}

// Engine resolves media references for one account. It holds no per-job
// state; memoization of results belongs to the export layer. The decrypted
// write-through cache is shared across jobs and runs.
type Engine struct {
	acct     *account.Account
	keys     Keys
	codec    *Codec
	cacheDir string
	hardlink *HardlinkIndex
	resource *ResourceIndex
	logger   *zap.Logger
}

// NewEngine builds an engine over the account's side stores. Both indexes
// are optional: accounts missing them simply skip those steps.
func NewEngine(acct *account.Account, keys Keys, codec *Codec, cacheDir string, logger *zap.Logger) *Engine {
	e := &Engine{acct: acct, keys: keys, codec: codec, cacheDir: cacheDir, logger: logger}
	if idx, err := OpenHardlinkIndex(acct.HardlinkDBPath()); err != nil {
		logger.Debug("hardlink index unavailable", zap.Error(err))
	} else {
		e.hardlink = idx
	}
	if idx, err := OpenResourceIndex(acct.ResourceDBPath()); err != nil {
		logger.Debug("resource index unavailable", zap.Error(err))
	} else {
		e.resource = idx
	}
	return e
}

func (e *Engine) Close() error {
	var first error
	if e.hardlink != nil {
		first = e.hardlink.Close()
	}
	if e.resource != nil {
		if err := e.resource.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Resolve runs the resolution steps in order: decrypted cache, hardlink
// index, file-id search, hash search. The first step yielding usable bytes
// wins; steps the reference has no identity for are skipped.
func (e *Engine) Resolve(ctx context.Context, ref Ref) (*Resolution, error) {
	hash := NormalizeHash(ref.Hash)
	if hash == "" && e.resource != nil {
		hash = e.resource.HashFor(ref.Conversation, ref.Row)
	}

	if hash != "" {
		if res := e.fromCache(ref.Kind, hash); res != nil {
			return res, nil
		}
	}
	if hash != "" && e.hardlink != nil {
		if res := e.fromHardlink(ctx, ref.Kind, hash); res != nil {
			e.writeThrough(ref.Kind, hash, res)
			return res, nil
		}
	}
	if ref.FileID != "" {
		if res := e.fromFileID(ctx, ref); res != nil {
			e.writeThrough(ref.Kind, hash, res)
			return res, nil
		}
	}
	if hash != "" {
		if res := e.fromHashSearch(ctx, ref.Kind, ref.Conversation, hash); res != nil {
			e.writeThrough(ref.Kind, hash, res)
			return res, nil
		}
	}
	return nil, ErrNotFound
}

// cacheName is the cache entry base name for an identity. A video and its
// thumbnail share one identity but are different bytes, so the thumbnail
// rendition gets its own name.
func cacheName(kind Kind, hash string) string {
	if kind == KindVideoThumb {
		return hash + "_thumb"
	}
	return hash
}

// Step 1: the exporter's own decrypted cache, 2-hex sharded.
func (e *Engine) fromCache(kind Kind, hash string) *Resolution {
	if e.cacheDir == "" {
		return nil
	}
	matches, _ := filepath.Glob(filepath.Join(e.cacheDir, hash[:2], cacheName(kind, hash)+".*"))
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			continue
		}
		if ext, ok := Sniff(data); ok {
			return &Resolution{Data: data, Ext: ext, Source: m}
		}
	}
	return nil
}

// Step 2: the hardlink index, with month probing and filename variants.
func (e *Engine) fromHardlink(ctx context.Context, kind Kind, hash string) *Resolution {
	row, err := e.hardlink.Lookup(kind, hash)
	if err != nil {
		e.logger.Debug("hardlink lookup failed", zap.String("hash", hash), zap.Error(err))
		return nil
	}
	if row == nil {
		return nil
	}
	for _, path := range e.hardlinkCandidates(kind, row) {
		if res := e.loadFile(ctx, kind, path); res != nil {
			return res
		}
	}
	return nil
}

func (e *Engine) hardlinkCandidates(kind Kind, row *HardlinkRow) []string {
	months := monthsAround(row.ModifyTime)
	var out []string
	switch kind {
	case KindImage, KindEmoji:
		for _, m := range months {
			base := filepath.Join(e.acct.AttachRoot(), row.Dir1, m, "Img")
			out = append(out, filepath.Join(base, row.FileName))
			if row.Dir2 != "" {
				out = append(out, filepath.Join(base, row.Dir2, row.FileName))
			}
		}
	case KindVideo, KindVideoThumb:
		names := []string{row.FileName}
		if kind == KindVideoThumb {
			// Thumbnail variant first; the exact name may be the full video.
			names = []string{thumbName(row.FileName), row.FileName}
		}
		for _, m := range months {
			for _, n := range names {
				out = append(out, filepath.Join(e.acct.VideoRoot(), m, n))
			}
		}
	case KindFile:
		for _, m := range months {
			out = append(out, filepath.Join(e.acct.FileRoot(), m, row.FileName))
		}
	}
	return out
}

// Step 3: opaque-file-id search, scoped to the conversation's hashed attach
// directory before the kind roots.
func (e *Engine) fromFileID(ctx context.Context, ref Ref) *Resolution {
	id := globSafe(ref.FileID)
	if id == "" {
		return nil
	}
	var patterns []string
	if ref.Conversation != "" {
		conv := e.acct.ConvAttachDir(ref.Conversation)
		patterns = append(patterns,
			filepath.Join(conv, "*", id+"*"),
			filepath.Join(conv, "*", "*", id+"*"),
		)
	}
	switch ref.Kind {
	case KindVoice:
		patterns = append(patterns, filepath.Join(e.acct.VoiceRoot(), "*", id+"*"))
	case KindVideo, KindVideoThumb:
		patterns = append(patterns, filepath.Join(e.acct.VideoRoot(), "*", id+"*"))
	case KindFile:
		patterns = append(patterns, filepath.Join(e.acct.FileRoot(), "*", id+"*"))
	case KindImage, KindEmoji:
		patterns = append(patterns, filepath.Join(e.acct.AttachRoot(), "*", "*", "Img", id+"*"))
	}
	return e.firstMatch(ctx, ref.Kind, patterns)
}

// Step 4: hash search across the known roots, with a fast path for the
// sticker cache bucketed by the first two hash characters.
func (e *Engine) fromHashSearch(ctx context.Context, kind Kind, conv, hash string) *Resolution {
	if kind == KindEmoji {
		if res := e.loadFile(ctx, kind, filepath.Join(e.acct.EmoticonRoot(), hash[:2], hash)); res != nil {
			return res
		}
	}
	var patterns []string
	if conv != "" {
		convDir := e.acct.ConvAttachDir(conv)
		patterns = append(patterns,
			filepath.Join(convDir, "*", "Img", hash+"*"),
			filepath.Join(convDir, "*", hash+"*"),
		)
	}
	patterns = append(patterns,
		filepath.Join(e.acct.AttachRoot(), "*", "*", "Img", hash+"*"),
		filepath.Join(e.acct.VideoRoot(), "*", hash+"*"),
		filepath.Join(e.acct.FileRoot(), "*", hash+"*"),
		filepath.Join(e.acct.GenericCacheRoot(), hash+"*"),
		filepath.Join(e.acct.GenericCacheRoot(), hash[:2], hash+"*"),
	)
	return e.firstMatch(ctx, kind, patterns)
}

func (e *Engine) firstMatch(ctx context.Context, kind Kind, patterns []string) *Resolution {
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if res := e.loadFile(ctx, kind, m); res != nil {
				return res
			}
		}
	}
	return nil
}

// loadFile turns one candidate path into usable bytes: keyed containers are
// decrypted, wrappers stripped, vendor images converted, and the result must
// sniff as a known type. Document attachments are the exception: they have
// no magic to verify, so their stored extension is kept.
func (e *Engine) loadFile(ctx context.Context, kind Kind, path string) *Resolution {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return nil
	}

	if ext, ok := Sniff(data); ok {
		return &Resolution{Data: data, Ext: ext, Source: path}
	}

	switch DetectVersion(data) {
	case V1, V2:
		dec, err := DecryptDat(data, e.keys)
		if err != nil {
			e.logger.Debug("container decrypt failed", zap.String("path", path), zap.Error(err))
			return nil
		}
		data = dec
	default:
		if kind == KindFile {
			return &Resolution{Data: data, Ext: extFromName(path), Source: path}
		}
		dec, err := decryptV0(data, e.keys)
		if err != nil {
			return nil
		}
		data = dec
	}

	data, err = Normalize(ctx, data, e.codec)
	if err != nil {
		e.logger.Debug("vendor image conversion failed", zap.String("path", path), zap.Error(err))
		return nil
	}

	ext, ok := Sniff(data)
	if !ok {
		if kind == KindFile {
			return &Resolution{Data: data, Ext: extFromName(path), Source: path}
		}
		return nil
	}
	return &Resolution{Data: data, Ext: ext, Source: path}
}

// writeThrough primes the decrypted cache so later runs resolve at step 1.
func (e *Engine) writeThrough(kind Kind, hash string, res *Resolution) {
	if e.cacheDir == "" || hash == "" {
		return
	}
	dir := filepath.Join(e.cacheDir, hash[:2])
	if err := os.MkdirAll(dir, 0700); err != nil {
		return
	}
	path := filepath.Join(dir, cacheName(kind, hash)+"."+res.Ext)
	if _, err := os.Stat(path); err == nil {
		return
	}
	if err := os.WriteFile(path, res.Data, 0600); err != nil {
		e.logger.Debug("cache write failed", zap.String("path", path), zap.Error(err))
	}
}

// globSafe rejects identifiers that could escape their directory or splice
// glob syntax; payload-supplied ids are not trusted as patterns.
func globSafe(s string) string {
	if s == "" || strings.ContainsAny(s, `/\*?[]`) {
		return ""
	}
	return s
}

func extFromName(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" || ext == "dat" {
		return "bin"
	}
	return ext
}
