package media

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/chatarc/chatarc/internal/account"
)

var (
	testMP4 = append([]byte("\x00\x00\x00\x20ftypisom"), bytes.Repeat([]byte{0x11}, 32)...)
	testGIF = append([]byte("GIF89a"), bytes.Repeat([]byte{0x22}, 32)...)
)

func writeBlob(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func writeResourceDB(t *testing.T, path, conv string, key RowKey, hash string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE resource_index (conversation TEXT,
		type INTEGER, server_id INTEGER, local_id INTEGER,
		create_time INTEGER, md5 TEXT)`); err != nil {
		t.Fatalf("create resource_index: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO resource_index VALUES (?, ?, ?, ?, ?, ?)`,
		conv, key.Type, key.ServerID, key.LocalID, key.CreateTime, hash); err != nil {
		t.Fatalf("insert resource row: %v", err)
	}
}

// newTestEngine opens an account over root (created if needed) with a fresh
// decrypted-cache directory.
func newTestEngine(t *testing.T, root string, keys Keys) (*Engine, string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(root, "db"), 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	acct, err := account.Open(root, "me")
	if err != nil {
		t.Fatalf("open account: %v", err)
	}
	cacheDir := filepath.Join(t.TempDir(), "decrypted")
	e := NewEngine(acct, keys, nil, cacheDir, zap.NewNop())
	t.Cleanup(func() { _ = e.Close() })
	return e, cacheDir
}

func TestResolveFromCache(t *testing.T) {
	const hash = "0123456789abcdef0123456789abcdef"
	root := filepath.Join(t.TempDir(), "acct")
	e, cache := newTestEngine(t, root, Keys{})
	writeBlob(t, filepath.Join(cache, hash[:2], hash+".png"), testPNG)

	res, err := e.Resolve(context.Background(), Ref{Kind: KindImage, Hash: hash})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Ext != "png" || !bytes.Equal(res.Data, testPNG) {
		t.Errorf("got ext %q, %d bytes", res.Ext, len(res.Data))
	}
}

func TestResolveFromHardlink(t *testing.T) {
	const hash = "11112222333344445555666677778888"
	keys := Keys{XORKey: 0x5a, HasXOR: true}
	root := filepath.Join(t.TempDir(), "acct")
	if err := os.MkdirAll(filepath.Join(root, "db"), 0700); err != nil {
		t.Fatal(err)
	}
	writeHardlinkDB(t, filepath.Join(root, "db", "hardlink.db"), []string{"convdir"},
		map[string][]hlRow{
			"image_hardlink_info_v3": {
				{md5: hash, fileName: "pic1.dat", dir1: 1, modifyTime: 1684108800},
			},
		})
	enc, err := EncryptDat(testJPEG, V0, keys, 0, 0)
	if err != nil {
		t.Fatalf("EncryptDat: %v", err)
	}
	datPath := filepath.Join(root, "msg", "attach", "convdir", "2023-05", "Img", "pic1.dat")
	writeBlob(t, datPath, enc)

	e, cache := newTestEngine(t, root, keys)
	res, err := e.Resolve(context.Background(), Ref{Kind: KindImage, Hash: hash})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Ext != "jpg" || !bytes.Equal(res.Data, testJPEG) {
		t.Fatalf("got ext %q, %d bytes", res.Ext, len(res.Data))
	}

	cached := filepath.Join(cache, hash[:2], hash+".jpg")
	if _, err := os.Stat(cached); err != nil {
		t.Errorf("write-through cache entry missing: %v", err)
	}

	// The cache copy must satisfy later runs on its own.
	if err := os.Remove(datPath); err != nil {
		t.Fatal(err)
	}
	res, err = e.Resolve(context.Background(), Ref{Kind: KindImage, Hash: hash})
	if err != nil {
		t.Fatalf("Resolve after source removed: %v", err)
	}
	if res.Source != cached {
		t.Errorf("source = %q, want cache path %q", res.Source, cached)
	}
}

func TestResolveHardlinkAdjacentMonth(t *testing.T) {
	const hash = "99990000aaaa1111bbbb2222cccc3333"
	root := filepath.Join(t.TempDir(), "acct")
	if err := os.MkdirAll(filepath.Join(root, "db"), 0700); err != nil {
		t.Fatal(err)
	}
	// Indexed mid May, stored under the June folder.
	writeHardlinkDB(t, filepath.Join(root, "db", "hardlink.db"), []string{"convdir"},
		map[string][]hlRow{
			"image_hardlink_info_v3": {
				{md5: hash, fileName: "late.dat", dir1: 1, modifyTime: 1684108800},
			},
		})
	writeBlob(t, filepath.Join(root, "msg", "attach", "convdir", "2023-06", "Img", "late.dat"), testPNG)

	e, _ := newTestEngine(t, root, Keys{})
	res, err := e.Resolve(context.Background(), Ref{Kind: KindImage, Hash: hash})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Ext != "png" {
		t.Errorf("ext = %q", res.Ext)
	}
}

func TestResolveThumbVariant(t *testing.T) {
	const hash = "deadbeefdeadbeefdeadbeefdeadbeef"
	root := filepath.Join(t.TempDir(), "acct")
	if err := os.MkdirAll(filepath.Join(root, "db"), 0700); err != nil {
		t.Fatal(err)
	}
	writeHardlinkDB(t, filepath.Join(root, "db", "hardlink.db"), nil,
		map[string][]hlRow{
			"video_hardlink_info_v2": {
				{md5: hash, fileName: "vid1.mp4", modifyTime: 1684108800},
			},
		})
	writeBlob(t, filepath.Join(root, "msg", "video", "2023-05", "vid1.mp4"), testMP4)
	writeBlob(t, filepath.Join(root, "msg", "video", "2023-05", "vid1_thumb.jpg"), testJPEG)

	e, _ := newTestEngine(t, root, Keys{})

	res, err := e.Resolve(context.Background(), Ref{Kind: KindVideoThumb, Hash: hash})
	if err != nil {
		t.Fatalf("Resolve thumb: %v", err)
	}
	if res.Ext != "jpg" || filepath.Base(res.Source) != "vid1_thumb.jpg" {
		t.Errorf("thumb resolved to %q (%s)", res.Source, res.Ext)
	}

	res, err = e.Resolve(context.Background(), Ref{Kind: KindVideo, Hash: hash})
	if err != nil {
		t.Fatalf("Resolve video: %v", err)
	}
	if res.Ext != "mp4" || filepath.Base(res.Source) != "vid1.mp4" {
		t.Errorf("video resolved to %q (%s)", res.Source, res.Ext)
	}
}

func TestResolveByFileID(t *testing.T) {
	root := filepath.Join(t.TempDir(), "acct")
	writeBlob(t, filepath.Join(root, "msg", "voice", "2023-11", "cmid42.silk"),
		append([]byte("#!SILK_V3"), bytes.Repeat([]byte{0x33}, 16)...))
	e, _ := newTestEngine(t, root, Keys{})

	res, err := e.Resolve(context.Background(), Ref{Kind: KindVoice, FileID: "cmid42"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Ext != "silk" {
		t.Errorf("ext = %q", res.Ext)
	}

	t.Run("unsafe id rejected", func(t *testing.T) {
		_, err := e.Resolve(context.Background(), Ref{Kind: KindVoice, FileID: "../cmid42"})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestResolveEmojiHashBucket(t *testing.T) {
	const hash = "feedfacefeedfacefeedfacefeedface"
	root := filepath.Join(t.TempDir(), "acct")
	writeBlob(t, filepath.Join(root, "emoticon", hash[:2], hash), testGIF)

	e, _ := newTestEngine(t, root, Keys{})
	res, err := e.Resolve(context.Background(), Ref{Kind: KindEmoji, Hash: hash})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Ext != "gif" {
		t.Errorf("ext = %q", res.Ext)
	}
}

func TestResolveFileKeepsExtension(t *testing.T) {
	root := filepath.Join(t.TempDir(), "acct")
	doc := []byte("%PDF-1.4\nnot a sniffable container")
	writeBlob(t, filepath.Join(root, "msg", "file", "2023-07", "report.pdf"), doc)

	e, _ := newTestEngine(t, root, Keys{})
	res, err := e.Resolve(context.Background(), Ref{Kind: KindFile, FileID: "report"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Ext != "pdf" || !bytes.Equal(res.Data, doc) {
		t.Errorf("got ext %q, %d bytes", res.Ext, len(res.Data))
	}
}

func TestResolveResourceIndexFallback(t *testing.T) {
	const hash = "0a0b0c0d0e0f10111213141516171819"
	key := RowKey{Type: 3, ServerID: 77, LocalID: 5, CreateTime: 1700000000}
	root := filepath.Join(t.TempDir(), "acct")
	if err := os.MkdirAll(filepath.Join(root, "db"), 0700); err != nil {
		t.Fatal(err)
	}
	writeResourceDB(t, filepath.Join(root, "db", "resource.db"), "bob@chat", key, hash)
	writeBlob(t, filepath.Join(root, "cache", hash), testPNG)

	e, _ := newTestEngine(t, root, Keys{})
	ref := Ref{Kind: KindImage, Conversation: "bob@chat", Row: key}
	res, err := e.Resolve(context.Background(), ref)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Ext != "png" {
		t.Errorf("ext = %q", res.Ext)
	}

	// A different row key must not borrow the mapping.
	ref.Row.LocalID = 6
	if _, err := e.Resolve(context.Background(), ref); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestResolveMissing(t *testing.T) {
	root := filepath.Join(t.TempDir(), "acct")
	e, _ := newTestEngine(t, root, Keys{})

	_, err := e.Resolve(context.Background(), Ref{Kind: KindImage, Hash: "cafebabecafebabecafebabecafebabe"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	// No identity at all resolves nothing rather than erroring differently.
	_, err = e.Resolve(context.Background(), Ref{Kind: KindImage})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
