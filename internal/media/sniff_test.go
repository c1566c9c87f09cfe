package media

import (
	"bytes"
	"testing"
)

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		ext  string
		ok   bool
	}{
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, "png", true},
		{"jpeg", []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}, "jpg", true},
		{"gif", []byte("GIF89a......"), "gif", true},
		{"webp", append([]byte("RIFF\x24\x00\x00\x00"), []byte("WEBPVP8 ")...), "webp", true},
		{"mp4", []byte("\x00\x00\x00\x20ftypisom...."), "mp4", true},
		{"silk", []byte("#!SILK_V3..."), "silk", true},
		{"amr", []byte("#!AMR\n...."), "amr", true},
		{"riff without webp", []byte("RIFF\x24\x00\x00\x00WAVEfmt "), "", false},
		{"empty", nil, "", false},
		{"garbage", []byte("hello world, nothing here"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, ok := Sniff(tt.data)
			if ext != tt.ext || ok != tt.ok {
				t.Errorf("Sniff() = (%q, %v), want (%q, %v)", ext, ok, tt.ext, tt.ok)
			}
		})
	}
}

func TestStripWrapper(t *testing.T) {
	t.Run("clean data unchanged", func(t *testing.T) {
		if got := stripWrapper(testJPEG); !bytes.Equal(got, testJPEG) {
			t.Error("clean data should pass through")
		}
	})

	t.Run("leading tag stripped", func(t *testing.T) {
		wrapped := append([]byte{0x01, 0x02, 0x03, 0x04}, testJPEG...)
		got := stripWrapper(wrapped)
		if !bytes.Equal(got, testJPEG) {
			t.Errorf("wrapper not stripped: % x", got[:8])
		}
	})

	t.Run("vendor container kept for codec", func(t *testing.T) {
		data := append([]byte("wxgf"), []byte("vendor-bits")...)
		if got := stripWrapper(data); !bytes.Equal(got, data) {
			t.Error("vendor container should survive for conversion")
		}
	})

	t.Run("unrecognized stays put", func(t *testing.T) {
		data := []byte("no magic anywhere in this buffer")
		if got := stripWrapper(data); !bytes.Equal(got, data) {
			t.Error("unrecognized data should pass through")
		}
	})
}

func TestNormalizeHash(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0E6A92D8C9BE89FFE655D8CF1AFCD3C0", "0e6a92d8c9be89ffe655d8cf1afcd3c0"},
		{" abcdefabcdefabcdefabcdefabcdefab ", "abcdefabcdefabcdefabcdefabcdefab"},
		{"short", ""},
		{"zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeHash(tt.in); got != tt.want {
			t.Errorf("NormalizeHash(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
