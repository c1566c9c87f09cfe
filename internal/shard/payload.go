package shard

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Payload compression is declared only by the frame magic, never by a column.
var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

var zstdDecoder *zstd.Decoder

func init() {
	zstdDecoder, _ = zstd.NewReader(nil)
}

// decodePayload returns the payload text for a raw message_content value.
// Newer format generations store a zstd frame, older ones an lz4 frame,
// the oldest plain text. A corrupt frame yields "" so the decoder falls
// back to a generic label instead of failing the row.
func decodePayload(raw []byte) string {
	switch {
	case bytes.HasPrefix(raw, zstdMagic):
		if zstdDecoder == nil {
			return ""
		}
		out, err := zstdDecoder.DecodeAll(raw, nil)
		if err != nil {
			return ""
		}
		return string(out)
	case bytes.HasPrefix(raw, lz4Magic):
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(raw)))
		if err != nil {
			return ""
		}
		return string(out)
	default:
		return string(raw)
	}
}
