package media

import (
	"bytes"
	"context"
)

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G'}
	jpegMagic = []byte{0xff, 0xd8, 0xff}
	gifMagic  = []byte("GIF8")
	riffMagic = []byte("RIFF")
	webpTag   = []byte("WEBP")
	ftypTag   = []byte("ftyp")
	silkMagic = []byte("#!SILK")
	amrMagic  = []byte("#!AMR")
	wxgfMagic = []byte("wxgf")
)

// Sniff determines the container type from magic bytes. Extensions declared
// by filenames or payload envelopes are never trusted; this is the only
// source of truth for the final extension.
func Sniff(data []byte) (ext string, ok bool) {
	switch {
	case bytes.HasPrefix(data, pngMagic):
		return "png", true
	case bytes.HasPrefix(data, jpegMagic):
		return "jpg", true
	case bytes.HasPrefix(data, gifMagic):
		return "gif", true
	case len(data) >= 12 && bytes.HasPrefix(data, riffMagic) && bytes.Equal(data[8:12], webpTag):
		return "webp", true
	case len(data) >= 12 && bytes.Equal(data[4:8], ftypTag):
		return "mp4", true
	case bytes.HasPrefix(data, silkMagic):
		return "silk", true
	case bytes.HasPrefix(data, amrMagic):
		return "amr", true
	}
	return "", false
}

// IsVendorImage reports whether data is the proprietary image container
// that needs the external codec before it can be used.
func IsVendorImage(data []byte) bool {
	return bytes.HasPrefix(data, wxgfMagic)
}

// stripWrapper drops a short vendor tag some generations leave before the
// real container, scanning a bounded window for a known magic. Already-clean
// data comes back unchanged.
func stripWrapper(data []byte) []byte {
	const maxOffset = 64
	limit := len(data)
	if limit > maxOffset {
		limit = maxOffset
	}
	for off := 0; off < limit; off++ {
		if _, ok := Sniff(data[off:]); ok {
			return data[off:]
		}
		if IsVendorImage(data[off:]) {
			return data[off:]
		}
	}
	return data
}

// Normalize finishes a decrypted payload: leading wrapper bytes are stripped
// and the vendor image container converted when a codec is available.
func Normalize(ctx context.Context, data []byte, codec *Codec) ([]byte, error) {
	data = stripWrapper(data)
	if IsVendorImage(data) {
		return codec.Convert(ctx, data)
	}
	return data, nil
}
