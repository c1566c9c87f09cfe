package media

import (
	"bytes"
	"crypto/aes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Container signatures for the two keyed generations. A container carrying
// neither is the oldest generation: whole-buffer single-byte XOR.
var (
	sigV1 = []byte{0x07, 0x08, 'V', '1', 0x08, 0x07}
	sigV2 = []byte{0x07, 0x08, 'V', '2', 0x08, 0x07}
)

// Generation-1 containers use a fixed well-known AES key; generation 2 is
// keyed per account.
var v1Key = []byte("cfcd208495d565ef")

// Keyed-container header: 6 signature bytes, uint32le AES-region length,
// uint32le XOR-region length, one padding byte.
const headerLen = 15

var (
	ErrNoKey        = errors.New("media: no key configured")
	ErrBadContainer = errors.New("media: malformed container")
)

// Version is a legacy container generation.
type Version int

const (
	V0 Version = iota
	V1
	V2
)

// DetectVersion classifies container bytes by signature.
func DetectVersion(data []byte) Version {
	switch {
	case bytes.HasPrefix(data, sigV1):
		return V1
	case bytes.HasPrefix(data, sigV2):
		return V2
	default:
		return V0
	}
}

// Keys is the account's decryption material. XORKey applies to generation-0
// containers and the trailing region of keyed ones; AESKey (16 bytes) only
// to generation 2.
type Keys struct {
	XORKey byte
	HasXOR bool
	AESKey []byte
}

// DecryptDat decodes a legacy container. The output is verified by magic
// sniffing for generation 0, where a wrong key is otherwise undetectable.
func DecryptDat(data []byte, keys Keys) ([]byte, error) {
	switch DetectVersion(data) {
	case V1:
		return decryptKeyed(data, v1Key, keys)
	case V2:
		if len(keys.AESKey) != 16 {
			return nil, fmt.Errorf("%w: generation-2 container needs a 16-byte AES key", ErrNoKey)
		}
		return decryptKeyed(data, keys.AESKey, keys)
	default:
		return decryptV0(data, keys)
	}
}

func decryptV0(data []byte, keys Keys) ([]byte, error) {
	if keys.HasXOR {
		out := xorBytes(data, keys.XORKey)
		if _, ok := Sniff(out); ok {
			return out, nil
		}
	}
	if key, ok := RecoverXORKey(data); ok {
		return xorBytes(data, key), nil
	}
	return nil, fmt.Errorf("%w: no xor key reveals a known container", ErrNoKey)
}

// Keyed layout after the header: an AES-ECB region (PKCS7 padded, its
// plaintext length declared in the header), a raw passthrough region, and an
// XOR-masked tail of the declared length.
func decryptKeyed(data, aesKey []byte, keys Keys) ([]byte, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("%w: short header", ErrBadContainer)
	}
	aesLen := int(binary.LittleEndian.Uint32(data[6:10]))
	xorLen := int(binary.LittleEndian.Uint32(data[10:14]))
	body := data[headerLen:]

	cipherLen := (aesLen/16 + 1) * 16
	if aesLen < 0 || xorLen < 0 || cipherLen > len(body) || xorLen > len(body)-cipherLen {
		return nil, fmt.Errorf("%w: declared lengths exceed body", ErrBadContainer)
	}

	head, err := aesECBDecrypt(body[:cipherLen], aesKey)
	if err != nil {
		return nil, err
	}
	head, err = pkcs7Unpad(head, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadContainer, err)
	}

	rest := body[cipherLen:]
	raw := rest[:len(rest)-xorLen]
	tail := rest[len(rest)-xorLen:]

	out := make([]byte, 0, len(head)+len(raw)+len(tail))
	out = append(out, head...)
	out = append(out, raw...)
	if xorLen > 0 {
		if !keys.HasXOR {
			return nil, fmt.Errorf("%w: container has an xor tail", ErrNoKey)
		}
		out = append(out, xorBytes(tail, keys.XORKey)...)
	}
	return out, nil
}

// EncryptDat is the inverse of DecryptDat, used by fixture tooling and
// tests. The first aesLen bytes of plain are AES encrypted and the last
// xorLen bytes XOR masked; the rest passes through raw.
func EncryptDat(plain []byte, version Version, keys Keys, aesLen, xorLen int) ([]byte, error) {
	var key, sig []byte
	switch version {
	case V0:
		if !keys.HasXOR {
			return nil, ErrNoKey
		}
		return xorBytes(plain, keys.XORKey), nil
	case V1:
		key, sig = v1Key, sigV1
	case V2:
		key, sig = keys.AESKey, sigV2
	}
	if len(key) != 16 {
		return nil, fmt.Errorf("%w: need a 16-byte AES key", ErrNoKey)
	}
	if aesLen > len(plain) {
		aesLen = len(plain)
	}
	if xorLen > len(plain)-aesLen {
		xorLen = len(plain) - aesLen
	}
	if xorLen > 0 && !keys.HasXOR {
		return nil, fmt.Errorf("%w: xor tail requested without key", ErrNoKey)
	}

	enc, err := aesECBEncrypt(pkcs7Pad(plain[:aesLen], aes.BlockSize), key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, headerLen+len(enc)+len(plain)-aesLen)
	out = append(out, sig...)
	out = binary.LittleEndian.AppendUint32(out, uint32(aesLen))
	out = binary.LittleEndian.AppendUint32(out, uint32(xorLen))
	out = append(out, 0)
	out = append(out, enc...)
	out = append(out, plain[aesLen:len(plain)-xorLen]...)
	if xorLen > 0 {
		out = append(out, xorBytes(plain[len(plain)-xorLen:], keys.XORKey)...)
	}
	return out, nil
}

// DefaultPreviewLen bounds the brute-force window. Magic checks only need
// the first bytes; the rest is slack for wrapper offsets.
const DefaultPreviewLen = 64

// RecoverXORKey scans all 256 single-byte keys against a bounded preview,
// accepting a key only if it reveals a known container magic. Deterministic
// and bounded: 256 trials over at most DefaultPreviewLen bytes.
func RecoverXORKey(data []byte) (byte, bool) {
	preview := data
	if len(preview) > DefaultPreviewLen {
		preview = preview[:DefaultPreviewLen]
	}
	buf := make([]byte, len(preview))
	for k := 0; k < 256; k++ {
		for i, b := range preview {
			buf[i] = b ^ byte(k)
		}
		if _, ok := Sniff(buf); ok {
			return byte(k), true
		}
	}
	return 0, false
}

func xorBytes(data []byte, key byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key
	}
	return out
}

// The standard library has no ECB mode, so the block loop is spelled out.
func aesECBDecrypt(data, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("%w: cipher region not block aligned", ErrBadContainer)
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += block.BlockSize() {
		block.Decrypt(out[i:], data[i:])
	}
	return out, nil
}

func aesECBEncrypt(data, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%block.BlockSize() != 0 {
		return nil, errors.New("media: plaintext not block aligned")
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += block.BlockSize() {
		block.Encrypt(out[i:], data[i:])
	}
	return out, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("bad padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errors.New("bad padding byte")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("inconsistent padding")
		}
	}
	return data[:len(data)-n], nil
}
