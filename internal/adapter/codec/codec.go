// Package codec implements the team broadcast cipher: zlib compression,
// base64, a repeating-key XOR over the base64 text and a hex envelope.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"io"
	"unicode/utf8"

	"github.com/klauspost/compress/zlib"

	"zappy-ai/internal/domain"
)

// maxPlaintext bounds inflation of hostile tokens.
const maxPlaintext = 64 * 1024

// Encode turns plaintext into a hex token readable only with key.
func Encode(plaintext, key string) (string, error) {
	if key == "" {
		return "", domain.NewDomainError("codec.Encode", domain.ErrInvalidInput, "empty key")
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write([]byte(plaintext)); err != nil {
		return "", domain.WrapOp("codec.Encode", err)
	}
	if err := zw.Close(); err != nil {
		return "", domain.WrapOp("codec.Encode", err)
	}

	b64 := base64.StdEncoding.EncodeToString(buf.Bytes())
	mixed, ok := xorRunes(b64, []rune(key))
	if !ok {
		return "", domain.NewDomainError("codec.Encode", domain.ErrInvalidInput, "key yields unencodable characters")
	}
	return hex.EncodeToString([]byte(mixed)), nil
}

// Decode reverses Encode. Any malformed or foreign token yields ok=false.
func Decode(token, key string) (string, bool) {
	if key == "" || token == "" {
		return "", false
	}
	raw, err := hex.DecodeString(token)
	if err != nil || !utf8.Valid(raw) {
		return "", false
	}

	mixed, ok := xorRunes(string(raw), []rune(key))
	if !ok {
		return "", false
	}
	for i := 0; i < len(mixed); i++ {
		if mixed[i] >= utf8.RuneSelf {
			return "", false
		}
	}

	compressed, err := base64.StdEncoding.DecodeString(mixed)
	if err != nil {
		return "", false
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return "", false
	}
	defer zr.Close()

	plain, err := io.ReadAll(io.LimitReader(zr, maxPlaintext+1))
	if err != nil || len(plain) > maxPlaintext || !utf8.Valid(plain) {
		return "", false
	}
	return string(plain), true
}

// xorRunes XORs each rune of s with the key rune at the same position,
// cycling the key. It fails when a result is not a valid code point.
func xorRunes(s string, key []rune) (string, bool) {
	out := make([]rune, 0, len(s))
	i := 0
	for _, r := range s {
		x := r ^ key[i%len(key)]
		if !utf8.ValidRune(x) {
			return "", false
		}
		out = append(out, x)
		i++
	}
	return string(out), true
}
