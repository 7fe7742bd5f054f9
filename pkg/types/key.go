package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/objectfs/imageloader/pkg/errors"
)

// RequestKey is the canonical identity of an image across every cache tier.
// It is also a valid file name.
type RequestKey string

// MaxEncodedKeyLength bounds the length of a key so it fits in a file name.
const MaxEncodedKeyLength = 200

const (
	hashedKeyPrefix = "~"
	upperhex        = "0123456789ABCDEF"
)

// KeyFromURL derives the RequestKey for rawURL.
//
// Every byte outside [A-Za-z0-9_-] is percent-encoded, so distinct URLs give
// distinct keys and no key contains a path separator or a dot. Encodings
// longer than MaxEncodedKeyLength are replaced by "~" followed by the SHA-256
// of the URL; "~" never appears in an encoded key, so the two forms cannot meet.
func KeyFromURL(rawURL string) (RequestKey, error) {
	if rawURL == "" {
		return "", errors.NewError(errors.ErrCodeInvalidKey, "empty url").
			WithComponent("types").
			WithOperation("key")
	}

	encoded := encodeKeyComponent(rawURL)
	if len(encoded) > MaxEncodedKeyLength {
		sum := sha256.Sum256([]byte(rawURL))
		return RequestKey(hashedKeyPrefix + hex.EncodeToString(sum[:])), nil
	}
	return RequestKey(encoded), nil
}

// String returns the key as a plain string.
func (k RequestKey) String() string {
	return string(k)
}

// Hashed reports whether the key is the digest form of a long URL.
func (k RequestKey) Hashed() bool {
	return strings.HasPrefix(string(k), hashedKeyPrefix)
}

func encodeKeyComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if shouldKeep(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0x0F])
	}
	return b.String()
}

func shouldKeep(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	}
	return false
}
