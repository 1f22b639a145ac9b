package digest

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Length is the number of hex characters in a content digest.
const Length = 2 * sha1.Size

// ErrGzip marks a digest failure caused by malformed gzip framing rather
// than an unreadable stream.
var ErrGzip = errors.New("malformed gzip framing")

// Compute reads r to completion and returns the SHA-1 digest of its bytes
// as a lowercase hex string.
func Compute(r io.Reader) (string, error) {
	h := sha1.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("reading stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ComputeGz transparently gzip-decompresses r and returns the digest of the
// decompressed bytes. Archive entries are stored compressed but identified
// by the digest of their uncompressed content, so this is the variant used
// for everything already inside (or bound for) the store.
func ComputeGz(r io.Reader) (string, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGzip, err)
	}
	defer zr.Close()

	h := sha1.New()
	if _, err := io.Copy(h, zr); err != nil {
		if errors.Is(err, gzip.ErrHeader) || errors.Is(err, gzip.ErrChecksum) {
			return "", fmt.Errorf("%w: %v", ErrGzip, err)
		}
		return "", fmt.Errorf("reading stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Normalize lowercases a digest so it can be used interchangeably as a map
// key and as a path fragment.
func Normalize(s string) string {
	return strings.ToLower(s)
}

// Valid reports whether s is a well-formed digest: exactly Length lowercase
// hex characters.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
