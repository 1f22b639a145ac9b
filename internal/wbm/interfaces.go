package wbm

import (
	"context"
	"io"

	"wbm-go/internal/model"
	"wbm-go/internal/store"
)

// ArchiveStore is the digest-addressed capture archive as the service
// layer sees it.
type ArchiveStore interface {
	// CheckFileLocation hashes a raw input and decides where it belongs.
	// A nil Location means identical content is already archived.
	CheckFileLocation(inputPath string) (*store.Location, error)

	// Add compresses the raw input into the given free location.
	Add(inputPath string, loc *store.Location) error

	// Extract returns the decompressed content stored for a digest.
	Extract(digest string) (content string, found bool, err error)

	// PathsForPrefix lazily yields every stored entry matching prefix.
	PathsForPrefix(ctx context.Context, prefix string) <-chan store.Entry

	// ComputeDigests recomputes content digests for every entry matching
	// prefix across up to parallelism workers.
	ComputeDigests(ctx context.Context, prefix string, parallelism int) <-chan store.DigestResult
}

// TweetStore indexes parsed tweet records against capture digests.
type TweetStore interface {
	// CheckDigest returns the file row id for a digest, or nil when the
	// capture has not been indexed.
	CheckDigest(digest string) (*int64, error)

	// AddTweets records a capture file and its tweets in one transaction.
	AddTweets(digest string, primaryTwitterID *int64, tweets []model.Tweet) error

	// GetTweets returns the longest stored revision for each status id.
	GetTweets(statusIDs []int64) ([]model.TweetCapture, error)

	// Close closes the backing connection.
	Close() error
}

// Encryptor encrypts offsite copies made by the mirror.
type Encryptor interface {
	// Setup generates and stores a new key pair protected by passphrase.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key with passphrase and returns a
	// context for decrypting data.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether key material is in place.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked identity for decrypting data.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
