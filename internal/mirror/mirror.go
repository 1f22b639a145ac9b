// Package mirror copies archived captures to an offsite remote, optionally
// encrypting them on the way out.
package mirror

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"wbm-go/internal/digest"
	"wbm-go/internal/store"
	"wbm-go/internal/wbm"
)

// Remote is an offsite object store holding mirrored capture entries.
type Remote interface {
	// Exists reports whether an object is already present under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Put uploads the object under key.
	Put(ctx context.Context, key string, r io.Reader) error

	// Get writes the object stored under key to w.
	Get(ctx context.Context, key string, w io.Writer) error
}

// Mirror pushes store entries to a remote. When an encryptor is set,
// uploads are encrypted and fetches need an unlocked decryption context.
type Mirror struct {
	store     *store.ValidStore
	remote    Remote
	encryptor wbm.Encryptor
	logger    wbm.Logger
}

// New creates a Mirror. encryptor may be nil for plaintext mirroring.
// A nil logger defaults to a NopLogger.
func New(s *store.ValidStore, remote Remote, encryptor wbm.Encryptor, logger wbm.Logger) *Mirror {
	if logger == nil {
		logger = wbm.NewNopLogger()
	}
	return &Mirror{store: s, remote: remote, encryptor: encryptor, logger: logger}
}

// remoteKey mirrors the store's shard layout so prefixes stay listable on
// the remote side. The digest must already be well-formed.
func remoteKey(d string) string {
	return d[:2] + "/" + d[2:]
}

// Sync uploads every store entry matching prefix that the remote does not
// have yet and returns the number of uploads. Entries the remote already
// holds are skipped, so a second sync over the same prefix uploads nothing.
func (m *Mirror) Sync(ctx context.Context, prefix string) (int, error) {
	uploaded := 0
	for entry := range m.store.PathsForPrefix(ctx, prefix) {
		if entry.Err != nil {
			m.logger.Error("skipping entry", "error", entry.Err)
			continue
		}

		key := remoteKey(entry.Digest)
		present, err := m.remote.Exists(ctx, key)
		if err != nil {
			return uploaded, fmt.Errorf("checking remote for %s: %w", entry.Digest, err)
		}
		if present {
			m.logger.Debug("already mirrored", "digest", entry.Digest)
			continue
		}

		if err := m.upload(ctx, key, entry.Path); err != nil {
			return uploaded, fmt.Errorf("uploading %s: %w", entry.Digest, err)
		}
		m.logger.Info("mirrored entry", "digest", entry.Digest)
		uploaded++
	}
	return uploaded, nil
}

func (m *Mirror) upload(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening entry: %w", err)
	}
	defer f.Close()

	if m.encryptor == nil {
		return m.remote.Put(ctx, key, f)
	}

	// The S3 uploader may retry and re-read its input, so the encrypted
	// form is buffered rather than streamed through a pipe.
	var buf bytes.Buffer
	if err := m.encryptor.Encrypt(f, &buf); err != nil {
		return fmt.Errorf("encrypting entry: %w", err)
	}
	return m.remote.Put(ctx, key, &buf)
}

// Fetch downloads the mirrored entry for the given digest and writes the
// stored bytes to w. For an encrypted mirror the caller supplies an unlocked
// decryption context; dec is ignored when the mirror is plaintext.
func (m *Mirror) Fetch(ctx context.Context, d string, dec wbm.DecryptionContext, w io.Writer) error {
	d = digest.Normalize(d)
	if !digest.Valid(d) {
		return fmt.Errorf("malformed digest: %q", d)
	}

	if m.encryptor == nil {
		return m.remote.Get(ctx, remoteKey(d), w)
	}
	if dec == nil {
		return fmt.Errorf("mirror is encrypted: decryption context required")
	}

	var buf bytes.Buffer
	if err := m.remote.Get(ctx, remoteKey(d), &buf); err != nil {
		return err
	}
	if err := dec.Decrypt(&buf, w); err != nil {
		return fmt.Errorf("decrypting mirrored entry %s: %w", d, err)
	}
	return nil
}
