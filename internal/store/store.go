package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"

	"wbm-go/internal/digest"
)

// shardWidth is the number of leading digest characters used as the shard
// subdirectory name. Two hex characters bound the fan-out to 256
// subdirectories.
const shardWidth = 2

// ValidStore is a digest-addressed archive of gzip-compressed captures.
//
// Each entry lives at <root>/<digest[:2]>/<digest[2:]> and holds gzip
// bytes whose decompressed content hashes to the digest encoded by the
// path. The filesystem is the source of truth: no index is kept, and every
// operation re-derives paths from digests or re-walks the tree.
type ValidStore struct {
	root string
}

// Create establishes the sharded layout at root. An empty or
// already-initialized root is accepted (the operation is idempotent); a
// root holding anything else is rejected rather than adopted.
func Create(root string) (*ValidStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading store root: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || !validShard(entry.Name()) {
			return nil, fmt.Errorf("root %s holds a non-store entry: %s", root, entry.Name())
		}
	}

	for i := 0; i < 1<<(4*shardWidth); i++ {
		shard := fmt.Sprintf("%0*x", shardWidth, i)
		if err := os.Mkdir(filepath.Join(root, shard), 0755); err != nil && !os.IsExist(err) {
			return nil, fmt.Errorf("creating shard %s: %w", shard, err)
		}
	}

	return &ValidStore{root: root}, nil
}

// Open binds to an existing root without validating its contents.
// Validation is a separate, explicit operation (ComputeDigests).
func Open(root string) *ValidStore {
	return &ValidStore{root: root}
}

// Root returns the store's root directory.
func (s *ValidStore) Root() string {
	return s.root
}

// EntryPath returns the sharded path for a well-formed digest.
func (s *ValidStore) EntryPath(d string) string {
	d = digest.Normalize(d)
	return filepath.Join(s.root, d[:shardWidth], d[shardWidth:])
}

// validShard reports whether name is a shard directory name: shardWidth
// lowercase hex characters.
func validShard(name string) bool {
	if len(name) != shardWidth {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Extract returns the decompressed text content stored for the given
// digest. found is false when no entry exists, which is a normal miss, not
// an error.
func (s *ValidStore) Extract(d string) (content string, found bool, err error) {
	d = digest.Normalize(d)
	if !digest.Valid(d) {
		return "", false, fmt.Errorf("malformed digest: %q", d)
	}

	f, err := os.Open(s.EntryPath(d))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("opening entry %s: %w", d, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return "", true, fmt.Errorf("%w: %v", digest.ErrGzip, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return "", true, fmt.Errorf("decompressing entry %s: %w", d, err)
	}
	if !utf8.Valid(data) {
		return "", true, fmt.Errorf("entry %s is not valid UTF-8", d)
	}
	return string(data), true, nil
}

// Entry is one item yielded by PathsForPrefix. Err is set when a directory
// could not be read or a leaf does not form a valid digest; the walk
// continues past it.
type Entry struct {
	Digest string
	Path   string
	Err    error
}

// PathsForPrefix walks the store and lazily yields every entry whose digest
// starts with prefix (an empty prefix yields everything). The sequence is
// finite and non-restartable; cancel ctx to abandon it early.
func (s *ValidStore) PathsForPrefix(ctx context.Context, prefix string) <-chan Entry {
	out := make(chan Entry)

	go func() {
		defer close(out)
		prefix := digest.Normalize(prefix)

		for _, shard := range shardsForPrefix(prefix) {
			names, err := os.ReadDir(filepath.Join(s.root, shard))
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				if !send(ctx, out, Entry{Err: fmt.Errorf("reading shard %s: %w", shard, err)}) {
					return
				}
				continue
			}

			for _, ent := range names {
				if ent.IsDir() || strings.HasPrefix(ent.Name(), ".") {
					continue
				}
				d := shard + ent.Name()
				if !digest.Valid(d) {
					if !send(ctx, out, Entry{Err: fmt.Errorf("entry name does not form a digest: %s/%s", shard, ent.Name())}) {
						return
					}
					continue
				}
				if !strings.HasPrefix(d, prefix) {
					continue
				}
				if !send(ctx, out, Entry{Digest: d, Path: filepath.Join(s.root, shard, ent.Name())}) {
					return
				}
			}
		}
	}()

	return out
}

// shardsForPrefix returns the shard directory names a prefix can fall into,
// in order.
func shardsForPrefix(prefix string) []string {
	if len(prefix) >= shardWidth {
		shard := prefix[:shardWidth]
		if !validShard(shard) {
			return nil
		}
		return []string{shard}
	}

	var shards []string
	for i := 0; i < 1<<(4*shardWidth); i++ {
		shard := fmt.Sprintf("%0*x", shardWidth, i)
		if strings.HasPrefix(shard, prefix) {
			shards = append(shards, shard)
		}
	}
	return shards
}

func send(ctx context.Context, out chan<- Entry, e Entry) bool {
	select {
	case out <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

// DigestResult pairs the digest implied by an entry's path with the digest
// recomputed from its decompressed content. Err is set when the entry could
// not be read or decompressed (a broken entry); Expected != Actual signals
// silent corruption. Classification is left to the caller.
type DigestResult struct {
	Expected string
	Actual   string
	Err      error
}

// ComputeDigests re-verifies every entry matching prefix, distributing the
// read-decompress-hash work across up to parallelism workers. Results are
// emitted as they complete, so ordering does not follow directory order.
// The operation is read-only; cancel ctx to stop it at any point.
func (s *ValidStore) ComputeDigests(ctx context.Context, prefix string, parallelism int) <-chan DigestResult {
	if parallelism < 1 {
		parallelism = 1
	}

	paths := s.PathsForPrefix(ctx, prefix)
	out := make(chan DigestResult)

	var wg sync.WaitGroup
	for i := 0; i < parallelism; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range paths {
				var result DigestResult
				if entry.Err != nil {
					result = DigestResult{Err: entry.Err}
				} else {
					result = verifyEntry(entry)
				}
				select {
				case out <- result:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

func verifyEntry(entry Entry) DigestResult {
	f, err := os.Open(entry.Path)
	if err != nil {
		return DigestResult{Err: fmt.Errorf("opening %s: %w", entry.Path, err)}
	}
	defer f.Close()

	actual, err := digest.ComputeGz(f)
	if err != nil {
		return DigestResult{Err: fmt.Errorf("hashing %s: %w", entry.Path, err)}
	}
	return DigestResult{Expected: entry.Digest, Actual: actual}
}

// MismatchError reports a candidate input whose filename claims one digest
// while its bytes hash to another. This flags corruption in an input before
// it ever enters the store.
type MismatchError struct {
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("digest mismatch: expected %s, actual %s", e.Expected, e.Actual)
}

// Location is a free slot for a new entry, as decided by
// CheckFileLocation.
type Location struct {
	Digest string
	Path   string
}

// CheckFileLocation hashes the raw file at inputPath and derives its target
// slot in the store. It performs no filesystem mutation.
//
// A nil Location with a nil error means an identical entry is already
// present and the caller should skip copying. When the input's filename
// stem is itself a well-formed digest that disagrees with the computed one,
// the input is flagged via *MismatchError.
func (s *ValidStore) CheckFileLocation(inputPath string) (*Location, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	defer f.Close()

	actual, err := digest.Compute(f)
	if err != nil {
		return nil, fmt.Errorf("hashing input: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	if claimed := digest.Normalize(stem); digest.Valid(claimed) && claimed != actual {
		return nil, &MismatchError{Expected: claimed, Actual: actual}
	}

	target := s.EntryPath(actual)
	if _, err := os.Stat(target); err == nil {
		return nil, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("checking target slot: %w", err)
	}

	return &Location{Digest: actual, Path: target}, nil
}

// Add compresses the raw file at inputPath into the given location. The
// write goes through a temp file in the shard directory and an atomic
// rename, so a crash never leaves partial bytes at a valid entry path.
func (s *ValidStore) Add(inputPath string, loc *Location) error {
	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer in.Close()

	dir := filepath.Dir(loc.Path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	zw := gzip.NewWriter(tmp)
	if _, err := io.Copy(zw, in); err != nil {
		tmp.Close()
		return fmt.Errorf("compressing input: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("finalizing gzip stream: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, loc.Path); err != nil {
		return fmt.Errorf("moving entry into place: %w", err)
	}

	success = true
	return nil
}
