package wbm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"wbm-go/internal/digest"
	"wbm-go/internal/model"
	"wbm-go/internal/store"
)

// Service coordinates the archive store and the tweet index for the
// high-level operations the CLI exposes. The two stores are correlated
// only through the digest value passed between them.
type Service struct {
	store  ArchiveStore
	tweets TweetStore
	logger Logger
}

// NewService creates a Service with the provided dependencies.
func NewService(archive ArchiveStore, tweets TweetStore, logger Logger) *Service {
	return &Service{
		store:  archive,
		tweets: tweets,
		logger: logger,
	}
}

// VerifyReport aggregates a digest audit: entries whose recomputed digest
// matched (valid), disagreed (invalid), or could not be read at all
// (broken).
type VerifyReport struct {
	Valid   int
	Invalid int
	Broken  int
}

// VerifyStore recomputes digests for every entry matching prefix and
// classifies the results. Mismatches and broken entries are logged as they
// arrive; the audit runs to completion unless ctx is cancelled.
func (s *Service) VerifyStore(ctx context.Context, prefix string, parallelism int) (VerifyReport, error) {
	var report VerifyReport

	for result := range s.store.ComputeDigests(ctx, prefix, parallelism) {
		switch {
		case result.Err != nil:
			s.logger.Error("broken entry", "error", result.Err)
			report.Broken++
		case result.Expected != result.Actual:
			s.logger.Error("invalid digest", "expected", result.Expected, "actual", result.Actual)
			report.Invalid++
		default:
			report.Valid++
		}
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}

	s.logger.Info("digest audit complete",
		"valid", report.Valid, "invalid", report.Invalid, "broken", report.Broken)
	return report, nil
}

// IngestFile archives the capture at inputPath and indexes its tweet
// records under the capture's digest. Both halves are dedup-aware: an
// already-archived capture is not copied again, and an already-indexed
// digest is not re-inserted. Returns the capture's digest.
func (s *Service) IngestFile(inputPath string, primaryTwitterID *int64, tweets []model.Tweet) (string, error) {
	loc, err := s.store.CheckFileLocation(inputPath)
	if err != nil {
		return "", fmt.Errorf("checking input: %w", err)
	}

	var d string
	if loc == nil {
		// Already archived; recover the digest for indexing.
		f, err := os.Open(inputPath)
		if err != nil {
			return "", fmt.Errorf("opening input: %w", err)
		}
		d, err = digest.Compute(f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("hashing input: %w", err)
		}
		s.logger.Warn("capture already archived", "digest", d, "input", inputPath)
	} else {
		if err := s.store.Add(inputPath, loc); err != nil {
			return "", fmt.Errorf("archiving capture: %w", err)
		}
		d = loc.Digest
		s.logger.Info("capture archived", "digest", d, "path", loc.Path)
	}

	if len(tweets) == 0 {
		return d, nil
	}

	existing, err := s.tweets.CheckDigest(d)
	if err != nil {
		return d, fmt.Errorf("checking index for digest: %w", err)
	}
	if existing != nil {
		s.logger.Info("capture already indexed", "digest", d, "file_id", *existing)
		return d, nil
	}

	if err := s.tweets.AddTweets(d, primaryTwitterID, tweets); err != nil {
		return d, fmt.Errorf("indexing tweets: %w", err)
	}
	s.logger.Info("tweets indexed", "digest", d, "count", len(tweets))
	return d, nil
}

// GetTweets returns the longest stored revision of each requested status
// id, paired with the digest of the capture it came from.
func (s *Service) GetTweets(statusIDs []int64) ([]model.TweetCapture, error) {
	return s.tweets.GetTweets(statusIDs)
}

// RawDigest is one name,digest pair emitted by DigestRawDirectory.
type RawDigest struct {
	Name   string
	Digest string
}

// DigestRawDirectory computes the gzip-aware digest of every regular file
// in dir, keyed by filename stem. This is the bootstrap step for
// validating or regenerating names before flat captures are folded into
// the sharded store. Unreadable files are logged and skipped.
func (s *Service) DigestRawDirectory(dir string) ([]RawDigest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var out []RawDigest
	for _, entry := range entries {
		if entry.IsDir() {
			s.logger.Info("ignoring directory", "name", entry.Name())
			continue
		}

		path := filepath.Join(dir, entry.Name())
		f, err := os.Open(path)
		if err != nil {
			s.logger.Error("cannot open file", "path", path, "error", err)
			continue
		}
		d, err := digest.ComputeGz(f)
		f.Close()
		if err != nil {
			s.logger.Error("cannot digest file", "path", path, "error", err)
			continue
		}

		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		out = append(out, RawDigest{Name: stem, Digest: d})
	}
	return out, nil
}

// Compile-time check that ValidStore satisfies the service's view of the
// archive.
var _ ArchiveStore = (*store.ValidStore)(nil)
