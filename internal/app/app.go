package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"wbm-go/internal/config"
	"wbm-go/internal/encryption"
	"wbm-go/internal/mirror"
	"wbm-go/internal/model"
	"wbm-go/internal/store"
	"wbm-go/internal/tweetdb"
	"wbm-go/internal/wbm"
)

// App is the application layer between the CLI and the wbm service.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string arguments, and manages resource lifecycle on Close.
type App struct {
	cfg     *config.Config
	store   *store.ValidStore
	tweets  *tweetdb.Store
	service *wbm.Service
	logger  wbm.Logger
	logFile *os.File
}

// NewApp creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "Ingest", "Verify").
// When recreate is set, the tweet index is dropped and rebuilt on open.
// The caller must call Close when done.
func NewApp(cfg *config.Config, operation string, recreate bool) (*App, error) {
	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	adapted := &slogAdapter{l: logger}

	tweets, err := tweetdb.Open(cfg.Database.Path, recreate, adapted)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening tweet index: %w", err)
	}

	archive := store.Open(cfg.Store.Dir)
	svc := wbm.NewService(archive, tweets, adapted)

	return &App{
		cfg:     cfg,
		store:   archive,
		tweets:  tweets,
		service: svc,
		logger:  adapted,
		logFile: logFile,
	}, nil
}

// CreateStore establishes the sharded store layout at the configured root.
func (a *App) CreateStore() error {
	_, err := store.Create(a.cfg.Store.Dir)
	return err
}

// Extract returns the decompressed content archived under digest.
func (a *App) Extract(digest string) (string, bool, error) {
	return a.store.Extract(digest)
}

// List collects the digests of every archived entry matching prefix, in
// shard order. Malformed entries are logged and skipped.
func (a *App) List(ctx context.Context, prefix string) ([]string, error) {
	var digests []string
	for entry := range a.store.PathsForPrefix(ctx, prefix) {
		if entry.Err != nil {
			a.logger.Error("skipping entry", "error", entry.Err)
			continue
		}
		digests = append(digests, entry.Digest)
	}
	if err := ctx.Err(); err != nil {
		return digests, err
	}
	return digests, nil
}

// Verify audits the digests of every archived entry matching prefix.
func (a *App) Verify(ctx context.Context, prefix string, parallelism int) (wbm.VerifyReport, error) {
	if parallelism <= 0 {
		parallelism = a.cfg.Verify.Parallelism
	}
	return a.service.VerifyStore(ctx, prefix, parallelism)
}

// Ingest archives the capture at inputPath and, when tweetsPath names a
// JSON file of tweet records, indexes them under the capture's digest.
// Returns the digest.
func (a *App) Ingest(inputPath, tweetsPath string, primaryTwitterID *int64) (string, error) {
	var tweets []model.Tweet
	if tweetsPath != "" {
		f, err := os.Open(tweetsPath)
		if err != nil {
			return "", fmt.Errorf("opening tweets file: %w", err)
		}
		err = json.NewDecoder(f).Decode(&tweets)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("decoding tweets file: %w", err)
		}
	}

	return a.service.IngestFile(inputPath, primaryTwitterID, tweets)
}

// DigestRaw computes the content digest of every file in a flat directory
// of raw gzip captures, keyed by filename stem.
func (a *App) DigestRaw(dir string) ([]wbm.RawDigest, error) {
	return a.service.DigestRawDirectory(dir)
}

// GetTweets returns the longest stored revision of each status id.
func (a *App) GetTweets(statusIDs []int64) ([]model.TweetCapture, error) {
	return a.service.GetTweets(statusIDs)
}

// newMirror builds the configured mirror, wiring in the encryptor when the
// config asks for encrypted offsite copies.
func (a *App) newMirror(ctx context.Context) (*mirror.Mirror, wbm.Encryptor, error) {
	remote, err := mirror.NewRemoteFromConfig(ctx, a.cfg.Mirror)
	if err != nil {
		return nil, nil, fmt.Errorf("creating mirror remote: %w", err)
	}

	var enc wbm.Encryptor
	if a.cfg.Mirror.Encrypt {
		enc, err = encryption.NewEncryptorFromConfig(a.cfg.Encryption)
		if err != nil {
			return nil, nil, fmt.Errorf("creating encryptor: %w", err)
		}
		if !enc.IsConfigured() {
			return nil, nil, fmt.Errorf("mirror encryption enabled but no key pair found (run keys init)")
		}
	}

	return mirror.New(a.store, remote, enc, a.logger), enc, nil
}

// MirrorEncrypted reports whether the configured mirror encrypts uploads,
// so the CLI knows to prompt for a passphrase on fetch.
func (a *App) MirrorEncrypted() bool {
	return a.cfg.Mirror.Encrypt
}

// MirrorSync uploads every archived entry matching prefix that the remote
// does not hold yet and returns the number of uploads.
func (a *App) MirrorSync(ctx context.Context, prefix string) (int, error) {
	m, _, err := a.newMirror(ctx)
	if err != nil {
		return 0, err
	}
	return m.Sync(ctx, prefix)
}

// MirrorGet downloads the mirrored entry for digest and writes its stored
// bytes to w. For an encrypted mirror, passphrase unlocks the private key.
func (a *App) MirrorGet(ctx context.Context, digest, passphrase string, w io.Writer) error {
	m, enc, err := a.newMirror(ctx)
	if err != nil {
		return err
	}

	var dec wbm.DecryptionContext
	if enc != nil {
		dec, err = enc.Unlock(passphrase)
		if err != nil {
			return fmt.Errorf("unlocking private key: %w", err)
		}
	}

	return m.Fetch(ctx, digest, dec, w)
}

// SetupKeys generates the age key pair used for mirror encryption.
func (a *App) SetupKeys(passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(a.cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if enc.IsConfigured() {
		return fmt.Errorf("key pair already exists at %s", a.cfg.Encryption.PublicKeyPath)
	}
	return enc.Setup(passphrase)
}

// Close closes the tweet index and the log file.
func (a *App) Close() error {
	var firstErr error

	if err := a.tweets.Close(); err != nil {
		firstErr = fmt.Errorf("closing tweet index: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
