package tweetdb

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"wbm-go/internal/model"
	"wbm-go/internal/tweetdb/migrations"
	"wbm-go/internal/wbm"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const userSelect = `
SELECT id
    FROM user
    WHERE twitter_id = ? AND screen_name = ? AND name = ?`

const userInsert = `INSERT INTO user (twitter_id, screen_name, name) VALUES (?, ?, ?)`

const fileSelect = `SELECT id FROM file WHERE digest = ?`

const fileInsert = `INSERT INTO file (digest, primary_twitter_id) VALUES (?, ?)`

const tweetSelectByID = `
SELECT tweet.parent_twitter_id, tweet.ts, tweet.user_twitter_id, user.screen_name, user.name, tweet.content, file.digest
    FROM tweet
    JOIN tweet_file ON tweet_file.tweet_id = tweet.id
    JOIN file ON file.id = tweet_file.file_id
    JOIN user ON user.id = tweet_file.user_id
    WHERE tweet.twitter_id = ?
    ORDER BY LENGTH(tweet.content) DESC
    LIMIT 1`

const tweetSelectFull = `
SELECT id
    FROM tweet
    WHERE twitter_id = ? AND parent_twitter_id = ? AND ts = ? AND user_twitter_id = ? AND content = ?`

const tweetInsert = `
INSERT INTO tweet (twitter_id, parent_twitter_id, ts, user_twitter_id, content) VALUES (?, ?, ?, ?, ?)`

const tweetFileInsert = `INSERT INTO tweet_file (tweet_id, file_id, user_id) VALUES (?, ?, ?)`

// Store is the tweet dedup index: a single SQLite connection guarded by a
// reader/writer lock. Any number of readers share the lock; AddTweets
// takes the write side, serializing ingestion.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	logger wbm.Logger
}

// Open opens or creates the index at path and brings the schema up to
// date. When recreate is set, existing tables are dropped first
// (destructive; for rebuild workflows). A nil logger defaults to a
// NopLogger.
func Open(path string, recreate bool, logger wbm.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening tweet store: %w", err)
	}

	// Exactly one underlying connection. The RWMutex provides the
	// reader/writer discipline; a second pooled connection would also
	// break ":memory:" databases, where each connection is its own store.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if recreate {
		if err := migrations.Recreate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("recreating schema: %w", err)
		}
	} else if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	if logger == nil {
		logger = wbm.NewNopLogger()
	}

	return &Store{db: db, logger: logger}, nil
}

// CheckDigest returns the file row id recorded for digest, or nil when no
// capture with that digest has been indexed. Read-only; holds the lock for
// a single lookup.
func (s *Store) CheckDigest(digest string) (*int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id int64
	err := s.db.QueryRow(fileSelect, digest).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking digest: %w", err)
	}
	return &id, nil
}

// AddTweets records a capture file and every tweet observed in it within a
// single transaction; on any failure the whole transaction rolls back and
// no partial file/tweet/link state survives.
//
// The caller must have confirmed via CheckDigest that the digest is new;
// the file row is inserted unconditionally. Tweets are deduplicated on
// their full identity tuple, but a tweet_file link is recorded for every
// occurrence even when the tweet row already existed.
func (s *Store) AddTweets(digest string, primaryTwitterID *int64, tweets []model.Tweet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(fileInsert, digest, nullableID(primaryTwitterID))
	if err != nil {
		return fmt.Errorf("inserting file row: %w", err)
	}
	fileID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading file row id: %w", err)
	}

	for i := range tweets {
		tweet := &tweets[i]

		userID, err := addUser(tx, tweet.UserID, tweet.UserScreenName, tweet.UserName)
		if err != nil {
			return err
		}

		var tweetID int64
		err = tx.QueryRow(tweetSelectFull,
			tweet.ID, tweet.ParentOrSelf(), tweet.Time.Unix(), tweet.UserID, tweet.Text).Scan(&tweetID)
		if errors.Is(err, sql.ErrNoRows) {
			res, err := tx.Exec(tweetInsert,
				tweet.ID, tweet.ParentOrSelf(), tweet.Time.Unix(), tweet.UserID, tweet.Text)
			if err != nil {
				return fmt.Errorf("inserting tweet %d: %w", tweet.ID, err)
			}
			tweetID, err = res.LastInsertId()
			if err != nil {
				return fmt.Errorf("reading tweet row id: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("looking up tweet %d: %w", tweet.ID, err)
		}

		if _, err := tx.Exec(tweetFileInsert, tweetID, fileID, userID); err != nil {
			return fmt.Errorf("linking tweet %d to file: %w", tweet.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// addUser returns the row id for the exact (twitter_id, screen_name, name)
// triple, inserting it if unseen. A renamed user gets a new row, never an
// update, preserving naming history.
func addUser(tx *sql.Tx, twitterID int64, screenName, name string) (int64, error) {
	var id int64
	err := tx.QueryRow(userSelect, twitterID, screenName, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("looking up user %d: %w", twitterID, err)
	}

	res, err := tx.Exec(userInsert, twitterID, screenName, name)
	if err != nil {
		return 0, fmt.Errorf("inserting user %d: %w", twitterID, err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading user row id: %w", err)
	}
	return id, nil
}

// GetTweets returns, for each status id, the stored revision with the
// longest content joined to its capturing file and authoring user. Ids
// with no stored revision are skipped; other per-id failures are logged
// and the id omitted, so partial results are expected.
func (s *Store) GetTweets(statusIDs []int64) ([]model.TweetCapture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.TweetCapture, 0, len(statusIDs))
	for _, id := range statusIDs {
		var (
			parentID      int64
			ts            int64
			userTwitterID int64
			screenName    string
			name          string
			content       string
			digest        string
		)
		err := s.db.QueryRow(tweetSelectByID, id).Scan(
			&parentID, &ts, &userTwitterID, &screenName, &name, &content, &digest)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			s.logger.Error("tweet lookup failed", "twitter_id", id, "error", err)
			continue
		}

		tweet := model.Tweet{
			ID:             id,
			Time:           time.Unix(ts, 0).UTC(),
			UserID:         userTwitterID,
			UserScreenName: screenName,
			UserName:       name,
			Text:           content,
		}
		// A self-referential parent id encodes "not a reply".
		if parentID != id {
			tweet.ParentID = &parentID
		}

		result = append(result, model.TweetCapture{Tweet: tweet, Digest: digest})
	}
	return result, nil
}

// Close closes the backing connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

// Compile-time check that Store implements the service's TweetStore.
var _ wbm.TweetStore = (*Store)(nil)
