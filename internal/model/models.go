package model

import (
	"encoding/json"
	"time"
)

// Tweet is one parsed tweet record as supplied by an upstream capture
// parser. ParentID is nil when the tweet is not a reply.
//
// Two captures of the same tweet id can carry different text (truncated vs.
// full); each textual variant is a distinct revision and indexed as its own
// row.
type Tweet struct {
	ID             int64
	ParentID       *int64
	Time           time.Time
	UserID         int64
	UserScreenName string
	UserName       string
	Text           string
}

// tweetJSON is the wire form of a Tweet. Timestamps travel as unix seconds.
type tweetJSON struct {
	ID             int64  `json:"id"`
	ParentID       *int64 `json:"parent_id,omitempty"`
	Ts             int64  `json:"ts"`
	UserID         int64  `json:"user_id"`
	UserScreenName string `json:"user_screen_name"`
	UserName       string `json:"user_name"`
	Text           string `json:"text"`
}

func (t Tweet) MarshalJSON() ([]byte, error) {
	return json.Marshal(tweetJSON{
		ID:             t.ID,
		ParentID:       t.ParentID,
		Ts:             t.Time.Unix(),
		UserID:         t.UserID,
		UserScreenName: t.UserScreenName,
		UserName:       t.UserName,
		Text:           t.Text,
	})
}

func (t *Tweet) UnmarshalJSON(data []byte) error {
	var w tweetJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*t = Tweet{
		ID:             w.ID,
		ParentID:       w.ParentID,
		Time:           time.Unix(w.Ts, 0).UTC(),
		UserID:         w.UserID,
		UserScreenName: w.UserScreenName,
		UserName:       w.UserName,
		Text:           w.Text,
	}
	return nil
}

// ParentOrSelf returns the parent id, or the tweet's own id when it has no
// parent. The index encodes "no parent" as a self-reference.
func (t *Tweet) ParentOrSelf() int64 {
	if t.ParentID != nil {
		return *t.ParentID
	}
	return t.ID
}

// TweetCapture pairs a tweet revision with the digest of the capture file
// it was observed in.
type TweetCapture struct {
	Tweet  Tweet
	Digest string
}
