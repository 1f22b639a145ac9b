package wbm_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"wbm-go/internal/digest"
	"wbm-go/internal/model"
	"wbm-go/internal/store"
	"wbm-go/internal/tweetdb"
	"wbm-go/internal/wbm"
)

// newTestService wires a Service over a real store and an in-memory tweet
// index.
func newTestService(t *testing.T) (*wbm.Service, *store.ValidStore) {
	t.Helper()

	s, err := store.Create(filepath.Join(t.TempDir(), "store"))
	if err != nil {
		t.Fatalf("store.Create() error = %v", err)
	}

	tweets, err := tweetdb.Open(":memory:", false, nil)
	if err != nil {
		t.Fatalf("tweetdb.Open() error = %v", err)
	}
	t.Cleanup(func() {
		tweets.Close()
	})

	return wbm.NewService(s, tweets, wbm.NewNopLogger()), s
}

func writeInput(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.html")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing input: %v", err)
	}
	return path
}

func gzipBytes(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(content)); err != nil {
		t.Fatalf("compressing: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing gzip writer: %v", err)
	}
	return buf.Bytes()
}

func TestService_IngestFile(t *testing.T) {
	ts := time.Date(2020, 7, 1, 12, 0, 0, 0, time.UTC)
	tweets := []model.Tweet{{
		ID:             100,
		Time:           ts,
		UserID:         7,
		UserScreenName: "seven",
		UserName:       "Seven",
		Text:           "hi",
	}}

	t.Run("archives and indexes", func(t *testing.T) {
		svc, s := newTestService(t)
		input := writeInput(t, "<html>status</html>")

		d, err := svc.IngestFile(input, nil, tweets)
		if err != nil {
			t.Fatalf("IngestFile() error = %v", err)
		}

		content, found, err := s.Extract(d)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if !found || content != "<html>status</html>" {
			t.Errorf("Extract() = (%q, %v), want the ingested content", content, found)
		}

		captures, err := svc.GetTweets([]int64{100})
		if err != nil {
			t.Fatalf("GetTweets() error = %v", err)
		}
		if len(captures) != 1 || captures[0].Digest != d {
			t.Errorf("GetTweets() = %v, want one capture under digest %s", captures, d)
		}
	})

	t.Run("re-ingest is a no-op", func(t *testing.T) {
		svc, _ := newTestService(t)
		input := writeInput(t, "<html>status</html>")

		d1, err := svc.IngestFile(input, nil, tweets)
		if err != nil {
			t.Fatalf("first IngestFile() error = %v", err)
		}
		d2, err := svc.IngestFile(input, nil, tweets)
		if err != nil {
			t.Fatalf("second IngestFile() error = %v", err)
		}
		if d1 != d2 {
			t.Errorf("re-ingest digest = %s, want %s", d2, d1)
		}

		captures, err := svc.GetTweets([]int64{100})
		if err != nil {
			t.Fatalf("GetTweets() error = %v", err)
		}
		if len(captures) != 1 {
			t.Fatalf("GetTweets() returned %d captures, want 1", len(captures))
		}
	})

	t.Run("rejects corrupt claimed input", func(t *testing.T) {
		svc, _ := newTestService(t)

		// The filename stem claims a digest the content does not hash to.
		dir := t.TempDir()
		claimed := strings.Repeat("12", 20)
		input := filepath.Join(dir, claimed+".html")
		if err := os.WriteFile(input, []byte("content"), 0644); err != nil {
			t.Fatalf("writing input: %v", err)
		}

		if _, err := svc.IngestFile(input, nil, nil); err == nil {
			t.Error("IngestFile() with mismatched claimed digest expected error")
		}
	})
}

func TestService_VerifyStore(t *testing.T) {
	ctx := context.Background()

	svc, s := newTestService(t)

	input := writeInput(t, "good capture")
	goodDigest, err := svc.IngestFile(input, nil, nil)
	if err != nil {
		t.Fatalf("IngestFile() error = %v", err)
	}

	// Plant a corrupted entry: valid gzip whose content does not hash to
	// the path, at a digest far from the good one.
	corrupt := "0000000000000000000000000000000000000000"
	if corrupt[:2] == goodDigest[:2] {
		corrupt = "1111111111111111111111111111111111111111"
	}
	if err := os.WriteFile(s.EntryPath(corrupt), gzipBytes(t, "other content"), 0644); err != nil {
		t.Fatalf("planting corrupted entry: %v", err)
	}

	// Plant a broken entry: not gzip at all.
	broken := "ffffffffffffffffffffffffffffffffffffffff"
	if broken[:2] == goodDigest[:2] {
		broken = "eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"
	}
	if err := os.WriteFile(s.EntryPath(broken), []byte("not gzip"), 0644); err != nil {
		t.Fatalf("planting broken entry: %v", err)
	}

	report, err := svc.VerifyStore(ctx, "", 4)
	if err != nil {
		t.Fatalf("VerifyStore() error = %v", err)
	}
	if report.Valid != 1 {
		t.Errorf("Valid = %d, want 1", report.Valid)
	}
	if report.Invalid != 1 {
		t.Errorf("Invalid = %d, want 1", report.Invalid)
	}
	if report.Broken != 1 {
		t.Errorf("Broken = %d, want 1", report.Broken)
	}

	t.Run("prefix narrows the audit", func(t *testing.T) {
		report, err := svc.VerifyStore(ctx, goodDigest[:2], 4)
		if err != nil {
			t.Fatalf("VerifyStore() error = %v", err)
		}
		if report.Valid != 1 || report.Invalid != 0 || report.Broken != 0 {
			t.Errorf("VerifyStore() report = %+v, want only the valid entry", report)
		}
	})
}

func TestService_DigestRawDirectory(t *testing.T) {
	svc, _ := newTestService(t)

	dir := t.TempDir()
	content := "raw capture"
	if err := os.WriteFile(filepath.Join(dir, "abc123.gz"), gzipBytes(t, content), 0644); err != nil {
		t.Fatalf("writing raw file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatalf("creating subdirectory: %v", err)
	}

	want, err := digest.Compute(strings.NewReader(content))
	if err != nil {
		t.Fatalf("digest.Compute() error = %v", err)
	}

	digests, err := svc.DigestRawDirectory(dir)
	if err != nil {
		t.Fatalf("DigestRawDirectory() error = %v", err)
	}
	if len(digests) != 1 {
		t.Fatalf("DigestRawDirectory() returned %d entries, want 1", len(digests))
	}
	if digests[0].Name != "abc123" {
		t.Errorf("Name = %q, want %q", digests[0].Name, "abc123")
	}
	if digests[0].Digest != want {
		t.Errorf("Digest = %q, want %q", digests[0].Digest, want)
	}
}
