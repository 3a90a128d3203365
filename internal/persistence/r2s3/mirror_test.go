package r2s3

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCleanKey(t *testing.T) {
	cases := []struct{ in, want string }{
		{"movelog/moves-2026-08-29-12.jsonl.zst", "movelog/moves-2026-08-29-12.jsonl.zst"},
		{"/score.db", "score.db"},
		{"a//b", "a/b"},
		{"movelog/../score.db", "score.db"},
		{"../escape", ""},
		{"..", ""},
		{"a/../../escape", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := cleanKey(c.in); got != c.want {
			t.Errorf("cleanKey(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestObjectKey(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "movelog")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(sub, "moves-2026-08-29-12.jsonl.zst")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := &Mirror{dataDir: dir, prefix: "games/g1"}
	key, err := m.objectKey(file)
	if err != nil {
		t.Fatalf("objectKey: %v", err)
	}
	if key != "games/g1/movelog/moves-2026-08-29-12.jsonl.zst" {
		t.Errorf("key = %q", key)
	}

	if _, err := m.objectKey(filepath.Join(os.TempDir(), "elsewhere")); err == nil {
		t.Error("path outside data dir accepted")
	}
}

func TestClientPut(t *testing.T) {
	var gotPath, gotAuth, gotHash string
	var gotBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotHash = r.Header.Get("x-amz-content-sha256")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL, "bucket", "key-id", "secret")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	file := filepath.Join(t.TempDir(), "score.db")
	if err := os.WriteFile(file, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Put(ctx, "games/score.db", file); err != nil {
		t.Fatalf("put: %v", err)
	}

	if gotPath != "/bucket/games/score.db" {
		t.Errorf("path = %q", gotPath)
	}
	if string(gotBody) != "payload" {
		t.Errorf("body = %q", gotBody)
	}
	if !strings.HasPrefix(gotAuth, sigV4Algorithm+" Credential=key-id/") {
		t.Errorf("auth = %q", gotAuth)
	}
	if !strings.Contains(gotAuth, "SignedHeaders=host;x-amz-content-sha256;x-amz-date") {
		t.Errorf("auth = %q", gotAuth)
	}
	if len(gotHash) != 64 {
		t.Errorf("payload hash = %q", gotHash)
	}
}

func TestMirrorUpload(t *testing.T) {
	uploads := make(chan string, 4)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploads <- r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL, "bucket", "key-id", "secret")
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	file := filepath.Join(dir, "score.db")
	if err := os.WriteFile(file, []byte("db"), 0o644); err != nil {
		t.Fatal(err)
	}

	logger := log.New(io.Discard, "", 0)
	m := NewMirror(c, dir, "", logger)
	m.Enqueue(file)
	m.Close()

	select {
	case p := <-uploads:
		if p != "/bucket/score.db" {
			t.Errorf("uploaded path = %q", p)
		}
	default:
		t.Fatal("nothing uploaded")
	}

	st := m.Stats()
	if st.EnqueuedTotal != 1 || st.UploadedTotal != 1 || st.FailedTotal != 0 {
		t.Errorf("stats = %+v", st)
	}

	// A nil mirror is inert.
	var nilMirror *Mirror
	nilMirror.Enqueue(file)
	nilMirror.Close()
	if s := nilMirror.Stats(); s.EnqueuedTotal != 0 {
		t.Errorf("nil stats = %+v", s)
	}
}
