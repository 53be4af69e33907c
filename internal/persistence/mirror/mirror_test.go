package mirror

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	mu    sync.Mutex
	keys  []string
	fails int
}

func (f *fakeUploader) PutFile(ctx context.Context, key, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("boom")
	}
	f.keys = append(f.keys, key)
	return nil
}

func writeSegment(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, "journal", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("segment"), 0o644))
	return p
}

func quietConfig(dataDir string) Config {
	return Config{
		DataDir: dataDir,
		Prefix:  "/prod/",
		Backoff: time.Millisecond,
		Logger:  log.New(io.Discard, "", 0),
	}
}

func TestMirror_UploadsUnderPrefix(t *testing.T) {
	dataDir := t.TempDir()
	up := &fakeUploader{fails: 2}
	m := New(up, quietConfig(dataDir))
	m.Enqueue(writeSegment(t, dataDir, "journal-2026-03-01-10.jsonl.zst"))
	m.Close()

	require.Equal(t, []string{"prod/journal/journal-2026-03-01-10.jsonl.zst"}, up.keys)
	st := m.Stats()
	require.Equal(t, uint64(1), st.Enqueued)
	require.Equal(t, uint64(1), st.Uploaded)
	require.Equal(t, uint64(0), st.Failed)
	require.NotZero(t, st.LastSuccess)
}

func TestMirror_GivesUpAfterAttempts(t *testing.T) {
	dataDir := t.TempDir()
	up := &fakeUploader{fails: 10}
	cfg := quietConfig(dataDir)
	cfg.Attempts = 3
	m := New(up, cfg)
	m.Enqueue(writeSegment(t, dataDir, "a.jsonl.zst"))
	m.Close()

	require.Empty(t, up.keys)
	require.Equal(t, 7, up.fails)
	require.Equal(t, uint64(1), m.Stats().Failed)
}

func TestMirror_RejectsPathsOutsideDataDir(t *testing.T) {
	dataDir := t.TempDir()
	other := t.TempDir()
	up := &fakeUploader{}
	m := New(up, quietConfig(dataDir))
	m.Enqueue(writeSegment(t, other, "x.jsonl.zst"))
	m.Enqueue(filepath.Join(dataDir, "missing.jsonl.zst"))
	m.Close()

	require.Empty(t, up.keys)
	require.Equal(t, uint64(2), m.Stats().Failed)
}

func TestMirror_NilIsNoop(t *testing.T) {
	var m *Mirror
	m.Enqueue("x")
	m.Close()
	require.Equal(t, Stats{}, m.Stats())
}

func TestClient_PutFileSigns(t *testing.T) {
	type seen struct {
		method, path, auth, date, hash, body string
	}
	got := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- seen{
			method: r.Method,
			path:   r.URL.EscapedPath(),
			auth:   r.Header.Get("Authorization"),
			date:   r.Header.Get("x-amz-date"),
			hash:   r.Header.Get("x-amz-content-sha256"),
			body:   string(b),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "boids", "AKID", "secret")
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	p := filepath.Join(t.TempDir(), "seg.jsonl.zst")
	require.NoError(t, os.WriteFile(p, []byte("hello"), 0o644))
	require.NoError(t, c.PutFile(context.Background(), "prod/journal/seg one.jsonl.zst", p))

	s := <-got
	require.Equal(t, http.MethodPut, s.method)
	require.Equal(t, "/boids/prod/journal/seg%20one.jsonl.zst", s.path)
	require.Equal(t, "hello", s.body)
	require.Equal(t, "20260301T100000Z", s.date)
	// sha256("hello")
	require.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", s.hash)
	require.True(t, strings.HasPrefix(s.auth, "AWS4-HMAC-SHA256 Credential=AKID/20260301/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature="))
	require.Len(t, strings.TrimPrefix(s.auth[strings.Index(s.auth, "Signature="):], "Signature="), 64)
}

func TestClient_PutFileReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "AccessDenied", http.StatusForbidden)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "boids", "AKID", "secret")
	require.NoError(t, err)
	p := filepath.Join(t.TempDir(), "seg")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	err = c.PutFile(context.Background(), "seg", p)
	require.ErrorContains(t, err, "status=403")
	require.ErrorContains(t, err, "AccessDenied")
}

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient("", "b", "k", "s")
	require.Error(t, err)
	c, err := NewClient("r2.example.com", "b", "k", "s")
	require.NoError(t, err)
	require.Equal(t, "https", c.endpoint.Scheme)
	require.Equal(t, "", cleanKey("/"))
	require.Equal(t, "a/b", cleanKey("\\a\\..\\a/b"))
}
