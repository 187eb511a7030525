package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/BridgeIntake/internal/core"
)

// exercise runs the same contract checks against any store.
func exercise(t *testing.T, s core.ArtifactStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "uploads/1/a.json", strings.NewReader("[1]"), 3))
	require.NoError(t, s.Put(ctx, "uploads/1/b.json", strings.NewReader("[2]"), 3))
	require.NoError(t, s.Put(ctx, "reports/1/r.xlsx", strings.NewReader("xlsx"), 4))

	rc, err := s.Get(ctx, "uploads/1/a.json")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "[1]", string(data))

	require.NoError(t, s.DeletePrefix(ctx, "uploads/1/"))
	_, err = s.Get(ctx, "uploads/1/b.json")
	assert.True(t, errors.Is(err, core.ErrNotFound), "Get after DeletePrefix error = %v", err)

	rc, err = s.Get(ctx, "reports/1/r.xlsx")
	require.NoError(t, err, "other prefixes survive")
	rc.Close()

	require.NoError(t, s.Delete(ctx, "reports/1/r.xlsx"))
	require.NoError(t, s.Delete(ctx, "reports/1/r.xlsx"), "deleting a missing key is not an error")
	require.NoError(t, s.DeletePrefix(ctx, "uploads/99/"), "deleting an empty prefix is not an error")
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	exercise(t, s)
}

func TestFileStore_RejectsEscapingKeys(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../x", "/etc/passwd", "a/../../x"} {
		err := s.Put(context.Background(), key, strings.NewReader("x"), 1)
		assert.True(t, errors.Is(err, core.ErrInvalidInput), "Put(%q) error = %v", key, err)
	}
}

func TestFileStore_ShortWrite(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	err = s.Put(context.Background(), "uploads/1/a.json", strings.NewReader("ab"), 10)
	require.Error(t, err)
	_, err = s.Get(context.Background(), "uploads/1/a.json")
	assert.True(t, errors.Is(err, core.ErrNotFound), "partial artifact must not be visible")
}

// fakeS3 serves the path-style subset of the S3 API the store uses.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	if bucket != "intake" {
		http.Error(w, "no such bucket", http.StatusNotFound)
		return
	}

	switch {
	case r.Method == http.MethodGet && key == "":
		prefix := r.URL.Query().Get("prefix")
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
		fmt.Fprintf(&b, "<Name>intake</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><IsTruncated>false</IsTruncated>", prefix, len(keys))
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", k, len(f.objects[k]))
		}
		b.WriteString("</ListBucketResult>")
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(b.String()))
	case r.Method == http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
			return
		}
		_, _ = w.Write(data)
	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{objects: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s, err := NewS3Store(S3Config{
		Endpoint:  srv.URL,
		Region:    "us-east-1",
		Bucket:    "intake",
		AccessKey: "test",
		SecretKey: "test",
	})
	require.NoError(t, err)
	exercise(t, s)
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(S3Config{Region: "us-east-1"})
	assert.Error(t, err)
}
