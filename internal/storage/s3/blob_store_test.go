package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutObjectUploadsToBucket(t *testing.T) {
	t.Parallel()

	srv := &fakeS3{}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)

	store, err := New(Config{
		Endpoint:  u.Host,
		Bucket:    "tap-archive",
		AccessKey: "key",
		SecretKey: "secret",
		Region:    "us-east-1",
	})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "records/performance_report_query/batch-000001.ndjson",
		"application/x-ndjson", strings.NewReader("{\"query\":\"go\"}\n"))
	require.NoError(t, err)
	require.Equal(t, "s3://tap-archive/records/performance_report_query/batch-000001.ndjson", uri)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Equal(t, "/tap-archive/records/performance_report_query/batch-000001.ndjson", srv.path)
	require.Contains(t, srv.body, `{"query":"go"}`)
	require.Equal(t, "application/x-ndjson", srv.contentType)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Bucket: "b"})
	require.Error(t, err)
	_, err = New(Config{Endpoint: "localhost:9000"})
	require.Error(t, err)

	store, err := New(Config{Endpoint: "localhost:9000", Bucket: "b", Region: "us-east-1"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "", "", strings.NewReader("x"))
	require.Error(t, err)
}

// --- fakes ---

type fakeS3 struct {
	mu          sync.Mutex
	path        string
	body        string
	contentType string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.path = r.URL.Path
	f.body = string(body)
	f.contentType = r.Header.Get("Content-Type")
	f.mu.Unlock()
	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	w.WriteHeader(http.StatusOK)
}
