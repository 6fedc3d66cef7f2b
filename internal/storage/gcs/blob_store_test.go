package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()
	return newTestStoreWithConfig(t, Config{Bucket: "tap-archive"}, handler)
}

func newTestStoreWithConfig(t *testing.T, cfg Config, handler http.Handler) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestPutObjectUploadsBatch(t *testing.T) {
	t.Parallel()

	objectName := "records/performance_report_date/batch-000001.ndjson"
	payload := `{"clicks":1}` + "\n"
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/tap-archive/o")
		assert.Equal(t, objectName, r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), payload)
		fmt.Fprintln(w, `{"name": "`+objectName+`", "bucket": "tap-archive"}`)
	}))

	uri, err := store.PutObject(context.Background(), objectName, "application/x-ndjson", strings.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "gs://tap-archive/"+objectName, uri)
}

func TestPutObjectSingleRequestWithMetadata(t *testing.T) {
	t.Parallel()

	cfg := Config{Bucket: "tap-archive", ChunkSize: -1, Metadata: map[string]string{"writer": "searchtap"}}
	store := newTestStoreWithConfig(t, cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "searchtap")
		assert.Contains(t, string(body), "application/x-ndjson")
		fmt.Fprintln(w, `{"name": "a.ndjson", "bucket": "tap-archive"}`)
	}))

	uri, err := store.PutObject(context.Background(), "/a.ndjson", "", strings.NewReader("{}\n"))
	require.NoError(t, err)
	require.Equal(t, "gs://tap-archive/a.ndjson", uri)
}

func TestPutObjectReaderError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"name": "x.ndjson", "bucket": "tap-archive"}`)
	}))

	_, err := store.PutObject(context.Background(), "x.ndjson", "", iotest.ErrReader(errors.New("disk gone")))
	require.ErrorContains(t, err, "disk gone")
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := store.PutObject(context.Background(), "x.ndjson", "", bytes.NewReader([]byte("x")))
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	_, err = New(client, Config{})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), " ", "", strings.NewReader("x"))
	require.Error(t, err)
}
