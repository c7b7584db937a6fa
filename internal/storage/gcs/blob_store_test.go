package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/kenyalaw-crawler/internal/storage/gcs"
)

func newTestStore(t *testing.T, handler http.Handler, cfg gcs.Config) *gcs.BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/judgments/o")
		assert.Equal(t, "raw/high_court/HCCC_1_abc.html", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "<div>judgment</div>")
		assert.Contains(t, string(body), "text/html")
		fmt.Fprintln(w, `{"name": "raw/high_court/HCCC_1_abc.html", "bucket": "judgments"}`)
	})
	store := newTestStore(t, handler, gcs.Config{Bucket: "judgments", Prefix: "/raw/"})

	uri, err := store.PutObject(context.Background(), "high_court/HCCC_1_abc.html", "text/html", strings.NewReader("<div>judgment</div>"))
	require.NoError(t, err)
	assert.Equal(t, "gs://judgments/raw/high_court/HCCC_1_abc.html", uri)
	require.NoError(t, store.Close())
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	store := newTestStore(t, handler, gcs.Config{Bucket: "judgments"})

	_, err := store.PutObject(context.Background(), "a.html", "", strings.NewReader("x"))
	require.Error(t, err)
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.NotFoundHandler(), gcs.Config{Bucket: "judgments"})
	_, err := store.PutObject(context.Background(), " ", "", strings.NewReader("x"))
	require.Error(t, err)
}

func TestOpenChecksBucket(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/b/judgments") {
			fmt.Fprintln(w, `{"name": "judgments"}`)
			return
		}
		http.NotFound(w, r)
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := gcs.Open(context.Background(), gcs.Config{Bucket: "judgments", Endpoint: server.URL, WithoutAuth: true}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = gcs.Open(context.Background(), gcs.Config{Bucket: "missing", Endpoint: server.URL, WithoutAuth: true}, nil)
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	require.Error(t, err)

	_, err = gcs.Open(context.Background(), gcs.Config{}, nil)
	require.Error(t, err)
}
