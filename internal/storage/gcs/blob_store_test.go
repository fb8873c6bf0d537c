package gcs_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/contributor-crawler/internal/storage/gcs"
)

func newTestClient(t *testing.T, handler http.Handler) *storage.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPutObjectUploads(t *testing.T) {
	const object = "reports/golang/run-1.json"
	payload := `{"run_id":"run-1"}`

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, object, r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), payload)
		fmt.Fprintf(w, `{"bucket":"test-bucket","name":%q}`, object)
	})

	store, err := gcs.New(newTestClient(t, handler), gcs.Config{Bucket: "test-bucket"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), object, "application/json", bytes.NewBufferString(payload))
	require.NoError(t, err)
	require.Equal(t, "gs://test-bucket/"+object, uri)
}

func TestPutObjectServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"forbidden"}}`, http.StatusForbidden)
	})

	store, err := gcs.New(newTestClient(t, handler), gcs.Config{Bucket: "test-bucket"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "x.json", "", bytes.NewBufferString("{}"))
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	require.Error(t, err)

	client := newTestClient(t, http.NotFoundHandler())
	_, err = gcs.New(client, gcs.Config{})
	require.Error(t, err)

	_, err = (&gcs.BlobStore{}).PutObject(context.Background(), " ", "", nil)
	require.Error(t, err)
}
