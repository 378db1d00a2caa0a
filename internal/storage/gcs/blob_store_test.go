package gcs

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
)

// newTestClient creates a storage client that talks to a fake JSON API server.
func newTestClient(t *testing.T, handler http.Handler) *storage.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client := newTestClient(t, http.NotFoundHandler())
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPutObject(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/harvest-bucket/o")
		assert.Equal(t, "snapshots/run-1/games.json", r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), `{"10":{}}`)
		assert.Contains(t, string(body), "application/json")

		fmt.Fprintln(w, `{"name":"snapshots/run-1/games.json","bucket":"harvest-bucket"}`)
	})
	store, err := New(newTestClient(t, handler), Config{Bucket: "harvest-bucket"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "/snapshots/run-1/games.json", "application/json", strings.NewReader(`{"10":{}}`))
	require.NoError(t, err)
	assert.Equal(t, "gs://harvest-bucket/snapshots/run-1/games.json", uri)
}

func TestPutObjectServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	store, err := New(newTestClient(t, handler), Config{Bucket: "harvest-bucket"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "games.json", "application/json", strings.NewReader("{}"))
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), " ", "", strings.NewReader("{}"))
	require.Error(t, err)
}
