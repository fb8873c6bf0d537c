package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "reports/golang/run.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://reports/golang/run.json", uri)

	payload[0] = 'C'
	got, ok := store.Object("reports/golang/run.json")
	require.True(t, ok)
	require.Equal(t, "content", string(got))

	got[0] = 'X'
	again, _ := store.Object("reports/golang/run.json")
	require.Equal(t, "content", string(again))
	require.Equal(t, 1, store.Len())

	_, ok = store.Object("missing")
	require.False(t, ok)
}
