package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsift/docsift/internal/storage"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestLocalStoreSaveFetchDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	data := []byte("hello, blob")
	require.NoError(t, s.Save(ctx, "doc.txt", data, "text/plain"))

	got, err := s.Fetch(ctx, "doc.txt")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, s.Delete(ctx, "doc.txt"))

	_, err = s.Fetch(ctx, "doc.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreFetchMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Fetch(context.Background(), "nope.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreDeleteMissingIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	assert.NoError(t, s.Delete(context.Background(), "never-existed.txt"))
}

func TestLocalStoreRejectsPathEscape(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, key := range []string{"", "../etc/passwd", "a/b.txt", `a\b.txt`, "..", "x..y"} {
		_, err := s.Fetch(ctx, key)
		assert.Error(t, err, "key %q", key)
		assert.NotErrorIs(t, err, ErrNotFound, "key %q must fail validation, not lookup", key)
	}
}

func TestLocalStorePingAndKind(t *testing.T) {
	s := newTestStore(t)

	assert.NoError(t, s.Ping(context.Background()))
	assert.Equal(t, storage.StorageLocal, s.Kind())
}
