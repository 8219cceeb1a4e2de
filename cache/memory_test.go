package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, s.Put(ctx, "a/1", "one"))
	require.NoError(t, s.Put(ctx, "a/2", "two"))
	require.NoError(t, s.Put(ctx, "b/1", "three"))

	val, err := s.Get(ctx, "a/1")
	require.NoError(t, err)
	assert.Equal(t, "one", val)

	scanned, err := s.Scan(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a/1": "one", "a/2": "two"}, scanned)

	require.NoError(t, s.Delete(ctx, "a/1", "b/1"))
	assert.Equal(t, 1, s.Len())
}
