package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobmesh/jobmesh/core"
)

func TestInMemoryStore_PutGetDelete(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "transcript/s1", []byte(`[]`)))

	doc, err := s.Get(ctx, "transcript/s1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[]`), doc)

	require.NoError(t, s.Delete(ctx, "transcript/s1"))
	_, err = s.Get(ctx, "transcript/s1")
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)
}

func TestInMemoryStore_UnknownKey(t *testing.T) {
	s := NewInMemoryStore()
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)
	assert.ErrorIs(t, s.Delete(context.Background(), "missing"), core.ErrDocumentNotFound)
}

func TestInMemoryStore_IsolatedCopies(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	src := []byte("doc")
	require.NoError(t, s.Put(ctx, "k", src))
	src[0] = 'X'

	doc, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("doc"), doc)
}
