package blobstore

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

	require.NoError(t, s.Put(ctx, "uploads/resume.pdf", []byte("pdf bytes")))

	data, err := s.Get(ctx, "uploads/resume.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf bytes"), data)

	require.NoError(t, s.Delete(ctx, "uploads/resume.pdf"))
	_, err = s.Get(ctx, "uploads/resume.pdf")
	assert.ErrorIs(t, err, core.ErrBlobNotFound)
}

func TestInMemoryStore_GetUnknown(t *testing.T) {
	s := NewInMemoryStore()
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrBlobNotFound)
}

func TestInMemoryStore_DeleteUnknown(t *testing.T) {
	s := NewInMemoryStore()
	err := s.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrBlobNotFound)
}

func TestInMemoryStore_CopiesData(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	src := []byte("original")
	require.NoError(t, s.Put(ctx, "k", src))
	src[0] = 'X'

	data, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), data)

	data[0] = 'Y'
	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}

func TestInMemoryStore_Overwrite(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", []byte("v1")))
	require.NoError(t, s.Put(ctx, "k", []byte("v2")))

	data, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
	assert.Equal(t, 1, s.Len())
}
