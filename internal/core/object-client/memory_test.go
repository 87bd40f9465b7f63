package objectclient

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClient(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient()

	url, err := c.UploadFile(ctx, "documents/a.txt", strings.NewReader("hello"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "mem://documents/a.txt", url)
	assert.Equal(t, 1, c.Len())

	got, err := c.GetFile(ctx, "documents/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	require.NoError(t, c.DeleteFile(ctx, "documents/a.txt"))
	_, err = c.GetFile(ctx, "documents/a.txt")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
