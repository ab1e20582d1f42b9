package memory

import (
	"context"
	"testing"

	"github.com/marmos91/filedrop/pkg/store"
	storetesting "github.com/marmos91/filedrop/pkg/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	suite := &storetesting.StoreTestSuite{
		NewStore: func(t *testing.T) store.Store {
			return NewMemoryStore(".txt")
		},
	}
	suite.Run(t)
}

func TestMemoryStore_CommitCopiesData(t *testing.T) {
	s := NewMemoryStore(".txt")
	ctx := context.Background()

	data := []byte("original")
	upload, err := s.Stage(ctx, "a.txt")
	require.NoError(t, err)
	_, err = upload.Write(data)
	require.NoError(t, err)
	require.NoError(t, upload.Commit(ctx))

	data[0] = 'X'

	rc, err := s.Open(ctx, "a.txt")
	require.NoError(t, err)
	defer rc.Close()

	buf := make([]byte, 16)
	n, _ := rc.Read(buf)
	assert.Equal(t, "original", string(buf[:n]))
}
