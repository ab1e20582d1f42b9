// Package testing provides a reusable conformance suite for store.Store
// implementations.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &storetesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) store.Store {
//	            return mystore.New(".txt")
//	        },
//	    }
//	    suite.Run(t)
//	}
package testing

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/marmos91/filedrop/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite tests the store.Store contract. NewStore must return a fresh,
// empty store whose extension is ".txt".
type StoreTestSuite struct {
	NewStore func(t *testing.T) store.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("Empty", suite.testEmpty)
	t.Run("StageCommit", suite.testStageCommit)
	t.Run("StagedInvisible", suite.testStagedInvisible)
	t.Run("Discard", suite.testDiscard)
	t.Run("NoOverwrite", suite.testNoOverwrite)
	t.Run("ListFiltersExtension", suite.testListFiltersExtension)
	t.Run("ListSorted", suite.testListSorted)
	t.Run("ClosedUpload", suite.testClosedUpload)
	t.Run("InvalidName", suite.testInvalidName)
	t.Run("OpenNotFound", suite.testOpenNotFound)
	t.Run("ConcurrentCommitSameName", suite.testConcurrentCommitSameName)
}

func (suite *StoreTestSuite) testEmpty(t *testing.T) {
	s := suite.NewStore(t)
	ctx := context.Background()

	files, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)

	exists, err := s.Exists(ctx, "a.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Equal(t, ".txt", s.Extension())
}

func (suite *StoreTestSuite) testStageCommit(t *testing.T) {
	s := suite.NewStore(t)
	ctx := context.Background()
	data := []byte("hello, world\n")

	mustPut(t, s, "a.txt", data)

	exists, err := s.Exists(ctx, "a.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	files, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.txt", files[0].Name)
	assert.Equal(t, int64(len(data)), files[0].Size)

	assert.Equal(t, data, mustRead(t, s, "a.txt"))
}

func (suite *StoreTestSuite) testStagedInvisible(t *testing.T) {
	s := suite.NewStore(t)
	ctx := context.Background()

	upload, err := s.Stage(ctx, "pending.txt")
	require.NoError(t, err)
	_, err = upload.Write([]byte("partial"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), upload.Size())

	exists, err := s.Exists(ctx, "pending.txt")
	require.NoError(t, err)
	assert.False(t, exists, "staged upload must not exist before commit")

	files, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, files, "staged upload must not be listed before commit")

	require.NoError(t, upload.Commit(ctx))

	files, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pending.txt"}, store.Names(files))
}

func (suite *StoreTestSuite) testDiscard(t *testing.T) {
	s := suite.NewStore(t)
	ctx := context.Background()

	upload, err := s.Stage(ctx, "gone.txt")
	require.NoError(t, err)
	_, err = upload.Write([]byte("abandoned"))
	require.NoError(t, err)

	require.NoError(t, upload.Discard(ctx))
	require.NoError(t, upload.Discard(ctx), "discard must be idempotent")

	exists, err := s.Exists(ctx, "gone.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	files, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func (suite *StoreTestSuite) testNoOverwrite(t *testing.T) {
	s := suite.NewStore(t)
	ctx := context.Background()

	mustPut(t, s, "a.txt", []byte("first"))

	upload, err := s.Stage(ctx, "a.txt")
	require.NoError(t, err)
	_, err = upload.Write([]byte("second version"))
	require.NoError(t, err)

	err = upload.Commit(ctx)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	assert.Equal(t, []byte("first"), mustRead(t, s, "a.txt"))

	files, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, store.Names(files))
}

func (suite *StoreTestSuite) testListFiltersExtension(t *testing.T) {
	s := suite.NewStore(t)
	ctx := context.Background()

	mustPut(t, s, "a.txt", []byte("a"))
	mustPut(t, s, "image.png", []byte("png"))
	mustPut(t, s, "notes.txt.bak", []byte("bak"))

	files, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, store.Names(files))
}

func (suite *StoreTestSuite) testListSorted(t *testing.T) {
	s := suite.NewStore(t)
	ctx := context.Background()

	for _, name := range []string{"c.txt", "a.txt", "b.txt"} {
		mustPut(t, s, name, []byte(name))
	}

	files, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, store.Names(files))
}

func (suite *StoreTestSuite) testClosedUpload(t *testing.T) {
	s := suite.NewStore(t)
	ctx := context.Background()

	upload, err := s.Stage(ctx, "closed.txt")
	require.NoError(t, err)
	require.NoError(t, upload.Commit(ctx))

	_, err = upload.Write([]byte("late"))
	assert.ErrorIs(t, err, store.ErrUploadClosed)
	assert.ErrorIs(t, upload.Commit(ctx), store.ErrUploadClosed)
	assert.NoError(t, upload.Discard(ctx), "discard after commit is a no-op")

	exists, err := s.Exists(ctx, "closed.txt")
	require.NoError(t, err)
	assert.True(t, exists, "discard after commit must not remove the file")
}

func (suite *StoreTestSuite) testInvalidName(t *testing.T) {
	s := suite.NewStore(t)
	ctx := context.Background()

	for _, name := range []string{"../escape.txt", "dir/a.txt", ".hidden.txt", ""} {
		_, err := s.Stage(ctx, name)
		assert.ErrorIs(t, err, store.ErrInvalidName, "name %q", name)
	}
}

func (suite *StoreTestSuite) testOpenNotFound(t *testing.T) {
	s := suite.NewStore(t)

	_, err := s.Open(context.Background(), "missing.txt")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func (suite *StoreTestSuite) testConcurrentCommitSameName(t *testing.T) {
	s := suite.NewStore(t)
	ctx := context.Background()

	const writers = 8
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		conflicts atomic.Int32
	)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			upload, err := s.Stage(ctx, "race.txt")
			if !assert.NoError(t, err) {
				return
			}
			_, _ = upload.Write([]byte(fmt.Sprintf("writer %d", i)))

			switch err := upload.Commit(ctx); {
			case err == nil:
				succeeded.Add(1)
			case assert.ErrorIs(t, err, store.ErrAlreadyExists):
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(writers-1), conflicts.Load())
}

func mustPut(t *testing.T, s store.Store, name string, data []byte) {
	t.Helper()
	ctx := context.Background()

	upload, err := s.Stage(ctx, name)
	require.NoError(t, err)
	_, err = upload.Write(data)
	require.NoError(t, err)
	require.NoError(t, upload.Commit(ctx))
}

func mustRead(t *testing.T, s store.Store, name string) []byte {
	t.Helper()

	rc, err := s.Open(context.Background(), name)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}
