//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/marmos91/filedrop/internal/protocol"
	"github.com/marmos91/filedrop/pkg/client"
	"github.com/marmos91/filedrop/pkg/requestlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestListEmpty verifies a fresh server answers list with the empty listing.
func TestListEmpty(t *testing.T) {
	RunOnAllConfigs(t, func(t *testing.T, c *TestContext) {
		listing, err := c.Client.List(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{protocol.NoFilesFound}, listing.Lines)

		records := c.WaitForLogRecords(1)
		assert.Equal(t, requestlog.KindList, records[0].Kind)
		assert.Equal(t, "127.0.0.1", records[0].ClientAddr)
	})
}

// TestPutAndList uploads files and checks the listing, the stored content
// and one log record per request.
func TestPutAndList(t *testing.T) {
	RunOnAllConfigs(t, func(t *testing.T, c *TestContext) {
		ctx := context.Background()
		files := map[string][]byte{
			"b.txt": []byte("second\n"),
			"a.txt": []byte("first\n"),
			"c.txt": nil,
		}

		for name, data := range files {
			reply, err := c.Client.Put(ctx, c.WriteLocalFile(name, data))
			require.NoError(t, err, name)
			assert.Equal(t, protocol.Uploaded(name), reply)
		}

		listing, err := c.Client.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Listing 3 file(s):", "a.txt", "b.txt", "c.txt"}, listing.Lines)

		for name, data := range files {
			rc, err := c.Store.Open(ctx, name)
			require.NoError(t, err, name)
			got, err := io.ReadAll(rc)
			_ = rc.Close()
			require.NoError(t, err)
			assert.Equal(t, string(data), string(got), name)
		}

		records := c.WaitForLogRecords(4)
		for _, r := range records[:3] {
			assert.Equal(t, requestlog.KindPut, r.Kind)
		}
		assert.Equal(t, requestlog.KindList, records[3].Kind)
	})
}

// TestPutRejections covers every server-side rejection. Each one is logged
// and leaves the listing unchanged.
func TestPutRejections(t *testing.T) {
	RunOnAllConfigs(t, func(t *testing.T, c *TestContext) {
		ctx := context.Background()

		_, err := c.Client.Put(ctx, c.WriteLocalFile("taken.txt", []byte("original")))
		require.NoError(t, err)

		tests := []struct {
			name string
			file string
			data []byte
			want string
		}{
			{"duplicate", "taken.txt", []byte("replacement"), protocol.AlreadyExists("taken.txt")},
			{"not text", "photo.jpg", []byte("jpeg"), protocol.ErrOnlyText},
			{"hidden", ".secret.txt", []byte("x"), protocol.ErrCannotSave},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := c.Client.Put(ctx, c.WriteLocalFile(tt.file, tt.data))

				var serverErr *client.ServerError
				require.ErrorAs(t, err, &serverErr)
				assert.Equal(t, tt.want, serverErr.Line)
			})
		}

		rc, err := c.Store.Open(ctx, "taken.txt")
		require.NoError(t, err)
		got, _ := io.ReadAll(rc)
		_ = rc.Close()
		assert.Equal(t, "original", string(got), "duplicate put must not overwrite")

		listing, err := c.Client.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"taken.txt"}, listing.Files)

		c.WaitForLogRecords(1 + len(tests) + 1)
	})
}

// TestSizeLimit checks the 64KB boundary end to end. The client refuses
// oversized files itself, so the server limit is probed with a client whose
// own limit is raised.
func TestSizeLimit(t *testing.T) {
	RunOnAllConfigs(t, func(t *testing.T, c *TestContext) {
		ctx := context.Background()
		limit := 64 * 1024

		_, err := c.Client.Put(ctx, c.WriteLocalFile("exact.txt", bytes.Repeat([]byte("a"), limit)))
		require.NoError(t, err)

		_, err = c.Client.Put(ctx, c.WriteLocalFile("local.txt", make([]byte, limit+1)))
		assert.ErrorIs(t, err, client.ErrFileTooLarge)

		loose := client.New(client.Config{Host: "127.0.0.1", Port: c.Port, MaxFileSize: 1 << 20})
		_, err = loose.Put(ctx, c.WriteLocalFile("over.txt", bytes.Repeat([]byte("b"), limit+1)))
		var serverErr *client.ServerError
		require.ErrorAs(t, err, &serverErr)
		assert.Equal(t, protocol.ErrTooLarge, serverErr.Line)

		listing, err := c.Client.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"exact.txt"}, listing.Files)

		// exact put, oversized put, list; the local rejection never connected.
		c.WaitForLogRecords(3)
	})
}
