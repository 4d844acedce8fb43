package snapshot

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dealnews-crawler/internal/storage/memory"
)

func TestFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
		want string
	}{
		{"https", "https://www.dealnews.com/c142/Electronics/", "www.dealnews.com_c142_Electronics_.html"},
		{"http with query", "http://www.dealnews.com/d/1?dealid=9&recid=2", "www.dealnews.com_d_1_dealid_9_recid_2.html"},
		{"empty", "", "unknown.html"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Filename(tc.url))
		})
	}
}

func TestFilenameCapsLongURLs(t *testing.T) {
	t.Parallel()

	base := "https://www.dealnews.com/" + strings.Repeat("a", 300)
	a := Filename(base + "1")
	b := Filename(base + "2")
	assert.Len(t, a, maxNameLen+len(".html"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Filename(base+"1"))
}

func TestPersistWritesAsynchronously(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	s := New(blobs, Config{Enabled: true, Buffer: 4}, nil)
	require.True(t, s.Enabled())

	s.Persist(context.Background(), "https://www.dealnews.com/d/1", []byte("<html>1</html>"))
	s.Close()

	got, ok := blobs.Get("www.dealnews.com_d_1.html")
	require.True(t, ok)
	assert.Equal(t, "<html>1</html>", string(got))

	// Persist after Close is ignored.
	s.Persist(context.Background(), "https://www.dealnews.com/d/2", []byte("x"))
	s.Close()
	assert.Len(t, blobs.Paths(), 1)
}

func TestPersistDisabledIsNoop(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	s := New(blobs, Config{Enabled: false}, nil)
	assert.False(t, s.Enabled())
	s.Persist(context.Background(), "https://www.dealnews.com/d/1", []byte("x"))
	s.Close()
	assert.Empty(t, blobs.Paths())
}

type blockingBlobs struct {
	release chan struct{}
	mu      sync.Mutex
	paths   []string
}

func (b *blockingBlobs) PutObject(_ context.Context, path string, _ string, _ io.Reader) (string, error) {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paths = append(b.paths, path)
	return "mem://" + path, nil
}

func TestPersistDropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	blobs := &blockingBlobs{release: make(chan struct{})}
	s := New(blobs, Config{Enabled: true, Buffer: 1}, nil)

	// One job is picked up by the writer and blocks, one fills the buffer,
	// everything after that is dropped without blocking the caller.
	for i := range 10 {
		s.Persist(context.Background(), "https://x/d/"+string(rune('a'+i)), []byte("x"))
	}
	close(blobs.release)
	s.Close()

	assert.LessOrEqual(t, len(blobs.paths), 2)
	assert.NotEmpty(t, blobs.paths)
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("disk full")
}

func TestWriteFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	s := New(failingBlobs{}, Config{Enabled: true}, nil)
	s.Persist(context.Background(), "https://x/d/1", []byte("x"))
	s.Close()
}
