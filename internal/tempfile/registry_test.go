package tempfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(filepath.Join(t.TempDir(), "scratch"))
	require.NoError(t, err)
	return reg
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
}

func TestAcquireReservesPathInsideJobDir(t *testing.T) {
	reg := newRegistry(t)

	h1, err := reg.Acquire("job-a", "../../etc/photo.jpg")
	require.NoError(t, err)
	h2, err := reg.Acquire("job-a", "photo.jpg")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(reg.Root(), "job-a"), filepath.Dir(h1.Path()))
	assert.Equal(t, ".jpg", filepath.Ext(h1.Path()))
	assert.NotEqual(t, h1.Path(), h2.Path())
	assert.NoFileExists(t, h1.Path())
	assert.ElementsMatch(t, []string{h1.Path(), h2.Path()}, reg.Paths("job-a"))
}

func TestAcquireRejectsBadJobID(t *testing.T) {
	reg := newRegistry(t)

	_, err := reg.Acquire("", "a")
	assert.ErrorIs(t, err, ErrJobIDRequired)

	_, err = reg.Acquire("../escape", "a")
	assert.ErrorIs(t, err, ErrInvalidJobID)

	assert.ErrorIs(t, reg.ReleaseAll(".."), ErrInvalidJobID)
}

func TestReleaseAllRemovesFilesAndIsIdempotent(t *testing.T) {
	reg := newRegistry(t)

	h, err := reg.Acquire("job-a", "in.txt")
	require.NoError(t, err)
	touch(t, h.Path())

	_, err = reg.Acquire("job-a", "never-created.txt")
	require.NoError(t, err)

	require.NoError(t, reg.ReleaseAll("job-a"))
	assert.NoFileExists(t, h.Path())
	assert.NoDirExists(t, filepath.Join(reg.Root(), "job-a"))
	assert.Empty(t, reg.Jobs())

	require.NoError(t, reg.ReleaseAll("job-a"))
	require.NoError(t, reg.ReleaseAll("unknown-job"))
}

func TestReleaseAllLeavesOtherJobsAlone(t *testing.T) {
	reg := newRegistry(t)

	a, err := reg.Acquire("job-a", "a.txt")
	require.NoError(t, err)
	b, err := reg.Acquire("job-b", "b.txt")
	require.NoError(t, err)
	touch(t, a.Path())
	touch(t, b.Path())

	require.NoError(t, reg.ReleaseAll("job-a"))

	assert.NoFileExists(t, a.Path())
	assert.FileExists(t, b.Path())
	assert.Equal(t, []string{"job-b"}, reg.Jobs())
}

func TestHandleRelease(t *testing.T) {
	reg := newRegistry(t)

	h, err := reg.Acquire("job-a", "a.txt")
	require.NoError(t, err)
	touch(t, h.Path())

	require.NoError(t, h.Release())
	require.NoError(t, h.Release())
	assert.NoFileExists(t, h.Path())
	assert.Empty(t, reg.Paths("job-a"))

	require.NoError(t, reg.ReleaseAll("job-a"))
}

func TestArenaCloseOnPanicPath(t *testing.T) {
	reg := newRegistry(t)
	var path string

	func() {
		defer func() { _ = recover() }()
		arena := reg.Open("job-panic")
		defer arena.Close()

		h, err := arena.Acquire("a.bin")
		require.NoError(t, err)
		path = h.Path()
		touch(t, path)
		panic("stage blew up")
	}()

	assert.NoFileExists(t, path)
	assert.Empty(t, reg.Jobs())
}

func TestConcurrentJobsAreIsolated(t *testing.T) {
	reg := newRegistry(t)
	const jobs = 16

	var wg sync.WaitGroup
	survivors := make([]string, jobs)
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("job-%d", i)
			arena := reg.Open(id)

			h, err := arena.Acquire("data.bin")
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, os.WriteFile(h.Path(), []byte(id), 0o600))

			if i%2 == 0 {
				assert.NoError(t, arena.Close())
				return
			}
			survivors[i] = h.Path()
		}(i)
	}
	wg.Wait()

	for i, p := range survivors {
		if i%2 == 0 {
			continue
		}
		got, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("job-%d", i), string(got))
	}
	assert.Len(t, reg.Jobs(), jobs/2)
}

func TestSweepRemovesStaleUntrackedDirs(t *testing.T) {
	reg := newRegistry(t)

	stale := filepath.Join(reg.Root(), "crashed-job")
	require.NoError(t, os.MkdirAll(stale, 0o700))
	touch(t, filepath.Join(stale, "1-in.jpg"))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	live, err := reg.Acquire("live-job", "in.jpg")
	require.NoError(t, err)
	touch(t, live.Path())
	liveDir := filepath.Dir(live.Path())
	require.NoError(t, os.Chtimes(liveDir, old, old))

	removed, err := reg.Sweep(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoDirExists(t, stale)
	assert.FileExists(t, live.Path())
}
