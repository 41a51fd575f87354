package lock_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/transdata/internal/fault"
	"github.com/bamsammich/transdata/internal/lock"
	"github.com/bamsammich/transdata/internal/storage"
)

func TestAcquireRelease(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dest := filepath.Join(dir, "a.txt")
	reg := lock.NewRegistry(storage.NewLocal())

	l, err := reg.Acquire(dest, "session-1")
	require.NoError(t, err)
	assert.Equal(t, dest+".lock", l.Path())
	assert.FileExists(t, l.Path())
	assert.Equal(t, 1, reg.Held())

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "session-1")

	require.NoError(t, l.Release())
	assert.NoFileExists(t, l.Path())
	assert.Equal(t, 0, reg.Held())

	// Second release is a no-op.
	require.NoError(t, l.Release())
}

func TestAcquireConflictInProcess(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "b.txt")
	reg := lock.NewRegistry(storage.NewLocal())

	l, err := reg.Acquire(dest, "first")
	require.NoError(t, err)
	defer l.Release() //nolint:errcheck // test cleanup

	_, err = reg.Acquire(dest, "second")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.LockExists))
	assert.ErrorIs(t, err, lock.ErrExists)
}

func TestAcquireConflictOnDisk(t *testing.T) {
	t.Parallel()

	// A marker left by another process (or a crashed one) blocks acquisition.
	dest := filepath.Join(t.TempDir(), "c.txt")
	require.NoError(t, os.WriteFile(lock.PathFor(dest), nil, 0o644))

	reg := lock.NewRegistry(storage.NewLocal())
	_, err := reg.Acquire(dest, "x")
	assert.True(t, fault.Is(err, fault.LockExists))
	assert.Equal(t, 0, reg.Held())
	assert.FileExists(t, lock.PathFor(dest))
}

func TestAcquireCreateFailure(t *testing.T) {
	t.Parallel()

	// Parent directory does not exist.
	dest := filepath.Join(t.TempDir(), "missing", "d.txt")
	reg := lock.NewRegistry(storage.NewLocal())

	_, err := reg.Acquire(dest, "x")
	assert.True(t, fault.Is(err, fault.LockCreateFailed))
	assert.Equal(t, 0, reg.Held())
}

func TestReleaseRemoveFailure(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "e.txt")
	store := &failingRemove{Local: storage.NewLocal()}
	reg := lock.NewRegistry(store)

	l, err := reg.Acquire(dest, "x")
	require.NoError(t, err)

	err = l.Release()
	assert.True(t, fault.Is(err, fault.LockRemoveFailed))
	// The in-memory entry is dropped regardless.
	assert.Equal(t, 0, reg.Held())
}

func TestAcquireExclusiveUnderContention(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dest := filepath.Join(dir, "contended.bin")

	// Two registries model two independent processes sharing the directory.
	regs := []*lock.Registry{
		lock.NewRegistry(storage.NewLocal()),
		lock.NewRegistry(storage.NewLocal()),
	}

	const racers = 32
	var winners atomic.Int32
	var conflicts atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	held := make(chan *lock.Lock, racers)

	for i := range racers {
		reg := regs[i%len(regs)]
		wg.Go(func() {
			<-start
			l, err := reg.Acquire(dest, "racer")
			if err != nil {
				if fault.Is(err, fault.LockExists) {
					conflicts.Add(1)
				}
				return
			}
			winners.Add(1)
			held <- l
		})
	}
	close(start)
	wg.Wait()
	close(held)

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(racers-1), conflicts.Load())

	for l := range held {
		require.NoError(t, l.Release())
	}
	assert.NoFileExists(t, lock.PathFor(dest))
}

type failingRemove struct {
	*storage.Local
}

func (*failingRemove) Remove(string) error { return errors.New("read-only filesystem") }
