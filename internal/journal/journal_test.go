package journal

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/transdata/internal/fault"
	"github.com/bamsammich/transdata/internal/proto"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "nested", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func result(id string, finished time.Time) proto.Result {
	return proto.Result{
		SessionID:   id,
		Remote:      "127.0.0.1:40000",
		Name:        "a.txt",
		Path:        "/srv/a.txt",
		Digest:      "abc123",
		Size:        5,
		Transferred: 5,
		State:       proto.Closed,
		Started:     finished.Add(-time.Second),
		Finished:    finished,
	}
}

func TestRecordAndRecent(t *testing.T) {
	t.Parallel()

	j := openTemp(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	require.NoError(t, j.Record(ctx, result("one", base), nil))

	failed := result("two", base.Add(time.Minute))
	failed.State = proto.Aborted
	failed.Transferred = 3
	require.NoError(t, j.Record(ctx, failed,
		fault.Errorf(fault.SizeMismatch, "verify", "advertised 5 bytes, stored 3")))

	entries, err := j.Recent(ctx, 10, false)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "two", entries[0].SessionID, "newest first")
	assert.Equal(t, "ABORTED", entries[0].State)
	assert.Equal(t, "size mismatch", entries[0].Kind)
	assert.Contains(t, entries[0].Message, "stored 3")
	assert.False(t, entries[0].OK())

	assert.Equal(t, "one", entries[1].SessionID)
	assert.Equal(t, "ok", entries[1].Kind)
	assert.True(t, entries[1].OK())
	assert.Equal(t, base.UnixNano(), entries[1].Finished.UnixNano())
	assert.Equal(t, "abc123", entries[1].Digest)
}

func TestRecentLimit(t *testing.T) {
	t.Parallel()

	j := openTemp(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	for i := range 5 {
		require.NoError(t, j.Record(ctx, result(fmt.Sprintf("s%d", i), base.Add(time.Duration(i)*time.Second)), nil))
	}

	entries, err := j.Recent(ctx, 2, false)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "s4", entries[0].SessionID)
	assert.Equal(t, "s3", entries[1].SessionID)
}

func TestRecentFailedOnly(t *testing.T) {
	t.Parallel()

	j := openTemp(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	// Two old failures buried under newer successes.
	for i := range 2 {
		failed := result(fmt.Sprintf("f%d", i), base.Add(time.Duration(i)*time.Second))
		failed.State = proto.Aborted
		require.NoError(t, j.Record(ctx, failed,
			fault.Errorf(fault.LockExists, "acquire", "held")))
	}
	for i := range 5 {
		require.NoError(t, j.Record(ctx, result(fmt.Sprintf("s%d", i), base.Add(time.Minute+time.Duration(i)*time.Second)), nil))
	}

	entries, err := j.Recent(ctx, 2, true)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "f1", entries[0].SessionID)
	assert.Equal(t, "f0", entries[1].SessionID)
	for _, e := range entries {
		assert.False(t, e.OK())
	}

	entries, err = j.Recent(ctx, 2, false)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "s4", entries[0].SessionID)
}

func TestOpenAppliesPragmas(t *testing.T) {
	t.Parallel()

	j := openTemp(t)
	ctx := context.Background()

	var mode string
	require.NoError(t, j.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, j.db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestBatchFlushesAtThreshold(t *testing.T) {
	t.Parallel()

	j := openTemp(t)
	ctx := context.Background()
	for i := range flushAtLength {
		require.NoError(t, j.Record(ctx, result(fmt.Sprintf("b%03d", i), time.Now()), nil))
	}

	j.mu.Lock()
	pending := len(j.batch)
	j.mu.Unlock()
	assert.Zero(t, pending)
}

func TestReopenKeepsEntries(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Record(context.Background(), result("persist", time.Now()), nil))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	assert.Equal(t, path, j.Path())

	entries, err := j.Recent(context.Background(), 10, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "persist", entries[0].SessionID)
}

func TestRecordAfterClose(t *testing.T) {
	t.Parallel()

	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	require.NoError(t, j.Close())
	assert.Error(t, j.Record(context.Background(), result("late", time.Now()), nil))
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/state")
	assert.Equal(t, "/state/transdata/journal.db", DefaultPath())
}
