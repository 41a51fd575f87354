package proto

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/transdata/internal/event"
	"github.com/bamsammich/transdata/internal/fault"
	"github.com/bamsammich/transdata/internal/lock"
	"github.com/bamsammich/transdata/internal/stats"
	"github.com/bamsammich/transdata/internal/storage"
)

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, aerr := ln.Accept()
		if aerr != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server, ok := <-accepted
	require.True(t, ok, "accept failed")
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

type served struct {
	err error
	res Result
}

// serveAsync runs one handler session on a fresh loopback connection and
// returns the client end wrapped as a Conn.
func serveAsync(t *testing.T, h *Handler) (*Conn, <-chan served) {
	t.Helper()
	client, server := tcpPair(t)
	done := make(chan served, 1)
	go func() {
		res, err := h.Serve(context.Background(), server)
		done <- served{res: res, err: err}
	}()
	return NewConn(client, 5*time.Second), done
}

func wait(t *testing.T, done <-chan served) served {
	t.Helper()
	select {
	case s := <-done:
		return s
	case <-time.After(10 * time.Second):
		t.Fatal("session did not finish")
		return served{}
	}
}

func newTestHandler(t *testing.T, root string) *Handler {
	t.Helper()
	return NewHandler(HandlerConfig{Root: root, Timeout: 5 * time.Second})
}

// push drives the client side of a session by hand.
func push(t *testing.T, c *Conn, name string, advertised uint64, body []byte) {
	t.Helper()
	require.NoError(t, c.SendMetadata(Metadata{FileName: name, FileSize: advertised}))
	require.NoError(t, c.RecvAck())
	require.NoError(t, c.SendAll(body))
	require.NoError(t, c.CloseWrite())
}

func expectErrorRecord(t *testing.T, c *Conn, msg string) {
	t.Helper()
	tag, err := c.Peek()
	require.NoError(t, err)
	require.Equal(t, TagError, tag)
	rec, err := c.RecvError()
	require.NoError(t, err)
	assert.Equal(t, msg, rec.Message)

	// Nothing follows the error record.
	_, err = c.RecvExact(1)
	assert.ErrorIs(t, err, ErrPeerClosed)
}

func TestHandlerHappyPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	h := newTestHandler(t, root)
	c, done := serveAsync(t, h)

	push(t, c, "a.txt", 5, []byte("hello"))
	require.NoError(t, c.RecvAck())

	s := wait(t, done)
	require.NoError(t, s.err)
	assert.Equal(t, Closed, s.res.State)
	assert.Equal(t, "a.txt", s.res.Name)
	assert.Equal(t, filepath.Join(root, "a.txt"), s.res.Path)
	assert.Equal(t, int64(5), s.res.Size)
	assert.Equal(t, int64(5), s.res.Transferred)
	assert.Len(t, s.res.Digest, 64)

	got, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.NoFileExists(t, lock.PathFor(filepath.Join(root, "a.txt")))

	snap := h.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.SessionsCompleted)
	assert.Equal(t, int64(0), snap.SessionsActive)
}

func TestHandlerEmptyFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	c, done := serveAsync(t, newTestHandler(t, root))

	push(t, c, "empty", 0, nil)
	require.NoError(t, c.RecvAck())
	require.NoError(t, wait(t, done).err)

	info, err := os.Stat(filepath.Join(root, "empty"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestHandlerTruncatesExisting(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dest := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(dest, []byte("a much longer previous body"), 0o644))

	c, done := serveAsync(t, newTestHandler(t, root))
	push(t, c, "a.txt", 3, []byte("new"))
	require.NoError(t, c.RecvAck())
	require.NoError(t, wait(t, done).err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestHandlerSizeMismatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		advertised uint64
	}{
		{"short by one", "hello", 6},
		{"long by one", "hello", 4},
		{"nothing sent", "", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			root := t.TempDir()
			h := newTestHandler(t, root)
			c, done := serveAsync(t, h)

			push(t, c, "m.bin", tt.advertised, []byte(tt.body))
			expectErrorRecord(t, c, MsgSizeMismatch)

			s := wait(t, done)
			assert.True(t, fault.Is(s.err, fault.SizeMismatch), "got %v", s.err)
			assert.Equal(t, Aborted, s.res.State)
			assert.NoFileExists(t, lock.PathFor(filepath.Join(root, "m.bin")))
			assert.Equal(t, int64(1), h.Stats().Snapshot().SizeMismatches)
		})
	}
}

func TestHandlerLockConflict(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := storage.NewLocal()
	locks := lock.NewRegistry(store)
	h := NewHandler(HandlerConfig{Root: root, Store: store, Locks: locks, Timeout: 5 * time.Second})

	dest := filepath.Join(root, "b.txt")
	held, err := locks.Acquire(dest, "other")
	require.NoError(t, err)

	c, done := serveAsync(t, h)
	require.NoError(t, c.SendMetadata(Metadata{FileName: "b.txt", FileSize: 3}))
	expectErrorRecord(t, c, MsgLockExists)

	s := wait(t, done)
	assert.True(t, fault.Is(s.err, fault.LockExists), "got %v", s.err)
	assert.Equal(t, Aborted, s.res.State)
	assert.NoFileExists(t, dest, "loser must not create the destination")
	assert.FileExists(t, lock.PathFor(dest), "loser must not remove the winner's lock")
	assert.Equal(t, int64(1), h.Stats().Snapshot().LockConflicts)

	require.NoError(t, held.Release())
}

func TestHandlerStaleLockOnDisk(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dest := filepath.Join(root, "b.txt")
	require.NoError(t, os.WriteFile(lock.PathFor(dest), []byte("1 crashed"), 0o644))

	c, done := serveAsync(t, newTestHandler(t, root))
	require.NoError(t, c.SendMetadata(Metadata{FileName: "b.txt", FileSize: 3}))
	expectErrorRecord(t, c, MsgLockExists)

	s := wait(t, done)
	assert.True(t, fault.Is(s.err, fault.LockExists))
	assert.FileExists(t, lock.PathFor(dest))
}

func TestHandlerRejectsBadNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		file string
	}{
		{"parent", ".."},
		{"traversal", "../escape"},
		{"nested", "dir/file"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			parent := t.TempDir()
			root := filepath.Join(parent, "root")
			require.NoError(t, os.Mkdir(root, 0o755))

			c, done := serveAsync(t, newTestHandler(t, root))
			require.NoError(t, c.SendMetadata(Metadata{FileName: tt.file, FileSize: 1}))
			expectErrorRecord(t, c, MsgInvalidName)

			s := wait(t, done)
			assert.True(t, fault.Is(s.err, fault.ArgumentInvalid), "got %v", s.err)
			assert.NoFileExists(t, filepath.Join(parent, "escape"))
			entries, err := os.ReadDir(root)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestHandlerRejectsOversizedSize(t *testing.T) {
	t.Parallel()

	c, done := serveAsync(t, newTestHandler(t, t.TempDir()))
	require.NoError(t, c.SendMetadata(Metadata{FileName: "big", FileSize: 1 << 63}))
	expectErrorRecord(t, c, MsgInvalidSize)
	assert.True(t, fault.Is(wait(t, done).err, fault.ArgumentInvalid))
}

func TestHandlerTimeoutAborts(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	h := NewHandler(HandlerConfig{Root: root, Timeout: 100 * time.Millisecond})
	client, server := tcpPair(t)

	done := make(chan served, 1)
	start := time.Now()
	go func() {
		res, err := h.Serve(context.Background(), server)
		done <- served{res: res, err: err}
	}()

	s := wait(t, done)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, fault.Is(s.err, fault.Timeout), "got %v", s.err)
	assert.Equal(t, Aborted, s.res.State)
	assert.Equal(t, int64(1), h.Stats().Snapshot().Timeouts)

	// The idle client observes a reset, not an orderly close.
	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := client.Read(make([]byte, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, syscall.ECONNRESET), "got %v", err)
}

func TestHandlerTimeoutDuringTransferReleasesLock(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	h := NewHandler(HandlerConfig{Root: root, Timeout: 150 * time.Millisecond})
	client, server := tcpPair(t)
	c := NewConn(client, 5*time.Second)

	done := make(chan served, 1)
	go func() {
		res, err := h.Serve(context.Background(), server)
		done <- served{res: res, err: err}
	}()

	require.NoError(t, c.SendMetadata(Metadata{FileName: "slow", FileSize: 10}))
	require.NoError(t, c.RecvAck())
	require.NoError(t, c.SendAll([]byte("abc")))

	s := wait(t, done)
	assert.True(t, fault.Is(s.err, fault.Timeout), "got %v", s.err)
	assert.Equal(t, int64(3), s.res.Transferred)
	assert.NoFileExists(t, lock.PathFor(filepath.Join(root, "slow")))
	assert.Zero(t, h.cfg.Locks.Held())
}

func TestHandlerPeerClosedMidRecord(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	h := newTestHandler(t, root)
	client, server := tcpPair(t)

	done := make(chan served, 1)
	go func() {
		res, err := h.Serve(context.Background(), server)
		done <- served{res: res, err: err}
	}()

	_, err := client.Write(EncodeMetadata(Metadata{FileName: "x", FileSize: 1})[:10])
	require.NoError(t, err)
	require.NoError(t, client.Close())

	s := wait(t, done)
	assert.True(t, fault.Is(s.err, fault.ReceiveFailed), "got %v", s.err)
	assert.ErrorIs(t, s.err, ErrPeerClosed)
	assert.Equal(t, Aborted, s.res.State)
}

type memRecorder struct {
	errs    []error
	results []Result
	mu      sync.Mutex
}

func (m *memRecorder) Record(_ context.Context, res Result, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, res)
	m.errs = append(m.errs, err)
	return nil
}

func TestHandlerRecordsJournalAndEvents(t *testing.T) {
	t.Parallel()

	rec := &memRecorder{}
	events := make(chan event.Event, 64)
	h := NewHandler(HandlerConfig{
		Root:    t.TempDir(),
		Journal: rec,
		Events:  events,
		Stats:   stats.NewCollector(),
		Timeout: 5 * time.Second,
	})

	c, done := serveAsync(t, h)
	push(t, c, "j.txt", 2, []byte("ok"))
	require.NoError(t, c.RecvAck())
	s := wait(t, done)
	require.NoError(t, s.err)

	rec.mu.Lock()
	require.Len(t, rec.results, 1)
	assert.Equal(t, s.res.SessionID, rec.results[0].SessionID)
	assert.NoError(t, rec.errs[0])
	assert.False(t, rec.results[0].Finished.Before(rec.results[0].Started))
	rec.mu.Unlock()

	close(events)
	var states []string
	var types []event.Type
	for ev := range events {
		types = append(types, ev.Type)
		if ev.Type == event.StateChanged {
			states = append(states, ev.State)
		}
		assert.Equal(t, s.res.SessionID, ev.SessionID)
	}
	assert.Equal(t, []string{
		"METADATA_EXCHANGED", "RESOURCE_ACQUIRED", "TRANSFERRING", "VERIFIED", "CLOSED",
	}, states)
	assert.Equal(t, event.SessionStarted, types[0])
	assert.Equal(t, event.SessionCompleted, types[len(types)-1])
}

func TestHandlerTerminalEventSurvivesFullChannel(t *testing.T) {
	t.Parallel()

	// One slot, nobody reading: everything after SessionStarted is dropped
	// except the terminal event, which waits for the reader.
	events := make(chan event.Event, 1)
	h := NewHandler(HandlerConfig{
		Root:    t.TempDir(),
		Events:  events,
		Stats:   stats.NewCollector(),
		Timeout: 5 * time.Second,
	})

	c, done := serveAsync(t, h)
	push(t, c, "full.txt", 4, []byte("abcd"))
	require.NoError(t, c.RecvAck())

	assert.Equal(t, event.SessionStarted, (<-events).Type)
	var got event.Event
	deadline := time.After(5 * time.Second)
	for got.Type != event.SessionCompleted {
		select {
		case got = <-events:
		case <-deadline:
			t.Fatal("terminal event was not delivered")
		}
	}
	assert.Equal(t, "full.txt", filepath.Base(got.Path))
	require.NoError(t, wait(t, done).err)
}

type failingCreate struct {
	*storage.Local
}

func (failingCreate) Create(string) (storage.WriteFile, error) {
	return nil, os.ErrPermission
}

func TestHandlerDestinationOpenFailure(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := failingCreate{storage.NewLocal()}
	h := NewHandler(HandlerConfig{Root: root, Store: store, Timeout: 5 * time.Second})

	c, done := serveAsync(t, h)
	require.NoError(t, c.SendMetadata(Metadata{FileName: "a", FileSize: 1}))

	// Local failures are not reported to the peer; the connection just ends.
	_, err := c.Peek()
	assert.ErrorIs(t, err, ErrPeerClosed)

	s := wait(t, done)
	assert.True(t, fault.Is(s.err, fault.FileOpenFailed), "got %v", s.err)
	assert.ErrorIs(t, s.err, os.ErrPermission)
	assert.NoFileExists(t, lock.PathFor(filepath.Join(root, "a")))
}
