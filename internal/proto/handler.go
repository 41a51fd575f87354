package proto

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/bamsammich/transdata/internal/event"
	"github.com/bamsammich/transdata/internal/fault"
	"github.com/bamsammich/transdata/internal/lock"
	"github.com/bamsammich/transdata/internal/stats"
	"github.com/bamsammich/transdata/internal/storage"
)

// Recorder persists the outcome of finished sessions.
type Recorder interface {
	Record(ctx context.Context, res Result, err error) error
}

// HandlerConfig configures the receiving side of a session.
type HandlerConfig struct {
	Store   storage.Store
	Locks   *lock.Registry
	Journal Recorder
	Events  chan<- event.Event
	Stats   *stats.Collector
	Root    string
	// Timeout bounds every blocking send and receive. 0 means DefaultTimeout;
	// negative disables.
	Timeout time.Duration
}

// Handler receives one file per connection into Root.
type Handler struct {
	bufs sync.Pool
	cfg  HandlerConfig
}

// NewHandler creates a Handler, filling unset collaborators with local
// defaults.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Store == nil {
		cfg.Store = storage.NewLocal()
	}
	if cfg.Locks == nil {
		cfg.Locks = lock.NewRegistry(cfg.Store)
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}
	switch {
	case cfg.Timeout == 0:
		cfg.Timeout = DefaultTimeout
	case cfg.Timeout < 0:
		cfg.Timeout = 0
	}
	return &Handler{
		cfg: cfg,
		bufs: sync.Pool{New: func() any {
			b := make([]byte, DefaultChunkSize)
			return &b
		}},
	}
}

// Stats returns the collector sessions report into.
func (h *Handler) Stats() *stats.Collector { return h.cfg.Stats }

// Serve runs one session on nc and closes it. The returned error is the
// session's single outcome; the lock taken for the destination is released
// on every path.
func (h *Handler) Serve(ctx context.Context, nc net.Conn) (Result, error) {
	conn := NewConn(nc, h.cfg.Timeout)
	res := Result{
		SessionID: uuid.NewString(),
		Remote:    nc.RemoteAddr().String(),
		Started:   time.Now(),
	}
	h.cfg.Stats.SessionStarted()
	t := newTracker(h.cfg.Events, &res)

	err := h.run(conn, t, &res)
	finish(conn, t, h.cfg.Stats, err)
	conn.Close() //nolint:errcheck // outcome already decided

	if h.cfg.Journal != nil {
		if jerr := h.cfg.Journal.Record(ctx, res, err); jerr != nil {
			slog.Warn("journal record failed", "session", res.SessionID, "error", jerr)
		}
	}
	return res, err
}

func (h *Handler) run(conn *Conn, t *tracker, res *Result) error {
	meta, err := conn.RecvMetadata()
	if err != nil {
		return err
	}
	res.Name = meta.FileName
	if err := checkSize(meta.FileSize); err != nil {
		notify(conn, err)
		return err
	}
	res.Size = int64(meta.FileSize) //nolint:gosec // G115: bounded by checkSize
	h.cfg.Stats.AddBytesTotal(res.Size)
	t.enter(MetadataExchanged)

	dest, err := ResolvePath(h.cfg.Root, meta.FileName)
	if err != nil {
		notify(conn, err)
		return err
	}
	res.Path = dest

	lk, err := h.cfg.Locks.Acquire(dest, res.SessionID)
	if err != nil {
		notify(conn, err)
		return err
	}
	// Released explicitly before the verdict; this covers the early exits.
	defer lk.Release() //nolint:errcheck // an earlier failure is being returned

	f, err := h.cfg.Store.Create(dest)
	if err != nil {
		return fault.New(fault.FileOpenFailed, "open destination", err)
	}
	storage.Preallocate(f, res.Size)
	t.enter(ResourceAcquired)

	if err := conn.SendAck(); err != nil {
		f.Close() //nolint:errcheck // session already failed
		return err
	}

	t.enter(Transferring)
	err = h.receive(conn, f, t, res)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fault.New(fault.Internal, "close destination", cerr)
	}
	if err != nil {
		return err
	}

	verr := h.verify(dest, meta.FileSize)
	rerr := lk.Release()
	if verr != nil {
		notify(conn, verr)
		return verr
	}
	if err := conn.SendAck(); err != nil {
		return err
	}
	t.enter(Verified)
	return rerr
}

// receive copies bulk bytes into f until the peer half-closes.
func (h *Handler) receive(conn *Conn, f storage.WriteFile, t *tracker, res *Result) error {
	bp := h.bufs.Get().(*[]byte) //nolint:forcetypeassert // pool only holds *[]byte
	defer h.bufs.Put(bp)
	buf := *bp

	digest := blake3.New()
	w := io.MultiWriter(f, digest)
	for {
		n, rerr := conn.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return fault.New(fault.Internal, "write destination", err)
			}
			res.Transferred += int64(n)
			h.cfg.Stats.AddBytesTransferred(int64(n))
			t.progress(res.Transferred)
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return rerr
		}
	}

	if err := f.Sync(); err != nil {
		return fault.New(fault.Internal, "sync destination", err)
	}
	res.Digest = hex.EncodeToString(digest.Sum(nil))
	return nil
}

// verify compares the stored length of dest against the advertised size.
func (h *Handler) verify(dest string, want uint64) error {
	got, err := h.cfg.Store.Size(dest)
	if err != nil {
		return fault.New(fault.FileOpenFailed, "stat destination", err)
	}
	if uint64(got) != want { //nolint:gosec // G115: Size never returns a negative length
		return fault.Errorf(fault.SizeMismatch, "verify "+dest,
			"advertised %d bytes, stored %d", want, got)
	}
	return nil
}
