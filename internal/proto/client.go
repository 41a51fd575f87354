package proto

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"golang.org/x/time/rate"

	"github.com/bamsammich/transdata/internal/event"
	"github.com/bamsammich/transdata/internal/fault"
	"github.com/bamsammich/transdata/internal/stats"
	"github.com/bamsammich/transdata/internal/storage"
)

const (
	// DefaultTimeout bounds every blocking send and receive.
	DefaultTimeout = 20 * time.Second
	// DefaultChunkSize is the bulk-phase read size.
	DefaultChunkSize = 32 * 1024
)

// ClientConfig configures a push session.
type ClientConfig struct {
	Store   storage.Store      // defaults to the local filesystem
	Events  chan<- event.Event // optional
	Stats   *stats.Collector   // optional
	Limiter *rate.Limiter      // optional bandwidth cap on the bulk phase
	Addr    string             // host:port of the daemon
	Timeout time.Duration      // 0 means DefaultTimeout; negative disables
	Chunk   int                // bulk read size; 0 means DefaultChunkSize
}

// Send pushes the file at src to the daemon at cfg.Addr. Only the base name
// of src is sent. Cancelling ctx resets the connection.
//
// A rejection by the daemon is returned as a failure for which
// fault.IsRemote reports true; its kind tells a lock conflict apart from a
// failed verification.
func Send(ctx context.Context, cfg ClientConfig, src string) (Result, error) {
	if cfg.Store == nil {
		cfg.Store = storage.NewLocal()
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
	if cfg.Chunk <= 0 {
		cfg.Chunk = DefaultChunkSize
	}

	res := Result{
		SessionID: uuid.NewString(),
		Remote:    cfg.Addr,
		Name:      filepath.Base(src),
		Started:   time.Now(),
	}
	cfg.Stats.SessionStarted()
	s := &clientSession{cfg: cfg, res: &res, t: newTracker(cfg.Events, &res)}

	err := s.run(ctx, src)
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %w", err, context.Cause(ctx))
	}
	finish(s.conn, s.t, cfg.Stats, err)
	if s.conn != nil {
		s.conn.Close() //nolint:errcheck // outcome already decided
	}
	return res, err
}

type clientSession struct {
	conn *Conn
	res  *Result
	t    *tracker
	cfg  ClientConfig
}

func (s *clientSession) run(ctx context.Context, src string) error {
	if err := ValidateName(s.res.Name); err != nil {
		return err
	}

	f, err := s.cfg.Store.OpenRead(src)
	if err != nil {
		return fault.New(fault.FileOpenFailed, "open source", err)
	}
	defer f.Close()

	size, err := s.cfg.Store.Size(src)
	if err != nil {
		return fault.New(fault.FileOpenFailed, "stat source", err)
	}
	s.res.Size = size
	s.cfg.Stats.AddBytesTotal(size)

	dialer := net.Dialer{Timeout: s.cfg.Timeout}
	nc, err := dialer.DialContext(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fault.New(fault.ConnectFailed, "dial "+s.cfg.Addr, err)
	}
	s.conn = NewConn(nc, s.cfg.Timeout)
	s.res.Remote = nc.RemoteAddr().String()

	stop := context.AfterFunc(ctx, func() {
		s.conn.Abort() //nolint:errcheck // surfaced by the blocked call
	})
	defer stop()

	if err := s.conn.SendMetadata(Metadata{
		FileName: s.res.Name,
		FileSize: uint64(size), //nolint:gosec // G115: Size never returns a negative length
	}); err != nil {
		return err
	}
	s.t.enter(MetadataExchanged)

	if err := s.awaitVerdict("await ack", fault.LockExists); err != nil {
		return err
	}
	s.t.enter(ResourceAcquired)

	s.t.enter(Transferring)
	if err := s.stream(ctx, f); err != nil {
		return err
	}
	if err := s.conn.CloseWrite(); err != nil {
		return err
	}

	if err := s.awaitVerdict("await verification", fault.SizeMismatch); err != nil {
		return err
	}
	s.t.enter(Verified)
	return nil
}

// awaitVerdict classifies the next record by its tag. An error record is
// interpreted by its message, falling back to rejected.
func (s *clientSession) awaitVerdict(op string, rejected fault.Kind) error {
	tag, err := s.conn.Peek()
	if err != nil {
		return err
	}
	switch tag {
	case TagAck:
		return s.conn.RecvAck()
	case TagError:
		rec, err := s.conn.RecvError()
		if err != nil {
			return err
		}
		return fault.Remote(remoteKind(rec.Message, rejected), op, rec.Message)
	default:
		return fault.Errorf(fault.ReceiveFailed, op, "unexpected record tag %q", tag)
	}
}

// stream sends the file body in chunks and records its digest.
func (s *clientSession) stream(ctx context.Context, f io.Reader) error {
	h := blake3.New()
	var r io.Reader = io.TeeReader(f, h)
	if s.cfg.Limiter != nil {
		r = newRateLimitedReader(ctx, r, s.cfg.Limiter)
	}

	buf := make([]byte, s.cfg.Chunk)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if err := s.conn.SendAll(buf[:n]); err != nil {
				return err
			}
			s.res.Transferred += int64(n)
			s.cfg.Stats.AddBytesTransferred(int64(n))
			s.t.progress(s.res.Transferred)
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return fault.New(fault.Internal, "read source", rerr)
		}
	}

	s.res.Digest = hex.EncodeToString(h.Sum(nil))
	return nil
}
