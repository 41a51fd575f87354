package proto

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bamsammich/transdata/internal/fault"
)

// readBufferSize covers the largest record so a peek never blocks on buffer space.
const readBufferSize = 32 * 1024

// ErrPeerClosed is the cause of a ReceiveFailed failure when the peer ended
// the stream before a complete record arrived.
var ErrPeerClosed = errors.New("peer closed connection")

// Conn wraps a byte-stream connection with the send/receive discipline of a
// session. Every blocking call is bounded by the configured timeout; a zero
// timeout blocks indefinitely.
type Conn struct {
	nc        net.Conn
	r         *bufio.Reader
	closeErr  error
	timeout   time.Duration
	closeOnce sync.Once
}

// NewConn wraps nc. timeout bounds each individual send and receive call.
func NewConn(nc net.Conn, timeout time.Duration) *Conn {
	return &Conn{
		nc:      nc,
		r:       bufio.NewReaderSize(nc, readBufferSize),
		timeout: timeout,
	}
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// SendAll writes all of p, looping over partial writes. Interrupted writes are
// retried; any other failure is final.
func (c *Conn) SendAll(p []byte) error {
	for len(p) > 0 {
		if c.timeout > 0 {
			if err := c.nc.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
				return fault.New(fault.SendFailed, "send", err)
			}
		}
		n, err := c.nc.Write(p)
		p = p[n:]
		if err == nil || interrupted(err) {
			continue
		}
		if isTimeout(err) {
			return fault.New(fault.Timeout, "send", err)
		}
		return fault.New(fault.SendFailed, "send", err)
	}
	return nil
}

// RecvExact receives exactly n bytes. The failure distinguishes a peer that
// closed early (ReceiveFailed wrapping ErrPeerClosed), an elapsed timeout
// (Timeout) and any other transport error (ReceiveFailed).
func (c *Conn) RecvExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		if err := c.armRead(); err != nil {
			return nil, err
		}
		m, err := c.r.Read(buf[got:])
		got += m
		if got == n || err == nil || interrupted(err) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil, fault.New(fault.ReceiveFailed, "recv",
				fmt.Errorf("%w after %d of %d bytes", ErrPeerClosed, got, n))
		}
		return nil, c.recvFailure(err)
	}
	return buf, nil
}

// Peek returns the next byte without consuming it.
func (c *Conn) Peek() (byte, error) {
	for {
		if err := c.armRead(); err != nil {
			return 0, err
		}
		b, err := c.r.Peek(1)
		if err == nil {
			return b[0], nil
		}
		if interrupted(err) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return 0, fault.New(fault.ReceiveFailed, "peek", ErrPeerClosed)
		}
		return 0, c.recvFailure(err)
	}
}

// Read reads bulk transfer bytes. It returns io.EOF unwrapped when the peer
// half-closes its write side; other failures are classified like RecvExact.
func (c *Conn) Read(p []byte) (int, error) {
	for {
		if err := c.armRead(); err != nil {
			return 0, err
		}
		n, err := c.r.Read(p)
		if err == nil || errors.Is(err, io.EOF) {
			return n, err
		}
		if interrupted(err) {
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, c.recvFailure(err)
	}
}

// SendMetadata sends a metadata record.
func (c *Conn) SendMetadata(m Metadata) error { return c.SendAll(EncodeMetadata(m)) }

// SendAck sends an acknowledgment record.
func (c *Conn) SendAck() error { return c.SendAll(EncodeAck()) }

// SendError sends an error record carrying msg.
func (c *Conn) SendError(msg string) error { return c.SendAll(EncodeError(msg)) }

// RecvMetadata receives and decodes a metadata record.
func (c *Conn) RecvMetadata() (Metadata, error) {
	b, err := c.RecvExact(MetadataSize)
	if err != nil {
		return Metadata{}, err
	}
	m, err := DecodeMetadata(b)
	if err != nil {
		return Metadata{}, fault.New(fault.ReceiveFailed, "recv metadata", err)
	}
	return m, nil
}

// RecvAck receives an acknowledgment record.
func (c *Conn) RecvAck() error {
	b, err := c.RecvExact(AckSize)
	if err != nil {
		return err
	}
	if err := DecodeAck(b); err != nil {
		return fault.New(fault.ReceiveFailed, "recv ack", err)
	}
	return nil
}

// RecvError receives and decodes an error record.
func (c *Conn) RecvError() (ErrorRecord, error) {
	b, err := c.RecvExact(ErrorSize)
	if err != nil {
		return ErrorRecord{}, err
	}
	rec, err := DecodeError(b)
	if err != nil {
		return ErrorRecord{}, fault.New(fault.ReceiveFailed, "recv error record", err)
	}
	return rec, nil
}

// CloseWrite half-closes the connection: the peer observes end-of-data while
// this side can still receive.
func (c *Conn) CloseWrite() error {
	cw, ok := c.nc.(interface{ CloseWrite() error })
	if !ok {
		return fault.Errorf(fault.Internal, "close write", "%T does not support half-close", c.nc)
	}
	if err := cw.CloseWrite(); err != nil {
		return fault.New(fault.Internal, "close write", err)
	}
	return nil
}

// Abort closes the connection abortively: unsent data is discarded and the
// peer observes a reset instead of an orderly end-of-stream.
func (c *Conn) Abort() error {
	lerr := setAbortiveLinger(c.nc)
	cerr := c.Close()
	if lerr != nil {
		return fault.New(fault.Internal, "abort", lerr)
	}
	return cerr
}

// Close closes the connection. Later calls return the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}

func (c *Conn) armRead() error {
	if c.timeout <= 0 {
		return nil
	}
	if err := c.nc.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return fault.New(fault.ReceiveFailed, "recv", err)
	}
	return nil
}

func (*Conn) recvFailure(err error) error {
	if isTimeout(err) {
		return fault.New(fault.Timeout, "recv", err)
	}
	return fault.New(fault.ReceiveFailed, "recv", err)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
