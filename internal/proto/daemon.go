package proto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bamsammich/transdata/internal/event"
	"github.com/bamsammich/transdata/internal/fault"
	"github.com/bamsammich/transdata/internal/lock"
	"github.com/bamsammich/transdata/internal/stats"
	"github.com/bamsammich/transdata/internal/storage"
)

// DefaultDrainTimeout is how long in-flight sessions may run after shutdown
// begins before their connections are closed.
const DefaultDrainTimeout = 30 * time.Second

// DaemonConfig configures a transdata daemon.
type DaemonConfig struct {
	Store      storage.Store
	Journal    Recorder
	Events     chan<- event.Event
	Stats      *stats.Collector
	ListenAddr string
	// Root is the destination directory. Defaults to the working directory.
	Root    string
	Timeout time.Duration
	// DrainTimeout defaults to DefaultDrainTimeout.
	DrainTimeout time.Duration
	// MaxSessions caps concurrent sessions. When reached, the accept loop
	// waits for a session to finish. Zero means unbounded.
	MaxSessions int64
}

// Daemon accepts connections and runs one receiving session per connection.
type Daemon struct {
	listener net.Listener
	handler  *Handler
	sem      *semaphore.Weighted
	conns    map[net.Conn]struct{}
	cfg      DaemonConfig
	mu       sync.Mutex
}

// NewDaemon validates the root directory and starts listening. Call Serve to
// start accepting connections.
func NewDaemon(cfg DaemonConfig) (*Daemon, error) {
	if cfg.Root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fault.New(fault.Internal, "resolve root", err)
		}
		cfg.Root = wd
	}
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, fault.New(fault.ArgumentInvalid, "root "+cfg.Root, err)
	}
	if !info.IsDir() {
		return nil, fault.Errorf(fault.ArgumentInvalid, "root "+cfg.Root, "not a directory")
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.MaxSessions < 0 {
		return nil, fault.Errorf(fault.ArgumentInvalid, "max sessions", "%d is negative", cfg.MaxSessions)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fault.New(fault.SocketSetupFailed, "listen "+cfg.ListenAddr, err)
	}

	d := &Daemon{
		cfg:      cfg,
		listener: listener,
		conns:    make(map[net.Conn]struct{}),
		handler: NewHandler(HandlerConfig{
			Store:   cfg.Store,
			Journal: cfg.Journal,
			Events:  cfg.Events,
			Stats:   cfg.Stats,
			Root:    cfg.Root,
			Timeout: cfg.Timeout,
		}),
	}
	if cfg.MaxSessions > 0 {
		d.sem = semaphore.NewWeighted(cfg.MaxSessions)
	}
	return d, nil
}

// Addr returns the listener's address (useful when listening on :0).
func (d *Daemon) Addr() net.Addr {
	return d.listener.Addr()
}

// Root returns the destination directory.
func (d *Daemon) Root() string { return d.cfg.Root }

// Stats returns the collector sessions report into.
func (d *Daemon) Stats() *stats.Collector { return d.handler.Stats() }

// Locks returns the registry guarding destination paths.
func (d *Daemon) Locks() *lock.Registry { return d.handler.cfg.Locks }

// Serve accepts connections until ctx is cancelled, then waits for in-flight
// sessions. Sessions still running after the drain timeout have their
// connections closed. Sessions themselves are never cancelled through ctx.
func (d *Daemon) Serve(ctx context.Context) error {
	slog.Info("transdata daemon listening",
		"addr", d.listener.Addr(), "root", d.cfg.Root, "max_sessions", d.cfg.MaxSessions)

	var wg sync.WaitGroup
	done := make(chan struct{})

	// Shutdown goroutine: when ctx is cancelled, stop the listener and drain sessions.
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		d.listener.Close()

		timer := time.AfterFunc(d.cfg.DrainTimeout, func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if len(d.conns) > 0 {
				slog.Warn("drain timeout, closing sessions", "active", len(d.conns))
			}
			for conn := range d.conns {
				conn.Close()
			}
		})
		<-done
		timer.Stop()
	}()
	defer close(done)

	sessionCtx := context.WithoutCancel(ctx)
	for {
		if d.sem != nil {
			if err := d.sem.Acquire(ctx, 1); err != nil {
				break // shutting down
			}
		}

		conn, err := d.listener.Accept()
		if err != nil {
			d.release()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break // graceful shutdown
			}
			slog.Error("accept error", "error", err)
			continue
		}

		d.mu.Lock()
		d.conns[conn] = struct{}{}
		d.mu.Unlock()

		wg.Go(func() {
			defer func() {
				d.mu.Lock()
				delete(d.conns, conn)
				d.mu.Unlock()
				d.release()
			}()
			d.serveConn(sessionCtx, conn)
		})
	}

	wg.Wait()
	return nil
}

func (d *Daemon) serveConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	slog.Debug("new connection", "remote", remote)

	res, err := d.handler.Serve(ctx, conn)
	if err != nil {
		slog.Warn("session failed",
			"session", res.SessionID, "remote", remote, "file", res.Name,
			"state", res.State, "kind", fault.KindOf(err), "error", err)
		return
	}
	slog.Info("session complete",
		"session", res.SessionID, "remote", remote, "path", res.Path,
		"bytes", res.Transferred, "blake3", res.Digest,
		"elapsed", res.Finished.Sub(res.Started).Round(time.Millisecond))
}

func (d *Daemon) release() {
	if d.sem != nil {
		d.sem.Release(1)
	}
}

// Close stops the listener without waiting for sessions.
func (d *Daemon) Close() error {
	if err := d.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close listener: %w", err)
	}
	return nil
}
