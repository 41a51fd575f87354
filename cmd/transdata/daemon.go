package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bamsammich/transdata/internal/config"
	"github.com/bamsammich/transdata/internal/event"
	"github.com/bamsammich/transdata/internal/journal"
	"github.com/bamsammich/transdata/internal/logging"
	"github.com/bamsammich/transdata/internal/proto"
)

// journalDefault is the --journal value meaning "use journal.DefaultPath".
const journalDefault = "default"

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run a transdata daemon",
		Long: `Run a transdata daemon that receives pushed files into a root directory.

Each connection carries one file. The daemon locks the destination with a
<name>.lock file next to it, so a second client pushing the same name while a
transfer is in progress is refused. After the client half-closes, the stored
size is compared with the advertised one and the client is told the verdict.

A receive that stalls for longer than --timeout resets the connection. On
SIGINT or SIGTERM the daemon stops accepting and gives in-flight sessions
--drain to finish.

The listening port is written to a discovery file under $XDG_RUNTIME_DIR so
clients on the same host can omit --port.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}

	cmd.Flags().IntP("port", "p", 0, "port to listen on (0 picks a free port)")
	cmd.Flags().String("listen", "", "address to bind (default: all interfaces)")
	cmd.Flags().StringP("root", "s", "", "directory to store received files (default: cwd)")
	cmd.Flags().
		BoolP("debug", "d", false, "debug output, also written to "+logging.DebugFilePrefix+"<pid>")
	cmd.Flags().BoolP("quiet", "q", false, "only log warnings and errors")
	cmd.Flags().
		Duration("timeout", proto.DefaultTimeout, "per-call send/receive timeout (negative disables)")
	cmd.Flags().Duration("drain", proto.DefaultDrainTimeout, "grace period for sessions on shutdown")
	cmd.Flags().Int64("max-sessions", 0, "maximum concurrent sessions (0 = unbounded)")
	cmd.Flags().String("journal", "", "record sessions in a SQLite journal (--journal=PATH to choose the file)")
	cmd.Flags().Lookup("journal").NoOptDefVal = journalDefault
	cmd.Flags().String("log", "", "write structured JSON log to FILE")
	cmd.Flags().
		String("config", "", "config file (default: $XDG_CONFIG_HOME/transdata/config.toml)")
	cmd.Flags().Bool("detach", false, "run in the background")
	return cmd
}

//nolint:revive,gocyclo // cyclomatic: flag parsing + config + logging + journal + discovery, irreducible
func runDaemon(cmd *cobra.Command, _ []string) error {
	port, _ := cmd.Flags().GetInt("port")                  //nolint:errcheck // flag name is hardcoded
	listen, _ := cmd.Flags().GetString("listen")           //nolint:errcheck // flag name is hardcoded
	root, _ := cmd.Flags().GetString("root")               //nolint:errcheck // flag name is hardcoded
	debug, _ := cmd.Flags().GetBool("debug")               //nolint:errcheck // flag name is hardcoded
	quiet, _ := cmd.Flags().GetBool("quiet")               //nolint:errcheck // flag name is hardcoded
	timeout, _ := cmd.Flags().GetDuration("timeout")       //nolint:errcheck // flag name is hardcoded
	drain, _ := cmd.Flags().GetDuration("drain")           //nolint:errcheck // flag name is hardcoded
	maxSessions, _ := cmd.Flags().GetInt64("max-sessions") //nolint:errcheck // flag name is hardcoded
	journalPath, _ := cmd.Flags().GetString("journal")     //nolint:errcheck // flag name is hardcoded
	logFile, _ := cmd.Flags().GetString("log")             //nolint:errcheck // flag name is hardcoded
	configPath, _ := cmd.Flags().GetString("config")       //nolint:errcheck // flag name is hardcoded
	detachFlag, _ := cmd.Flags().GetBool("detach")         //nolint:errcheck // flag name is hardcoded

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	d := cfg.Daemon
	if !cmd.Flags().Changed("port") && d.Port != nil {
		port = *d.Port
	}
	if !cmd.Flags().Changed("listen") && d.Listen != nil {
		listen = *d.Listen
	}
	if !cmd.Flags().Changed("root") && d.Root != nil {
		root = *d.Root
	}
	if !cmd.Flags().Changed("timeout") && d.Timeout != nil {
		timeout = d.Timeout.Duration
	}
	if !cmd.Flags().Changed("drain") && d.Drain != nil {
		drain = d.Drain.Duration
	}
	if !cmd.Flags().Changed("max-sessions") && d.MaxSessions != nil {
		maxSessions = *d.MaxSessions
	}
	if !cmd.Flags().Changed("journal") && d.Journal != nil {
		journalPath = *d.Journal
	}

	if !cmd.Flags().Changed("port") && d.Port == nil {
		return errors.New("a listen port is required (--port)")
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}

	if detachFlag && !detached() {
		pid, err := detach()
		if err != nil {
			return fmt.Errorf("detach: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "transdata daemon started (pid %d)\n", pid)
		return nil
	}

	// Configure logging. Debug mode also keeps a per-process log file in the
	// working directory.
	logOpts := logging.Options{
		Stderr:  cmd.ErrOrStderr(),
		LogFile: logFile,
		Debug:   debug,
		Quiet:   quiet,
	}
	if debug {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		logOpts.DebugDir = wd
	}
	logger, closeLogs, err := logging.Setup(logOpts)
	if err != nil {
		return err
	}
	defer closeLogs() //nolint:errcheck // best-effort flush on exit

	daemonCfg := proto.DaemonConfig{
		ListenAddr:   net.JoinHostPort(listen, strconv.Itoa(port)),
		Root:         root,
		Timeout:      timeout,
		DrainTimeout: drain,
		MaxSessions:  maxSessions,
	}

	if journalPath != "" {
		if journalPath == journalDefault {
			journalPath = journal.DefaultPath()
		}
		j, err := journal.Open(journalPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := j.Close(); err != nil {
				slog.Warn("failed to close journal", "error", err)
			}
		}()
		slog.Info("journal enabled", "path", j.Path())
		daemonCfg.Journal = j
	}

	// When --log is set, session events are written as structured records.
	if logFile != "" {
		events := make(chan event.Event, 256)
		daemonCfg.Events = events
		var eventsWg sync.WaitGroup
		eventsWg.Go(func() { logging.LogEvents(logger, events) })
		defer eventsWg.Wait()
		defer close(events)
	}

	daemon, err := proto.NewDaemon(daemonCfg)
	if err != nil {
		return err
	}

	// Write discovery file so local clients can find us.
	addr := daemon.Addr()
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		daemon.Close() //nolint:errcheck // returning the type error
		return fmt.Errorf("unexpected listener address type: %T", addr)
	}
	if err := config.WriteDaemonDiscovery(config.DaemonDiscovery{
		Root: daemon.Root(),
		Port: tcpAddr.Port,
		PID:  os.Getpid(),
	}); err != nil {
		slog.Warn("failed to write daemon discovery file", "error", err)
	}
	defer config.RemoveDaemonDiscovery()

	// Set up signal handling.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = daemon.Serve(ctx)
	slog.Info("transdata daemon stopped", "stats", daemon.Stats().Snapshot().String())
	return err
}
