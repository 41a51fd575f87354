package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/transdata/internal/config"
	"github.com/bamsammich/transdata/internal/event"
	"github.com/bamsammich/transdata/internal/fault"
	"github.com/bamsammich/transdata/internal/logging"
	"github.com/bamsammich/transdata/internal/proto"
	"github.com/bamsammich/transdata/internal/stats"
	"github.com/bamsammich/transdata/internal/ui"
)

const defaultHost = "localhost"

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	return execute(context.Background(), os.Args[1:])
}

// execute builds the command tree, runs it with args and maps the outcome to
// a process exit code.
//
//nolint:revive // cognitive-complexity: client entry point wires flags, config, logging and UI
func execute(ctx context.Context, args []string) int {
	var (
		host        string
		port        int
		file        string
		debug       bool
		quiet       bool
		showVersion bool
		timeout     time.Duration
		bwLimit     sizeValue
		chunk       sizeValue
		logFile     string
		configPath  string
	)

	rootCmd := &cobra.Command{
		Use:   "transdata [flags] <file>",
		Short: "Push a file to a transdata daemon over TCP",
		Long: `Push a single file to a transdata daemon.

The file's base name and size are sent first. The daemon takes a lock on the
destination, acknowledges, receives the bytes and acknowledges again only if
the stored size matches. Exit status is 0 on success, 1 when the daemon
rejected the transfer (lock conflict or size mismatch) and 2 on any other
failure.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				return nil
			}
			if file != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "transdata %s\n", version)
				return nil
			}
			if file == "" {
				file = args[0]
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			applyClientDefaults(cmd, cfg.Client, &host, &port, &timeout, &bwLimit, &chunk)

			logger, closeLogs, err := logging.Setup(logging.Options{
				Stderr:  cmd.ErrOrStderr(),
				LogFile: logFile,
				Debug:   debug,
				Quiet:   quiet,
			})
			if err != nil {
				return err
			}
			defer closeLogs() //nolint:errcheck // best-effort flush on exit

			if !cmd.Flags().Changed("port") && cfg.Client.Port == nil {
				if p, ok := discoverPort(host); ok {
					slog.Debug("using discovered daemon port", "port", p)
					port = p
				}
			}
			if port <= 0 || port > 65535 {
				return errors.New("a daemon port is required (--port)")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			collector := stats.NewCollector()
			events := make(chan event.Event, 256)

			// When --log is set, events are also written as structured records.
			presenterEvents := (<-chan event.Event)(events)
			var logWg sync.WaitGroup
			if logFile != "" {
				var logEvents <-chan event.Event
				presenterEvents, logEvents = teeEvents(events)
				logWg.Go(func() { logging.LogEvents(logger, logEvents) })
			}

			isTTY := ui.IsTTY(os.Stderr)
			presenter := ui.NewPresenter(ui.Config{
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Stats:     collector,
				Width:     ui.TermWidth(os.Stderr),
				IsTTY:     isTTY,
				Quiet:     quiet,
			})

			clientCfg := proto.ClientConfig{
				Events:  events,
				Stats:   collector,
				Addr:    net.JoinHostPort(host, strconv.Itoa(port)),
				Timeout: timeout,
				Chunk:   int(chunk),
			}
			if bwLimit > 0 {
				clientCfg.Limiter = proto.NewBWLimiter(int64(bwLimit))
			}

			slog.Debug("starting transfer",
				"file", file, "addr", clientCfg.Addr, "timeout", timeout,
				"bwlimit", int64(bwLimit), "chunk", int64(chunk))

			var presenterErr error
			var presenterWg sync.WaitGroup
			presenterWg.Go(func() {
				presenterErr = presenter.Run(presenterEvents)
			})

			res, sendErr := proto.Send(ctx, clientCfg, file)
			stop()
			close(events)
			presenterWg.Wait()
			logWg.Wait()
			if presenterErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "presenter: %v\n", presenterErr)
			}

			if sendErr != nil {
				slog.Error("transfer failed",
					"session", res.SessionID, "file", res.Name, "state", res.State,
					"kind", fault.KindOf(sendErr), "error", sendErr)
				return &exitError{code: exitCode(sendErr)}
			}

			slog.Debug("transfer complete",
				"session", res.SessionID, "bytes", res.Transferred, "blake3", res.Digest)
			if !quiet {
				if summary := presenter.Summary(); summary != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), summary)
				}
			}
			return nil
		},
	}

	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")

	rootCmd.Flags().
		StringVarP(&host, "host", "H", defaultHost, "daemon host name or address")
	rootCmd.Flags().
		IntVarP(&port, "port", "p", 0, "daemon port (default: discovered from a local daemon)")
	rootCmd.Flags().StringVarP(&file, "file", "f", "", "file to send (alternative to the argument)")
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "debug output")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.Flags().
		DurationVar(&timeout, "timeout", proto.DefaultTimeout, "per-call send/receive timeout (negative disables)")
	rootCmd.Flags().Var(&bwLimit, "bwlimit", "bandwidth limit (e.g. 100M, 1G)")
	rootCmd.Flags().Var(&chunk, "chunk", "bulk read size (e.g. 64K)")
	rootCmd.Flags().StringVar(&logFile, "log", "", "write structured JSON log to FILE")
	rootCmd.Flags().
		StringVar(&configPath, "config", "", "config file (default: $XDG_CONFIG_HOME/transdata/config.toml)")

	// Register subcommands.
	rootCmd.AddCommand(newDaemonCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newDocsCmd())

	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return 2
	}

	return 0
}

// loadConfig reads the file named by --config, or the optional default file.
// A broken default file is logged and ignored; a broken explicit one is fatal.
func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Warn("failed to load config", "error", err)
		return config.Config{}, nil
	}
	return cfg, nil
}

// applyClientDefaults applies config file defaults for flags not explicitly
// set on the CLI.
func applyClientDefaults(
	cmd *cobra.Command,
	defaults config.ClientConfig,
	host *string,
	port *int,
	timeout *time.Duration,
	bwLimit, chunk *sizeValue,
) {
	if !cmd.Flags().Changed("host") && defaults.Host != nil {
		*host = *defaults.Host
	}
	if !cmd.Flags().Changed("port") && defaults.Port != nil {
		*port = *defaults.Port
	}
	if !cmd.Flags().Changed("timeout") && defaults.Timeout != nil {
		*timeout = defaults.Timeout.Duration
	}
	if !cmd.Flags().Changed("bwlimit") && defaults.BWLimit != nil {
		*bwLimit = sizeValue(*defaults.BWLimit)
	}
	if !cmd.Flags().Changed("chunk") && defaults.Chunk != nil {
		*chunk = sizeValue(*defaults.Chunk)
	}
}

// discoverPort reads the port of a daemon running on this machine from its
// discovery file. Only consulted when host is local.
func discoverPort(host string) (int, bool) {
	if !isLocalHost(host) {
		return 0, false
	}
	d, err := config.ReadDaemonDiscovery()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Debug("daemon discovery unavailable", "error", err)
		}
		return 0, false
	}
	return d.Port, d.Port > 0
}

func isLocalHost(host string) bool {
	if host == "" || host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// teeEvents copies every event from in onto two channels with the same
// buffering and closes both when in closes.
func teeEvents(in <-chan event.Event) (<-chan event.Event, <-chan event.Event) {
	a := make(chan event.Event, cap(in))
	b := make(chan event.Event, cap(in))
	go func() {
		defer close(a)
		defer close(b)
		for ev := range in {
			a <- ev
			b <- ev
		}
	}()
	return a, b
}

// exitCode maps a session error to the process exit status: 1 when the
// daemon refused the file, 2 for every other failure.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if _, ok := fault.IsRemote(err); ok {
		return 1
	}
	switch fault.KindOf(err) {
	case fault.SizeMismatch, fault.LockExists:
		return 1
	default:
		return 2
	}
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
