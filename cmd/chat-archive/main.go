package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/asheshgoplani/chat-archive/internal/config"
	"github.com/asheshgoplani/chat-archive/internal/logging"
	"github.com/asheshgoplani/chat-archive/internal/statedb"
)

const Version = "0.3.0"

// globalOptions are flags accepted before or after any subcommand.
type globalOptions struct {
	jsonMode   bool
	quiet      bool
	verbose    bool
	configPath string
}

// app carries what every command handler needs.
type app struct {
	cfg *config.UserConfig
	out *CLIOutput
	log *slog.Logger

	// openState opens the ledger; nil when the ledger is disabled.
	openState func() (*statedb.StateDB, error)
}

func main() {
	initColorProfile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches one command line and returns the process exit code.
func run(ctx context.Context, argv []string, stdout, stderr io.Writer) (code int) {
	opts, args := extractGlobalFlags(argv)
	out := NewCLIOutput(opts.jsonMode, opts.quiet)
	out.stdout, out.stderr = stdout, stderr

	if len(args) == 0 {
		printHelp(stderr)
		return exitUsage
	}
	switch args[0] {
	case "version", "--version", "-v":
		out.Print(fmt.Sprintf("chat-archive v%s\n", Version), map[string]string{"version": Version})
		return exitOK
	case "help", "--help", "-h":
		printHelp(stdout)
		return exitOK
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		out.Error(err.Error(), ErrCodeConfig)
		return exitFailure
	}
	config.Use(cfg)

	initLogging(cfg, opts.verbose, stderr)
	defer logging.Shutdown()

	a := &app{
		cfg: cfg,
		out: out,
		log: logging.ForComponent(logging.CompCLI),
	}
	if cfg.GetStateEnabled() {
		a.openState = func() (*statedb.StateDB, error) { return openState(cfg) }
	}

	defer func() {
		if r := recover(); r != nil {
			a.log.Error("panic",
				slog.String("command", args[0]),
				slog.Any("value", r),
				slog.String("stack", string(debug.Stack())))
			if dir, err := config.HomeDir(); err == nil {
				_ = logging.DumpCrashBuffer(filepath.Join(dir, "crash.log"))
			}
			out.Error(fmt.Sprintf("internal error: %v", r), ErrCodeInternal)
			code = exitFailure
		}
	}()

	a.log.Debug("command_start", slog.String("command", args[0]), slog.Int("args", len(args)-1))

	switch args[0] {
	case "extract":
		return a.handleExtract(ctx, args[1:])
	case "info":
		return a.handleInfo(args[1:])
	case "rename":
		return a.handleRename(args[1:])
	case "process":
		return a.handleProcess(ctx, args[1:])
	case "dedupe":
		return a.handleDedupe(ctx, args[1:])
	case "index":
		return a.handleIndex(ctx, args[1:])
	case "search":
		return a.handleSearch(args[1:])
	case "find":
		return a.handleFind(args[1:])
	case "watch":
		return a.handleWatch(ctx, args[1:])
	case "history":
		return a.handleHistory(args[1:])
	}

	out.Error(fmt.Sprintf("unknown command %q", args[0]), ErrCodeUsage)
	printHelp(stderr)
	return exitUsage
}

// extractGlobalFlags pulls --json, --quiet, --verbose and --config out of
// args wherever they appear; everything else is returned in order.
func extractGlobalFlags(args []string) (globalOptions, []string) {
	var opts globalOptions
	var remaining []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if arg == "--" {
			remaining = append(remaining, args[i+1:]...)
			break
		}

		switch {
		case arg == "--json":
			opts.jsonMode = true
			continue
		case arg == "-q" || arg == "--quiet":
			opts.quiet = true
			continue
		case arg == "--verbose":
			opts.verbose = true
			continue
		case strings.HasPrefix(arg, "--config="):
			opts.configPath = strings.TrimPrefix(arg, "--config=")
			continue
		case arg == "--config" || arg == "-c":
			if i+1 < len(args) {
				opts.configPath = args[i+1]
				i++
				continue
			}
		}

		remaining = append(remaining, arg)
	}

	return opts, remaining
}

func loadConfig(path string) (*config.UserConfig, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// initLogging writes the rotating log into the archive home. --verbose also
// copies records to stderr.
func initLogging(cfg *config.UserConfig, verbose bool, stderr io.Writer) {
	ls := cfg.GetLogSettings()
	logCfg := logging.Config{
		Level:                 ls.Level,
		Format:                ls.Format,
		MaxSizeMB:             ls.MaxSizeMB,
		MaxBackups:            ls.Backups,
		MaxAgeDays:            ls.RetentionDays,
		Compress:              ls.Compress,
		CrashBufferSize:       ls.CrashBufferKB * 1024,
		AggregateIntervalSecs: ls.AggregateIntervalSecs,
	}
	if dir, err := config.HomeDir(); err == nil {
		if err := os.MkdirAll(dir, 0o700); err == nil {
			logCfg.LogDir = dir
		}
	}
	if verbose {
		logCfg.Console = stderr
	}
	logging.Init(logCfg)
}

func openState(cfg *config.UserConfig) (*statedb.StateDB, error) {
	path := cfg.GetStateDBPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := statedb.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// state opens the ledger when it is enabled. Open failures are logged and
// yield nil; the ledger never fails a command.
func (a *app) state() *statedb.StateDB {
	if a.openState == nil {
		return nil
	}
	db, err := a.openState()
	if err != nil {
		a.log.Warn("state_open_failed", slog.String("error", err.Error()))
		return nil
	}
	return db
}

func printHelp(w io.Writer) {
	fmt.Fprintf(w, "chat-archive v%s\n", Version)
	fmt.Fprintln(w, "Personal chat-log archive: entries, curation and full-text search")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: chat-archive [--json] [--quiet] [--verbose] [--config <file>] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  extract <file|dir>                      List entries found in a file or folder")
	fmt.Fprintln(w, "  info <file>                             Show hash, timestamp window and suggested name")
	fmt.Fprintln(w, "  rename <file> [dryrun]                  Rename a file to its canonical name")
	fmt.Fprintln(w, "  process <dir> [rename] [dryrun] [nodedupe]")
	fmt.Fprintln(w, "                                          Remove duplicates and optionally rename survivors")
	fmt.Fprintln(w, "  dedupe <dir> [dryrun]                   Only remove duplicates")
	fmt.Fprintln(w, "  index <dir> [out]                       Build the full-text index")
	fmt.Fprintln(w, "  search <index> <root> <phrase...> [and|or] [fuzzy] [case] [context=N]")
	fmt.Fprintln(w, "                                          Search an index, printing snippets")
	fmt.Fprintln(w, "  find <index> <pattern>                  Fuzzy-find indexed files by path")
	fmt.Fprintln(w, "  watch <dir> [out]                       Keep the index current as files change")
	fmt.Fprintln(w, "  history [n]                             Show recent curation runs")
	fmt.Fprintln(w, "  version                                 Show version")
	fmt.Fprintln(w, "  help                                    Show this help")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Exit codes: 0 success, 1 operation failure, 2 usage error")
}
