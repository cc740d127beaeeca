package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/procpool"
	"github.com/loykin/procpool/internal/command"
	"github.com/loykin/procpool/internal/config"
	"github.com/loykin/procpool/internal/history"
	"github.com/loykin/procpool/internal/history/factory"
	"github.com/loykin/procpool/internal/logger"
	"github.com/loykin/procpool/internal/report"
)

// errSpawnFailures makes the process exit 1 without printing anything extra;
// the failures have already been reported.
var errSpawnFailures = errors.New("one or more commands failed to start")

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "procpool",
		Short:         "Run a batch of commands concurrently and collect their output",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(createRunCommand(&RunFlags{}), createParseCommand(&ParseFlags{}))
	return root
}

func createRunCommand(f *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] [command ...]",
		Short: "Spawn every command, poll until all finish, print each output as it completes",
		Long: `Each positional argument is one command line, for example:

  procpool run "sleep 1" "echo hello" "ls -al"

Without arguments the commands list from --config is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunConfig(cmd, f)
			if err != nil {
				return err
			}
			commands := args
			if len(commands) == 0 {
				commands = cfg.Commands
			}
			if len(commands) == 0 {
				return errors.New("no commands given")
			}
			return runBatch(cmd.Context(), cfg, commands, f.JSON, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&f.ConfigPath, "config", "", "TOML config file")
	fs.DurationVar(&f.Interval, "interval", 0, "idle time between sweeps (0 polls continuously)")
	fs.DurationVar(&f.Sample, "sample-interval", 0, "sample memory of running processes this often (0 disables)")
	fs.IntVar(&f.Capacity, "capacity", 0, "expected number of concurrent processes")
	fs.BoolVar(&f.Strict, "strict", false, "hold back spawns while capacity is reached")
	fs.StringVar(&f.QuotePolicy, "quote-policy", "", "strip or retain quote characters in arguments")
	fs.StringVar(&f.History, "history", "", "export completions to a sink DSN (sqlite, postgres, clickhouse, opensearch)")
	fs.StringVar(&f.Listen, "listen", "", "serve results and /metrics on this address while running")
	fs.StringVar(&f.BasePath, "base-path", "", "URL prefix for the results API")
	fs.BoolVar(&f.JSON, "json", false, "print one JSON object per completion")
	fs.StringVar(&f.LogLevel, "log-level", "", "debug, info, warn or error")
	return cmd
}

// loadRunConfig reads the config file, then applies only the flags the user set.
func loadRunConfig(cmd *cobra.Command, f *RunFlags) (*config.Config, error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return nil, err
	}
	changed := cmd.Flags().Changed
	if changed("interval") {
		cfg.Pool.SweepInterval = f.Interval
	}
	if changed("sample-interval") {
		cfg.Pool.SampleInterval = f.Sample
	}
	if changed("capacity") {
		cfg.Pool.Capacity = f.Capacity
	}
	if changed("strict") {
		cfg.Pool.StrictCapacity = f.Strict
	}
	if changed("quote-policy") {
		cfg.Pool.QuotePolicy = f.QuotePolicy
	}
	if changed("history") {
		cfg.History.DSN = f.History
	}
	if changed("listen") {
		cfg.Server.Listen = f.Listen
	}
	if changed("base-path") {
		cfg.Server.BasePath = f.BasePath
	}
	if changed("log-level") {
		cfg.Log.Level = f.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runBatch(ctx context.Context, cfg *config.Config, commands []string, jsonOut bool, stdout, stderr io.Writer) error {
	log, closer, err := logger.New(cfg.Log, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	childEnv, err := cfg.ProcessEnv()
	if err != nil {
		return err
	}

	reporters := report.Multi{printer(stdout, jsonOut)}

	if cfg.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		if c, ok := sink.(io.Closer); ok {
			defer func() { _ = c.Close() }()
		}
		runID := history.NewRunID()
		log.Info("exporting completions", "run_id", runID)
		reporters = append(reporters, history.Reporter(runID, sink))
	}

	if cfg.Metrics.Enabled || cfg.Server.Listen != "" {
		if err := procpool.RegisterMetricsDefault(); err != nil {
			return err
		}
	}

	if cfg.Server.Listen != "" {
		col := procpool.NewCollector()
		reporters = append(reporters, col)
		srv, err := procpool.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, col)
		if err != nil {
			return err
		}
		log.Info("serving results", "addr", srv.Addr, "base_path", cfg.Server.BasePath)
		defer shutdown(srv, log)
	}

	interval := cfg.Pool.SweepInterval
	if interval == 0 {
		interval = -1 // tight loop was asked for explicitly
	}
	recs, err := procpool.Run(ctx, commands, procpool.Options{
		Capacity:       cfg.Pool.Capacity,
		StrictCapacity: cfg.Pool.StrictCapacity,
		Interval:       interval,
		SampleInterval: cfg.Pool.SampleInterval,
		Parser:         cfg.Parser(),
		WorkDir:        cfg.WorkDir,
		Env:            childEnv,
		Logger:         log,
		Reporter:       reporters,
	})
	if err != nil {
		return err
	}
	for _, r := range recs {
		if r.Failed() {
			return errSpawnFailures
		}
	}
	return nil
}

func shutdown(srv *http.Server, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("server shutdown", "error", err)
	}
}

// printer writes each completion to w as soon as it is reported.
func printer(w io.Writer, jsonOut bool) report.Reporter {
	if jsonOut {
		enc := json.NewEncoder(w)
		return report.Func(func(_ context.Context, c report.Completion) error {
			return enc.Encode(c)
		})
	}
	return report.Func(func(_ context.Context, c report.Completion) error {
		_, err := io.WriteString(w, formatCompletion(c))
		return err
	})
}

func formatCompletion(c report.Completion) string {
	var b strings.Builder
	if c.Failed() {
		fmt.Fprintf(&b, "=== %s: failed to start: %s\n", c.Name, c.SpawnErr)
		return b.String()
	}
	fmt.Fprintf(&b, "=== %s (pid %d) exit=%d in %s\n", c.Name, c.PID, c.ExitCode, c.Duration().Round(time.Millisecond))
	b.WriteString(c.Output)
	if c.Output != "" && !strings.HasSuffix(c.Output, "\n") {
		b.WriteByte('\n')
	}
	return b.String()
}

func createParseCommand(f *ParseFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse <command line>",
		Short: "Show how a command line is split into program and arguments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := command.ParsePolicy(f.QuotePolicy)
			if err != nil {
				return err
			}
			program, argv, err := command.Parser{Policy: policy, Quotes: f.Quotes}.Parse(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "program: %q\n", program)
			for i, a := range argv {
				_, _ = fmt.Fprintf(out, "arg[%d]: %q\n", i, a)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.QuotePolicy, "quote-policy", "", "strip or retain quote characters in arguments")
	cmd.Flags().StringVar(&f.Quotes, "quotes", "", `quote characters (default "\"")`)
	return cmd
}
