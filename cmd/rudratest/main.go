// Package main implements the CLI driver for the analyzer regression harness.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/rudra-tools/rudratest/internal/campaign"
	"github.com/rudra-tools/rudratest/internal/harness"
	"github.com/rudra-tools/rudratest/pkg/fixture"
	"github.com/rudra-tools/rudratest/pkg/invoke"
)

// Flags holds command-line options. Options that are also in the config file
// override it only when set explicitly.
type Flags struct {
	ConfigFile string // path of the YAML config file
	Verbose    bool   // enables debug logging on stderr
	JSONLogs   bool   // logs as JSON instead of text

	Analyzer string        // analyzer command
	Timeout  time.Duration // per-run analyzer timeout

	Workers   int      // local: worker pool size
	CorpusDir string   // local: fixture corpus root
	Include   []string // local: doublestar include patterns

	Descriptor  string // remote: campaign descriptor
	WorkDir     string // remote: download directory
	RegistryURL string // remote: package registry base URL
}

const (
	exitTestsFailed = 1
	exitError       = 2
)

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if err.Error() != "" {
			fmt.Fprintln(stderr, err.Error())
		}
		var cErr *codedError
		if errors.As(err, &cErr) {
			return cErr.code
		}
		return exitError
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var flags Flags

	rootCmd := &cobra.Command{
		Use:   "rudratest",
		Short: "Regression harness for the Rudra analyzer",
		Long: `rudratest runs the analyzer against test inputs and reconciles its reports
with the expectations recorded for each input.

  run-local-tests   analyze every fixture of a corpus in parallel and compare
                    the reported analyzer kinds with each fixture's metadata
  run-remote-tests  download published packages and check that every known
                    (analyzer, location) report is still produced`,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			setupLogging(&flags)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	rootCmd.SetVersionTemplate(fmt.Sprintf("rudratest version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.ConfigFile, "config", harness.DefaultConfigFile, "Harness configuration file")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "Enable verbose logging")
	pf.BoolVar(&flags.JSONLogs, "json-logs", false, "Log in JSON format (with --verbose)")
	pf.StringVar(&flags.Analyzer, "analyzer", "", "Analyzer command (overrides the config file)")
	pf.DurationVar(&flags.Timeout, "timeout", 0, "Kill an analyzer run after this long (0 disables)")

	localCmd := &cobra.Command{
		Use:   "run-local-tests",
		Short: "Run the fixture corpus",
		Example: `  rudratest run-local-tests
  rudratest run-local-tests --workers 4 --corpus-dir tests
  rudratest run-local-tests --include 'send_sync/**'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLocal(cmd, &flags)
		},
	}
	localCmd.Flags().IntVar(&flags.Workers, "workers", harness.DefaultWorkers, "Number of fixtures analyzed in parallel")
	localCmd.Flags().StringVar(&flags.CorpusDir, "corpus-dir", "", "Fixture corpus root (default from config, else \"tests\")")
	localCmd.Flags().StringSliceVar(&flags.Include, "include", nil, "Only consider files matching these globs, relative to the corpus root")

	remoteCmd := &cobra.Command{
		Use:   "run-remote-tests",
		Short: "Check known reports on published packages",
		Example: `  rudratest run-remote-tests
  rudratest run-remote-tests --descriptor ci/end_to_end_test.toml --work-dir /tmp/campaign`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRemote(cmd, &flags)
		},
	}
	remoteCmd.Flags().StringVar(&flags.Descriptor, "descriptor", "", "Campaign descriptor (default from config, else \"ci/end_to_end_test.toml\")")
	remoteCmd.Flags().StringVar(&flags.WorkDir, "work-dir", "", "Directory for downloaded packages (default: temporary)")
	remoteCmd.Flags().StringVar(&flags.RegistryURL, "registry-url", "", "Package registry base URL")

	rootCmd.AddCommand(localCmd, remoteCmd)
	return rootCmd
}

// loadConfig reads the config file and applies explicitly set flags.
func loadConfig(cmd *cobra.Command, flags *Flags) (*harness.Config, error) {
	cfg, err := harness.LoadConfig(flags.ConfigFile, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("analyzer") {
		cfg.Analyzer.Command = flags.Analyzer
	}
	if changed("timeout") {
		cfg.Analyzer.Timeout = flags.Timeout
	}
	if changed("workers") {
		cfg.Local.Workers = flags.Workers
	}
	if changed("corpus-dir") {
		cfg.Local.CorpusDir = flags.CorpusDir
	}
	if changed("include") {
		cfg.Local.Include = flags.Include
	}
	if changed("descriptor") {
		cfg.Remote.Descriptor = flags.Descriptor
	}
	if changed("work-dir") {
		cfg.Remote.WorkDir = flags.WorkDir
	}
	if changed("registry-url") {
		cfg.Remote.RegistryURL = flags.RegistryURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runLocal(cmd *cobra.Command, flags *Flags) error {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return errWithCode(err, exitError)
	}

	// Everything that can fail for the run as a whole is checked before the
	// first fixture is scheduled.
	loader, err := fixture.NewLoader(cfg.Local.CorpusDir, fixture.LoaderOptions{Include: cfg.Local.Include})
	if err != nil {
		return errWithCode(err, exitError)
	}
	inv, err := invoke.New(cfg.Analyzer.InvokeOptions())
	if err != nil {
		return errWithCode(fmt.Errorf("analyzer: %w", err), exitError)
	}

	slog.Info("running fixture corpus", "root", loader.Root(), "workers", cfg.Local.Workers, "analyzer", cfg.Analyzer.Command)
	start := time.Now()

	out := cmd.OutOrStdout()
	tally := harness.NewTally(out, isTerminal(out))
	scheduled, err := harness.New(inv, harness.Options{Workers: cfg.Local.Workers}).
		Run(cmd.Context(), loader.Fixtures(), tally.Record)
	tally.WriteSummary()

	slog.Info("fixture corpus completed", "fixtures", scheduled, "dur", time.Since(start))
	if err != nil {
		return errWithCode(fmt.Errorf("interrupted after scheduling %d fixtures: %w", scheduled, err), exitError)
	}
	if !tally.Summary().OK() {
		return errWithCode(nil, exitTestsFailed)
	}
	return nil
}

func runRemote(cmd *cobra.Command, flags *Flags) error {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return errWithCode(err, exitError)
	}

	descriptor, err := campaign.LoadDescriptor(cfg.Remote.Descriptor)
	if err != nil {
		return errWithCode(err, exitError)
	}

	opts := cfg.Analyzer.InvokeOptions()
	opts.Command = cfg.Remote.Command
	opts.Args = cfg.Remote.Args
	if cmd.Flags().Changed("analyzer") {
		opts.Command = flags.Analyzer
	}
	inv, err := invoke.New(opts)
	if err != nil {
		return errWithCode(fmt.Errorf("analyzer: %w", err), exitError)
	}

	slog.Info("running campaign", "descriptor", cfg.Remote.Descriptor, "crates", len(descriptor.Crates))
	runner := campaign.NewRunner(inv, &campaign.HTTPFetcher{RegistryURL: cfg.Remote.RegistryURL},
		campaign.Options{WorkDir: cfg.Remote.WorkDir})
	result, err := runner.Run(cmd.Context(), descriptor)
	if err != nil {
		return errWithCode(fmt.Errorf("campaign: %w", err), exitError)
	}

	result.Write(cmd.OutOrStdout())
	if !result.OK() {
		return errWithCode(nil, exitTestsFailed)
	}
	return nil
}

// setupLogging discards logs unless verbose output was requested.
func setupLogging(flags *Flags) {
	slog.SetDefault(slog.New(slog.DiscardHandler))
	if !flags.Verbose {
		return
	}

	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	var handler slog.Handler
	switch {
	case flags.JSONLogs:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case isTerminal(os.Stderr):
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelDebug, TimeFormat: time.TimeOnly})
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func errWithCode(err error, code int) error {
	return &codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e *codedError) Unwrap() error { return e.err }
