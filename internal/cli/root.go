package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pratik-mahalle/stackdrift/internal/config"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/errors"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/logger"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/metrics"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	cfgFile      string
	envFile      string
	outputFormat string
	noColor      bool
	logLevel     string
	logFormat    string
}

// NewRootCmd builds the command tree. Output goes to stdout, logs and
// error summaries to stderr.
func NewRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}
	a := &app{stdin: stdin, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:   "stackdrift",
		Short: "stackdrift - container configuration drift detection",
		Long: `stackdrift compares the containers running on your hosts with the compose
stacks declared in git, reports every difference by severity, and opens pull
requests that bring the repository back in line with what is running.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch cmd.Name() {
			case "version", "help", "completion":
				return nil
			}
			return a.init(cmd, opts, stdout)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default $HOME/.stackdrift/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "environment file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVarP(&opts.outputFormat, "output", "o", OutputTable, "output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: json, console")

	// Register all subcommands
	rootCmd.AddCommand(newDetectCmd(a))
	rootCmd.AddCommand(newRemediateCmd(a))
	rootCmd.AddCommand(newCleanupCmd(a))
	rootCmd.AddCommand(newValidateCmd(a))
	rootCmd.AddCommand(newHistoryCmd(a))
	rootCmd.AddCommand(newWatchCmd(a))
	rootCmd.AddCommand(newVersionCmd(stdout))

	return rootCmd
}

// init loads configuration and builds the logger and metrics recorder.
func (a *app) init(cmd *cobra.Command, opts *rootOptions, stdout io.Writer) error {
	cfgFile := opts.cfgFile
	if cfgFile == "" {
		cfgFile = config.DefaultConfigFile()
	}
	cfg, err := config.Load(opts.envFile, cfgFile)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}
	switch opts.outputFormat {
	case OutputTable, OutputJSON, OutputYAML:
	default:
		return errors.Config(fmt.Sprintf("unknown output format %q", opts.outputFormat), nil)
	}

	a.cfg = cfg
	a.log = logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: a.stderr,
	})
	a.metrics = metrics.New()
	a.printer = newPrinter(stdout, opts.outputFormat, opts.noColor || os.Getenv("NO_COLOR") != "")
	return nil
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCmd(os.Stdin, os.Stdout, os.Stderr)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		reportError(os.Stderr, err)
	}
	return errors.ExitCode(err)
}

// reportError prints a one-line summary; findings print their reason only.
func reportError(w io.Writer, err error) {
	var status *errors.ExitStatus
	if stderrors.As(err, &status) {
		fmt.Fprintln(w, status.Reason)
		return
	}
	fmt.Fprintln(w, "Error:", errors.Summary(err))
}
