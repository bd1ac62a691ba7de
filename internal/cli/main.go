package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/forPelevin/splicecut/internal/config"
	"github.com/forPelevin/splicecut/internal/domain/errs"
	"github.com/forPelevin/splicecut/internal/logging"
	"github.com/forPelevin/splicecut/internal/pipeline"
)

func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	env := &cmdEnv{stdout: stdout, stderr: stderr}
	root := newRoot(env)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if env.app != nil {
		if cerr := env.app.Close(); cerr != nil {
			env.log.Warn("close", logging.Error(cerr))
		}
	}
	if err == nil {
		return ExitOK
	}
	reportError(env, err)
	return ExitCode(err)
}

// cmdEnv carries global flags and lazily built dependencies.
type cmdEnv struct {
	stdout, stderr io.Writer

	configPath string
	json       bool
	logLevel   string

	cfg *config.Config
	log *slog.Logger
	app *pipeline.App
}

func newRoot(env *cmdEnv) *cobra.Command {
	root := &cobra.Command{
		Use:           "splicecut",
		Short:         "Keyframe-aware media trimmer",
		Long:          "Cut a time range out of a media file, stream-copying wherever keyframes allow.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations["skipConfigLoad"] == "true" {
				return nil
			}
			return env.load()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errs.Wrap(errs.BadArgs, errs.PhaseArgs, err, "flags")
	})

	root.PersistentFlags().StringVarP(&env.configPath, "config", "c", "", "Configuration file path")
	root.PersistentFlags().BoolVar(&env.json, "json", false, "Print machine-readable JSON")
	root.PersistentFlags().StringVar(&env.logLevel, "log-level", "", "Override logging.level")

	root.AddCommand(newClipCommand(env))
	root.AddCommand(newPlanCommand(env))
	root.AddCommand(newInspectCommand(env))
	root.AddCommand(newVerifyCommand(env))
	root.AddCommand(newConfigCommand(env))
	return root
}

func (e *cmdEnv) load() error {
	cfg, path, exists, err := config.Load(e.configPath)
	if err != nil {
		return errs.Wrap(errs.BadArgs, errs.PhaseArgs, err, "config")
	}
	if e.logLevel != "" {
		cfg.Logging.Level = e.logLevel
	}
	log, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: e.stderr})
	if err != nil {
		return errs.Wrap(errs.BadArgs, errs.PhaseArgs, err, "config")
	}
	log.Debug("configuration loaded", slog.String("path", path), slog.Bool("exists", exists))

	app, err := pipeline.Open(*cfg, log)
	if err != nil {
		return err
	}
	e.cfg, e.log, e.app = cfg, log, app
	return nil
}

// runContext applies execution.timeout_seconds.
func (e *cmdEnv) runContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if d := e.cfg.Timeout(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// usageArgs marks positional argument errors as caller mistakes.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return errs.Wrap(errs.BadArgs, errs.PhaseArgs, err, "arguments")
		}
		return nil
	}
}
