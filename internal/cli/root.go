package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fmueller/voxserve/internal/config"
	"github.com/fmueller/voxserve/internal/logging"
	"github.com/fmueller/voxserve/internal/transcode"
	"github.com/fmueller/voxserve/internal/version"
	"github.com/fmueller/voxserve/internal/whisper"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/term"
)

const defaultEnvFile = ".env"

type appState struct {
	v       *viper.Viper
	envFile string
	cfg     config.Config

	logger *zap.Logger
	errOut io.Writer

	loadEngineFn      func(ctx context.Context, opts whisper.LoadOptions) (*whisper.Engine, error)
	ensureModelFn     func(ctx context.Context, opts whisper.LoadOptions) (whisper.ResolvedModel, error)
	ffmpegAvailableFn func(ffmpeg *transcode.FFmpeg) bool
	readyFn           func(addr string)
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(&appState{})
}

func newRootCmd(app *appState) *cobra.Command {
	if app.v == nil {
		app.v = viper.New()
	}
	if app.loadEngineFn == nil {
		app.loadEngineFn = whisper.Load
	}
	if app.ensureModelFn == nil {
		app.ensureModelFn = whisper.EnsureModel
	}
	if app.ffmpegAvailableFn == nil {
		app.ffmpegAvailableFn = (*transcode.FFmpeg).Available
	}

	cmd := &cobra.Command{
		Use:           "voxserve",
		Short:         "Serve speech-to-text transcription over HTTP with a local whisper engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.prepare(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runServe(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	flags := cmd.PersistentFlags()
	flags.StringVar(&app.envFile, "env-file", defaultEnvFile, "Load environment variables from this file when present")
	if err := config.BindFlags(flags, app.v); err != nil {
		// Only fails on duplicate or nil flags, which is a programming error.
		panic(err)
	}

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// prepare loads the env file, resolves configuration and builds the logger.
// It runs once before any command and the logger is not reconfigured later.
func (a *appState) prepare(cmd *cobra.Command) error {
	if a.errOut == nil {
		a.errOut = cmd.ErrOrStderr()
	}

	if err := config.LoadEnvFile(a.envFile, cmd.Flags().Changed("env-file")); err != nil {
		return err
	}

	cfg, err := config.FromViper(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := logging.New(logging.Options{Verbose: cfg.Verbose, JSON: cfg.JSON, Service: "voxserve"})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	a.logger = logger
	return nil
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) progressEnabled() bool {
	if a.cfg.NoProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func (a *appState) loadOptions() whisper.LoadOptions {
	return whisper.LoadOptions{
		WhisperPath:    a.cfg.WhisperPath,
		Model:          a.cfg.Model,
		ModelDir:       a.cfg.ModelDir,
		Language:       a.cfg.Language,
		Threads:        a.cfg.Threads,
		AutoDownload:   a.cfg.AutoDownload,
		VerifyChecksum: a.cfg.VerifyChecksum,
		Warmup:         a.cfg.Warmup,
		NoProgress:     a.cfg.NoProgress,
		Logger:         a.log().Named("whisper"),
	}
}
