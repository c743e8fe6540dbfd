package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/MeKo-Tech/shelfscan/internal/config"
	"github.com/MeKo-Tech/shelfscan/internal/pipeline"
	"github.com/MeKo-Tech/shelfscan/internal/version"
)

const skipValidation = "skip-validation"

// scanner is the part of *pipeline.Pipeline the scan and batch commands use.
type scanner interface {
	Scan(ctx context.Context, req pipeline.ScanRequest) (*pipeline.ScanResult, error)
	Close() error
}

// newScanner builds the pipeline. Tests replace it with a stub.
var newScanner = func(ctx context.Context, cfg pipeline.Config, logger *slog.Logger) (scanner, error) {
	return pipeline.NewBuilder().WithConfig(cfg).WithLogger(logger).Build(ctx)
}

// app carries the state shared by one command tree.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
	logFile io.Closer
}

// NewRootCommand builds the shelfscan command tree with its own viper
// instance so flag bindings never leak between invocations.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New(), logger: slog.Default()}

	rootCmd := &cobra.Command{
		Use:   "shelfscan",
		Short: "Catalogue a bookshelf from photographs of its rows",
		Long: `shelfscan detects book spines in a photograph of one shelf row, reads
their text, corrects and structures it with a language model, verifies the
result against Google Books and stores one golden record per spine.

Examples:
  shelfscan scan row3.jpg --shelf-id 2 --row 3
  shelfscan batch bookcase.yaml --workers 4
  shelfscan serve --port 8080
  shelfscan config init`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) { a.teardown() },
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		Version: version.Version,
	}
	rootCmd.SetVersionTemplate(version.String() + "\n")

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is search in ., ./config, $HOME/.shelfscan)")
	flags.BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-file", "", "also write logs to this rotating file")

	a.bind("verbose", flags.Lookup("verbose"))
	a.bind("log_level", flags.Lookup("log-level"))
	a.bind("log.file", flags.Lookup("log-file"))

	rootCmd.AddCommand(
		newScanCommand(a),
		newBatchCommand(a),
		newServeCommand(a),
		newConfigCommand(a),
		newVersionCommand(),
	)
	return rootCmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) bind(key string, flag *pflag.Flag) {
	if err := a.v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

// setup loads the configuration and installs the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	loader := config.NewLoaderWithViper(a.v)
	load := loader.LoadWithFile
	if cmd.Annotations[skipValidation] == "true" {
		load = loader.LoadWithFileWithoutValidation
	}
	cfg, err := load(a.cfgFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	a.cfg = cfg

	var out io.Writer = cmd.ErrOrStderr()
	if cfg.Log.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
		}
		a.logFile = rotating
		out = io.MultiWriter(out, rotating)
	}

	a.logger = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: logLevel(cfg)}))
	slog.SetDefault(a.logger)
	a.logger.Debug("configuration loaded", "file", loader.GetConfigFileUsed())
	return nil
}

func (a *app) teardown() {
	if a.logFile != nil {
		_ = a.logFile.Close()
		a.logFile = nil
	}
}

func logLevel(cfg *config.Config) slog.Level {
	if cfg.Verbose {
		return slog.LevelDebug
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// writeOutput writes s to file, or to the command's stdout when file is empty.
func writeOutput(cmd *cobra.Command, file, s string) error {
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	if file == "" {
		_, err := io.WriteString(cmd.OutOrStdout(), s)
		return err
	}
	if err := os.WriteFile(file, []byte(s), 0o644); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}
