package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/panosync/internal/cloud"
	"github.com/tonimelisma/panosync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagArchiveDir string
	flagJPEGDir    string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that must run without a resolvable
// config, such as "config init" bootstrapping a new file.
const skipConfigAnnotation = "skipConfig"

// CLIFlags is a snapshot of the persistent flags for one invocation.
type CLIFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext carries per-invocation state to subcommands through the
// command context. Cfg is nil for commands annotated with skipConfig.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by the root pre-run. It panics
// when called outside a command, which is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds the root command with all subcommands registered.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "panosync",
		Short: "Archive, upload and fetch Panono camera captures",
		Long: `panosync copies raw captures off a Panono camera into a dated archive,
uploads them to the Panono cloud for stitching, waits for processing to finish
and downloads the finished equirectangular panoramas.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Credentials commonly live in .env; a missing file is fine.
			_ = godotenv.Load()

			cc := &CLIContext{
				Flags: CLIFlags{
					ConfigPath: flagConfigPath,
					JSON:       flagJSON,
					Verbose:    flagVerbose,
					Quiet:      flagQuiet,
				},
			}

			if cmd.Annotations[skipConfigAnnotation] == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}

				cc.Cfg = cfg
			}

			cc.Logger = buildLogger(os.Stderr, cc.Cfg, cc.Flags)
			slog.SetDefault(cc.Logger)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagArchiveDir, "archive-dir", "", "raw capture archive root")
	cmd.PersistentFlags().StringVar(&flagJPEGDir, "jpeg-dir", "", "processed panorama directory")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newDownloadCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer
// override chain. Directory flags only count when explicitly set.
func loadConfig(cmd *cobra.Command) (*config.Resolved, error) {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
	}

	if cmd.Flags().Changed("archive-dir") {
		cli.ArchiveDir = &flagArchiveDir
	}

	if cmd.Flags().Changed("jpeg-dir") {
		cli.JPEGDir = &flagJPEGDir
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return resolved, nil
}

// buildLogger creates the process logger. The config file sets the baseline
// level; --verbose and --quiet override it. log_format "auto" picks text on
// a terminal and JSON otherwise, which suits journald and container logs.
func buildLogger(w io.Writer, cfg *config.Resolved, flags CLIFlags) *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = cfg.Logging.LogFormat
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if useJSON(format, isTerminal(w)) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func useJSON(format string, terminal bool) bool {
	switch format {
	case "json":
		return true
	case "text":
		return false
	default:
		return !terminal
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// newCloudClient builds an API client from the network and account config.
// A zero request timeout leaves requests unbounded.
func newCloudClient(cfg *config.Resolved, logger *slog.Logger) *cloud.Client {
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	client := cloud.NewClient(cfg.Account.BaseURL, httpClient, logger)
	client.SetUserAgent(cfg.Network.UserAgent)

	return client
}

func credentials(cfg *config.Resolved) cloud.Credentials {
	return cloud.Credentials{
		Email:    cfg.Account.Email,
		Password: cfg.Account.Password,
	}
}
