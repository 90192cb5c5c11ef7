// Maintlink - training panel PLC link
//
// Keeps a supervised connection to the maintenance-training panel
// controller and serves its live state to the web dashboard, the terminal
// dashboard and optional MQTT, Valkey and Kafka brokers.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"maintlink/config"
	"maintlink/engine"
	"maintlink/logging"
	"maintlink/tui"
)

// Version is set at build time via -ldflags
var Version = "dev"

type options struct {
	configPath string
	host       string
	headless   bool
	logPath    string
	logLevel   string
	debug      string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "maintlink",
		Short: "Maintenance-training panel PLC link",
		Long: `maintlink keeps a supervised connection to the training panel controller,
polls its I/O and fault blocks and serves the decoded state to the web
dashboard, the terminal dashboard and any configured brokers.

Run without a subcommand to start the link.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath(), "Path to configuration file")

	f := root.Flags()
	f.StringVar(&opts.host, "host", "", "Controller host (overrides config)")
	f.BoolVar(&opts.headless, "headless", false, "Disable the terminal dashboard")
	f.StringVar(&opts.logPath, "log", "", "Path to log file (overrides config)")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&opts.debug, "debug", "", "Enable protocol debug logging, optionally filtered (e.g. s7,mqtt)")
	// --debug alone enables every protocol.
	f.Lookup("debug").NoOptDefVal = "all"

	root.AddCommand(newVersionCmd(), newWriteConfigCmd(opts))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "maintlink %s\n", Version)
		},
	}
}

func newWriteConfigCmd(opts *options) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "write-config",
		Short: "Write the default configuration to --config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(opts.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", opts.configPath)
			}
			if err := config.DefaultConfig().Save(opts.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.configPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

// run is the startup flow for both dashboard and headless modes.
func run(ctx context.Context, opts *options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.host != "" {
		cfg.SetHost(opts.host)
	}

	logPath := firstNonEmpty(opts.logPath, cfg.Log.Path)
	if logPath == "" && !opts.headless {
		// The dashboard owns the terminal.
		logPath = filepath.Join(filepath.Dir(opts.configPath), "maintlink.log")
	}
	logger, err := logging.Init(logging.Options{
		Path:  logPath,
		Level: firstNonEmpty(opts.logLevel, cfg.Log.Level),
	})
	if err != nil {
		return err
	}
	defer logging.Sync()

	if !opts.headless {
		// Stray writes to stderr (panics, library output) go to the log file.
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			redirectStderr(f)
			defer f.Close()
		}
	}

	if dl := setupDebugLog(cfg.Log, opts.debug); dl != nil {
		defer dl.Close()
	}

	eng, err := engine.New(engine.Config{AppConfig: cfg, ConfigPath: opts.configPath})
	if err != nil {
		return err
	}
	if err := eng.Start(); err != nil {
		return err
	}
	defer eng.Stop()

	logger.Info("maintlink started",
		zap.String("version", Version),
		zap.String("controller", cfg.PLC.Address()),
		zap.String("family", cfg.PLC.Family.String()),
		zap.Bool("headless", opts.headless))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.headless {
		if w := eng.Web(); w != nil {
			fmt.Printf("maintlink running headless, web on http://%s (Ctrl+C to stop)\n", w.Address())
		} else {
			fmt.Println("maintlink running headless (Ctrl+C to stop)")
		}
		<-ctx.Done()
		logger.Info("shutting down")
		return nil
	}

	app := tui.NewApp(eng)
	go func() {
		<-ctx.Done()
		app.Shutdown()
	}()
	if err := app.Run(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("dashboard closed, shutting down")
	return nil
}

// setupDebugLog installs the protocol debug log when --debug is given or the
// config names a debug log path.
func setupDebugLog(lc config.LogConfig, flag string) *logging.DebugLogger {
	if flag == "" && lc.DebugPath == "" {
		return nil
	}

	path := firstNonEmpty(lc.DebugPath, "debug.log")
	dl, err := logging.NewDebugLogger(path)
	if err != nil {
		logging.L().Warn("debug log unavailable", zap.String("path", path), zap.Error(err))
		return nil
	}

	filter := firstNonEmpty(flag, lc.DebugFilter)
	if filter == "all" || filter == "true" || filter == "1" {
		filter = ""
	}
	dl.SetFilter(filter)
	logging.SetGlobalDebugLogger(dl)
	if filter == "" {
		logging.L().Info("debug logging enabled (all protocols)", zap.String("path", path))
	} else {
		logging.L().Info("debug logging enabled", zap.String("filter", filter), zap.String("path", path))
	}
	return dl
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
