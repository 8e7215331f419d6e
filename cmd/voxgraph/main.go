// Command voxgraph evaluates node graphs of mesh and voxel operations.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/chazu/voxgraph/pkg/config"
	"github.com/chazu/voxgraph/pkg/logging"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	workers    int

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "voxgraph",
	Short: "Evaluate mesh and voxel node graphs",
	Long: `voxgraph builds node graphs from Lisp scripts or YAML documents and
evaluates them incrementally: only nodes whose inputs changed are
recomputed, and results are cached by content fingerprint.

Examples:
  voxgraph eval part.lisp --out part.stl
  voxgraph watch part.lisp
  voxgraph convert part.lisp > part.yaml`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: none)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "concurrent node computations")

	rootCmd.AddCommand(evalCmd, watchCmd, validateCmd, convertCmd)
}

// setup loads the config, applies flag overrides and installs the logger.
func setup(cmd *cobra.Command, _ []string) error {
	cfg = config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if cmd.Flags().Changed("workers") {
		cfg.Executor.Workers = workers
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logging.SetLogger(newLogger(cmd.ErrOrStderr(), cfg.Level()))
	return nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

// exitError ends the process with code after the command printed its own
// diagnostics.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }
