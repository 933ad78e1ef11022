// Package main implements the fastgo CLI — a thin driver over the
// discovery, fixture, VM, and executor packages in internal/. The CLI
// surface itself is out of scope per the runner's own specification;
// it exists only so the core packages have a realistic caller, the way
// the teacher's cmd/nerd is a thin shell over codenerd's internal
// packages.
//
// # File Index
//
//   - main.go    - entry point, rootCmd, global flags, PersistentPreRunE/PostRun
//   - cmd_run.go - `fastgo run`: discover, resolve fixtures, execute, print summary
//   - cmd_collect.go - `fastgo collect`: discovery only, optional --watch
//   - cmd_fixtures.go - `fastgo fixtures graph`: dump the resolved fixture graph
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"fastgo/internal/config"
	"fastgo/internal/logging"
)

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "fastgo",
	Short: "fastgo - a high-throughput, host-framework-compatible test runner",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		if verbose {
			cfg.Logging.DebugMode = true
		}

		root, _ := os.Getwd()
		if err := logging.Configure(root, cfg.Logging.DebugMode, cfg.Logging.Level, cfg.Logging.JSONFormat, cfg.Logging.Categories); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to configure file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "fastgo.yaml", "path to fastgo.yaml")
	rootCmd.AddCommand(runCmd, collectCmd, fixturesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
