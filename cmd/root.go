// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mchomak/quizpilot/internal/config"
	"github.com/mchomak/quizpilot/internal/observability"
)

// Stable exit codes, part of the CLI contract.
const (
	// ExitOK: every target ended Completed or Paused.
	ExitOK = 0
	// ExitAttemptErrors: at least one target ended Errored.
	ExitAttemptErrors = 1
	// ExitFatal: configuration or session acquisition failure, nothing ran.
	ExitFatal = 2
)

var cfgFile string

// exitError carries a specific process exit code up through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "quizpilot",
	Short: "quizpilot drives Moodle quizzes using the SyncShare extension's suggestions.",
	// Version is set at build time. See cmd/version.go.
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Runs before any command, setting up config and logging.
		if err := initializeConfig(); err != nil {
			return exitWith(ExitFatal, err)
		}

		cfg, err := config.NewFromViper(viper.GetViper())
		if err != nil {
			// Fallback logger so the failure itself is visible.
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "quizpilot"})
			return exitWith(ExitFatal, err)
		}

		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Info("Starting quizpilot", zap.String("version", Version))
		return nil
	},
}

// Execute runs the CLI with the given signal-aware context and returns the
// process exit code.
func Execute(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var exitErr *exitError
		code := ExitAttemptErrors
		if errors.As(err, &exitErr) {
			code = exitErr.code
		}
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return code
	}
	return ExitOK
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// initializeConfig reads in the config file and ENV variables if set.
func initializeConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("QUIZPILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	config.SetDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults and env vars.
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.NewFromViper(viper.GetViper())
	if err != nil {
		return nil, exitWith(ExitFatal, err)
	}
	return cfg, nil
}
