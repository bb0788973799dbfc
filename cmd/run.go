// File: cmd/run.go
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mchomak/quizpilot/internal/attempt"
	"github.com/mchomak/quizpilot/internal/auth"
	"github.com/mchomak/quizpilot/internal/browser"
	"github.com/mchomak/quizpilot/internal/observability"
	"github.com/mchomak/quizpilot/internal/reporting"
)

// newRunCmd creates and configures the `run` command, the batch workflow.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [test-urls...]",
		Short: "Runs through the configured tests and submits each attempt",
		Long: `Opens Chrome with the recommendation extension, authenticates, then drives
every configured test in order: start the attempt, pick the top-ranked
suggestion for each question, advance, and submit. With test mode on, each
attempt pauses before submission until Enter is pressed.

Exit codes: 0 when every target ended completed or paused, 1 when at least
one target errored, 2 on configuration or login failure.`,
		Args: cobra.ArbitraryArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their viper keys so CLI flags override the
			// config file and environment with the right precedence.
			if err := viper.BindPFlag("run.test_mode", cmd.Flags().Lookup("test-mode")); err != nil {
				return err
			}
			if err := viper.BindPFlag("run.wait_timeout", cmd.Flags().Lookup("wait-timeout")); err != nil {
				return err
			}
			return viper.BindPFlag("run.question_delay", cmd.Flags().Lookup("question-delay"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Signal-aware context from main.go.
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Run.TestURLs = args
			}
			if err := cfg.ValidateRun(); err != nil {
				return exitWith(ExitFatal, err)
			}

			outputPath, _ := cmd.Flags().GetString("output")

			logger.Info("Starting batch run",
				zap.Int("targets", len(cfg.Run.TestURLs)),
				zap.Bool("test_mode", cfg.Run.TestMode),
				zap.Duration("wait_timeout", cfg.Run.WaitTimeout),
				zap.Duration("question_delay", cfg.Run.QuestionDelay))

			manager := browser.NewManager(cfg.Browser, logger)
			if err := manager.Start(ctx); err != nil {
				return exitWith(ExitFatal, fmt.Errorf("failed to start browser: %w", err))
			}
			defer manager.Shutdown()

			session := manager.NewSession()
			store := auth.NewStore(cfg.Auth.CookieFile, logger)
			provider := auth.NewProvider(session, store, cfg.Auth, cfg.Run.WaitTimeout, logger)
			if err := provider.EnsureLoggedIn(ctx, cfg.Run.TestURLs[0]); err != nil {
				return exitWith(ExitFatal, err)
			}

			var resume <-chan struct{}
			if cfg.Run.TestMode {
				fmt.Println("Test mode is on: each test pauses before submission.")
				fmt.Println("Review the answers in the browser, then press Enter here to submit.")
				resume = consoleResume(ctx)
			}

			adapter := attempt.NewAdapter(session, cfg.Run.WaitTimeout, logger)
			driver := attempt.NewDriver(
				session,
				adapter,
				attempt.NewPacer(cfg.Run.QuestionDelay),
				attempt.Config{
					TestMode:      cfg.Run.TestMode,
					WaitTimeout:   cfg.Run.WaitTimeout,
					QuestionDelay: cfg.Run.QuestionDelay,
				},
				resume,
				logger,
			)
			orch := attempt.NewOrchestrator(driver, logger)

			targets := make([]attempt.TestTarget, len(cfg.Run.TestURLs))
			for i, u := range cfg.Run.TestURLs {
				targets[i] = attempt.TestTarget{URL: u}
			}

			results := orch.Run(ctx, targets)

			printSummary(results)

			if outputPath != "" {
				if err := writeReport(results, outputPath, logger); err != nil {
					return err
				}
			}

			errored := 0
			for _, result := range results {
				if result.Outcome == attempt.OutcomeErrored {
					errored++
				}
			}
			if errored > 0 {
				return exitWith(ExitAttemptErrors,
					fmt.Errorf("%d of %d targets errored", errored, len(results)))
			}
			return nil
		},
	}

	runCmd.Flags().StringP("output", "o", "", "File path for the JSON run report. If unset, no report is written.")
	runCmd.Flags().Bool("test-mode", false, "Pause each attempt before submission for manual review. (Overrides config/env)")
	runCmd.Flags().Duration("wait-timeout", 0, "Max wait for any single UI element. (Overrides config/env)")
	runCmd.Flags().Duration("question-delay", 0, "Minimum spacing between question interactions. (Overrides config/env)")

	return runCmd
}

// consoleResume turns Enter presses on stdin into resume signals for the
// test-mode pause. The goroutine ends with the run context.
func consoleResume(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case ch <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func printSummary(results []attempt.RunResult) {
	fmt.Println()
	fmt.Println("Run summary:")
	for _, result := range results {
		line := fmt.Sprintf("  [%-9s] %s", result.Outcome, result.Target.URL)
		if result.Detail != "" {
			line += ": " + result.Detail
		}
		fmt.Println(line)
	}
	fmt.Println()
}

func writeReport(results []attempt.RunResult, outputPath string, logger *zap.Logger) error {
	reporter, err := reporting.New(outputPath)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	defer func() {
		if err := reporter.Close(); err != nil {
			logger.Error("Failed to close reporter", zap.Error(err))
		}
	}()

	if err := reporter.Write(results); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	logger.Info("Report written.", zap.String("path", outputPath))
	return nil
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}
