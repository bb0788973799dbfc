// File: cmd/login.go
package cmd

import (
	"bufio"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mchomak/quizpilot/internal/auth"
	"github.com/mchomak/quizpilot/internal/browser"
	"github.com/mchomak/quizpilot/internal/observability"
)

// newLoginCmd creates the `login` command: open the browser, let the
// operator sign in by hand, and persist the session cookies for later runs.
func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [url]",
		Short: "Opens the browser for a manual login and saves the session cookies",
		Long: `Launches Chrome with the extension loaded and navigates to the given URL,
or to the origin of the first configured test URL. Sign in manually, come
back to the terminal, and press Enter; the session cookies are then written
to the configured cookie file so future runs skip the login form.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return exitWith(ExitFatal, err)
			}

			target, err := loginURL(args, cfg.Run.TestURLs)
			if err != nil {
				return exitWith(ExitFatal, err)
			}

			manager := browser.NewManager(cfg.Browser, logger)
			if err := manager.Start(ctx); err != nil {
				return exitWith(ExitFatal, fmt.Errorf("failed to start browser: %w", err))
			}
			defer manager.Shutdown()

			session := manager.NewSession()
			if err := session.Navigate(ctx, target, 0); err != nil {
				return exitWith(ExitFatal, err)
			}

			fmt.Println()
			fmt.Println("The browser is open. Sign in to the platform manually.")
			fmt.Println("When you are logged in, come back here and press Enter.")
			fmt.Println()
			fmt.Print(">>> Press Enter after signing in... ")

			done := make(chan error, 1)
			go func() {
				_, err := bufio.NewReader(os.Stdin).ReadString('\n')
				done <- err
			}()
			select {
			case <-ctx.Done():
				return exitWith(ExitFatal, ctx.Err())
			case err := <-done:
				if err != nil {
					return exitWith(ExitFatal, fmt.Errorf("could not read confirmation: %w", err))
				}
			}

			store := auth.NewStore(cfg.Auth.CookieFile, logger)
			provider := auth.NewProvider(session, store, cfg.Auth, cfg.Run.WaitTimeout, logger)
			if err := provider.Persist(ctx); err != nil {
				return exitWith(ExitFatal, fmt.Errorf("failed to save cookies: %w", err))
			}

			fmt.Printf("\nCookies saved to %s\n", cfg.Auth.CookieFile)
			logger.Info("Manual login persisted.", zap.String("cookie_file", cfg.Auth.CookieFile))
			return nil
		},
	}
}

// loginURL picks the page to open: the explicit argument, or the origin of
// the first configured test URL.
func loginURL(args, testURLs []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if len(testURLs) == 0 {
		return "", fmt.Errorf("give a URL argument or configure run.test_urls")
	}
	parsed, err := url.Parse(testURLs[0])
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("first test URL %q is not an absolute URL", testURLs[0])
	}
	return fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host), nil
}

func init() {
	rootCmd.AddCommand(newLoginCmd())
}
