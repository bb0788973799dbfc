// File: internal/browser/allocator.go
package browser

import (
	"path/filepath"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/mchomak/quizpilot/internal/config"
)

// AllocatorOptions translates the browser configuration into chromedp exec
// allocator options. The set deliberately does not start from
// chromedp.DefaultExecAllocatorOptions: those include --disable-extensions
// and headless mode, both of which would break the recommendation extension.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	extPath, err := filepath.Abs(cfg.ExtensionPath)
	if err != nil {
		extPath = cfg.ExtensionPath
	}

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		// Persistent profile keeps cookies and the extension's own state.
		chromedp.UserDataDir(cfg.ProfilePath),
		chromedp.Flag("load-extension", extPath),
		// Chrome 137+ gates --load-extension behind this feature switch.
		chromedp.Flag("disable-features", "DisableLoadExtensionCommandLineSwitch"),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("start-maximized", true),
	}

	// Additional flags from the config file's 'args' slice, either boolean
	// ("--no-zygote") or key=value form.
	for _, arg := range cfg.Args {
		if !strings.Contains(arg, "=") {
			opts = append(opts, chromedp.Flag(strings.TrimPrefix(arg, "--"), true))
			continue
		}
		parts := strings.SplitN(arg, "=", 2)
		opts = append(opts, chromedp.Flag(strings.TrimPrefix(parts[0], "--"), parts[1]))
	}

	return opts
}
