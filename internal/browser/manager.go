// File: internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/mchomak/quizpilot/internal/config"
)

// extensionSettleTime gives the extension's service worker a moment to come
// up before we look for its targets.
const extensionSettleTime = 3 * time.Second

// Manager owns the Chrome process lifecycle: allocator, browser context, and
// the single session handed to the rest of the application.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewManager creates a browser manager. Start must be called before NewSession.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.Named("browser_manager"),
	}
}

// Start prepares the extension, launches Chrome with it preloaded, and
// verifies it actually came up. The browser outlives ctx cancellation only
// until Shutdown; ctx cancellation tears the whole process tree down.
func (m *Manager) Start(ctx context.Context) error {
	if err := PrepareExtension(m.cfg.ExtensionPath, m.logger); err != nil {
		return err
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, AllocatorOptions(m.cfg)...)
	m.allocCancel = allocCancel

	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			m.logger.Debug(fmt.Sprintf(format, args...))
		}),
	)
	m.browserCtx = browserCtx
	m.browserCancel = browserCancel

	// An empty Run forces the browser process to start and CDP to connect.
	if err := chromedp.Run(browserCtx); err != nil {
		m.Shutdown()
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	m.logger.Info("Browser launched.")

	if err := m.verifyExtensionLoaded(ctx); err != nil {
		// The run can limp along without verification, but a missing
		// extension means every question will go unanswered. Fail loudly.
		m.Shutdown()
		return err
	}

	return nil
}

// verifyExtensionLoaded checks via CDP that at least one chrome-extension://
// target exists. Chrome refuses unpacked extensions silently, so without this
// check a misconfigured run would just skip every question.
func (m *Manager) verifyExtensionLoaded(ctx context.Context) error {
	select {
	case <-time.After(extensionSettleTime):
	case <-ctx.Done():
		return ctx.Err()
	}

	var infos []*target.Info
	err := chromedp.Run(m.browserCtx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		infos, err = target.GetTargets().Do(c)
		return err
	}))
	if err != nil {
		return fmt.Errorf("could not list browser targets: %w", err)
	}

	ids := extensionIDs(infos)
	if len(ids) == 0 {
		return fmt.Errorf("the recommendation extension did not load: " +
			"delete the profile directory, check the extension path, and close all other Chrome windows")
	}

	m.logger.Info("Extension loaded.", zap.Int("extensions", len(ids)))
	return nil
}

// extensionIDs collects the distinct extension IDs among the given targets.
// Extension pages and service workers live at
// chrome-extension://<id>/<path>; anything else is a regular tab.
func extensionIDs(infos []*target.Info) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, info := range infos {
		if !strings.HasPrefix(info.URL, "chrome-extension://") {
			continue
		}
		parts := strings.Split(info.URL, "/")
		if len(parts) > 2 && parts[2] != "" {
			ids[parts[2]] = struct{}{}
		}
	}
	return ids
}

// NewSession returns the session for the browser's single tab. The session is
// exclusively owned; callers must not share it across concurrent attempts.
func (m *Manager) NewSession() *Session {
	return NewSession(m.browserCtx, m.logger)
}

// Shutdown closes the browser and releases the allocator. Safe to call more
// than once and on a manager that never fully started.
func (m *Manager) Shutdown() {
	if m.browserCancel != nil {
		m.browserCancel()
		m.browserCancel = nil
	}
	if m.allocCancel != nil {
		m.allocCancel()
		m.allocCancel = nil
	}
	m.logger.Info("Browser closed.")
}
