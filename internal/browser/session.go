// File: internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// defaultNavigationTimeout bounds page loads, which can legitimately take far
// longer than individual element waits.
const defaultNavigationTimeout = 90 * time.Second

// Session is the handle to the one live browser tab the run drives. It is
// exclusively owned: the attempt driver holds it for the duration of one
// attempt, and nothing else touches it concurrently.
type Session struct {
	id     string
	ctx    context.Context
	logger *zap.Logger
}

// NewSession wraps an initialized chromedp browser context.
func NewSession(ctx context.Context, logger *zap.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:     id,
		ctx:    ctx,
		logger: logger.Named("session").With(zap.String("session_id", id)),
	}
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string { return s.id }

// run executes chromedp actions under both the session lifetime and the
// caller's context, with an optional per-operation timeout. Closing the
// browser cancels s.ctx, which unblocks every in-flight wait.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	if timeout > 0 {
		var tcancel context.CancelFunc
		opCtx, tcancel = context.WithTimeout(opCtx, timeout)
		defer tcancel()
	}

	return chromedp.Run(opCtx, actions...)
}

// Navigate loads the URL and waits for the document body to be ready.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	s.logger.Debug("Navigating.", zap.String("url", url))
	if timeout <= 0 {
		timeout = defaultNavigationTimeout
	}
	err := s.run(ctx, timeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// CurrentURL returns the location of the active document.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, 10*time.Second, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("could not read current URL: %w", err)
	}
	return loc, nil
}

// WaitVisible blocks until the element is visible or the timeout elapses.
// The selector may be CSS or XPath.
func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.BySearch))
}

// Click waits for the element to be visible and enabled, then clicks it.
func (s *Session) Click(ctx context.Context, selector string, timeout time.Duration) error {
	s.logger.Debug("Clicking.", zap.String("selector", selector))
	return s.run(ctx, timeout, chromedp.Tasks{
		chromedp.WaitVisible(selector, chromedp.BySearch),
		chromedp.WaitEnabled(selector, chromedp.BySearch),
		chromedp.ScrollIntoView(selector, chromedp.BySearch),
		chromedp.Click(selector, chromedp.BySearch),
	})
}

// Hover moves the mouse to the center of the element, triggering the same
// mouseover path a human pointer would. The extension menu opens on hover,
// so a synthetic JS event is not enough here.
func (s *Session) Hover(ctx context.Context, selector string, timeout time.Duration) error {
	s.logger.Debug("Hovering.", zap.String("selector", selector))
	action := chromedp.QueryAfter(selector,
		func(qctx context.Context, execCtx runtime.ExecutionContextID, nodes ...*cdp.Node) error {
			if len(nodes) == 0 {
				return fmt.Errorf("no node matched %q", selector)
			}
			box, err := dom.GetBoxModel().WithNodeID(nodes[0].NodeID).Do(qctx)
			if err != nil {
				return fmt.Errorf("box model for %q: %w", selector, err)
			}
			if len(box.Content) < 6 {
				return fmt.Errorf("degenerate box for %q", selector)
			}
			x := (box.Content[0] + box.Content[4]) / 2
			y := (box.Content[1] + box.Content[5]) / 2
			return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(qctx)
		},
		chromedp.BySearch, chromedp.NodeVisible)
	return s.run(ctx, timeout, action)
}

// Text returns the trimmed text content of the first matching element.
func (s *Session) Text(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	var text string
	if err := s.run(ctx, timeout, chromedp.Text(selector, &text, chromedp.BySearch)); err != nil {
		return "", err
	}
	return text, nil
}

// Attribute returns the value of the named attribute on the first matching
// element, with ok=false when the attribute is absent.
func (s *Session) Attribute(ctx context.Context, selector, name string, timeout time.Duration) (string, bool, error) {
	var value string
	var ok bool
	if err := s.run(ctx, timeout, chromedp.AttributeValue(selector, name, &value, &ok, chromedp.BySearch)); err != nil {
		return "", false, err
	}
	return value, ok, nil
}

// Fill clears the element and types the value into it.
func (s *Session) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	return s.run(ctx, timeout, chromedp.Tasks{
		chromedp.WaitVisible(selector, chromedp.BySearch),
		chromedp.Clear(selector, chromedp.BySearch),
		chromedp.SendKeys(selector, value, chromedp.BySearch),
	})
}

// Evaluate runs a JavaScript expression in the current document and
// optionally unmarshals the result into out.
func (s *Session) Evaluate(ctx context.Context, expression string, out any, timeout time.Duration) error {
	return s.run(ctx, timeout, chromedp.Evaluate(expression, out))
}

// Cookies returns all cookies of the browser context.
func (s *Session) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := s.run(ctx, 15*time.Second, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("could not read cookies: %w", err)
	}
	return cookies, nil
}

// SetCookies installs the given cookies into the browser context.
func (s *Session) SetCookies(ctx context.Context, cookies []*network.CookieParam) error {
	if len(cookies) == 0 {
		return nil
	}
	err := s.run(ctx, 15*time.Second, chromedp.ActionFunc(func(c context.Context) error {
		return storage.SetCookies(cookies).Do(c)
	}))
	if err != nil {
		return fmt.Errorf("could not set cookies: %w", err)
	}
	return nil
}
