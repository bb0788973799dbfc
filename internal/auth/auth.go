// File: internal/auth/auth.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"

	"github.com/mchomak/quizpilot/internal/config"
)

// ErrSessionAcquisition means no authenticated session could be obtained.
// Fatal for the whole run: nothing downstream works without it.
var ErrSessionAcquisition = errors.New("session acquisition failed")

const (
	loginFieldSelector    = `input[type='text'], input[type='email'], input[name='username']`
	passwordFieldSelector = `input[type='password']`

	// passwordPresentExpr is an instant presence probe; unlike a visibility
	// wait it does not burn the full timeout when the form is absent.
	passwordPresentExpr = `document.querySelector("input[type='password']") !== null`
)

// submitSelectors are tried in priority order; the keyword XPath covers forms
// whose button carries no submit type.
var submitSelectors = []string{
	`button[type='submit']`,
	`input[type='submit']`,
	`//button[contains(text(), 'Войти')] | //button[contains(text(), 'Вход')] | //button[contains(text(), 'Login')] | //button[contains(text(), 'Log in')] | //button[contains(text(), 'Sign in')]`,
}

// loginURLIndicators flag a current URL as the platform's login page.
var loginURLIndicators = []string{"login", "/auth", "signin", "sign-in", "logon"}

// Session is the slice of the browser session the provider needs.
type Session interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	CurrentURL(ctx context.Context) (string, error)
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string, timeout time.Duration) error
	Fill(ctx context.Context, selector, value string, timeout time.Duration) error
	Evaluate(ctx context.Context, expression string, out any, timeout time.Duration) error
	Cookies(ctx context.Context) ([]*network.Cookie, error)
	SetCookies(ctx context.Context, cookies []*network.CookieParam) error
}

// Provider turns a fresh browser session into an authenticated one: replay
// stored cookies first, fall back to the login form, persist on success.
type Provider struct {
	session     Session
	store       *Store
	cfg         config.AuthConfig
	waitTimeout time.Duration
	logger      *zap.Logger
}

// NewProvider wires a session provider.
func NewProvider(session Session, store *Store, cfg config.AuthConfig, waitTimeout time.Duration, logger *zap.Logger) *Provider {
	return &Provider{
		session:     session,
		store:       store,
		cfg:         cfg,
		waitTimeout: waitTimeout,
		logger:      logger.Named("auth"),
	}
}

// EnsureLoggedIn makes the session authenticated for checkURL. The page is
// opened first so cookies bind to the right domain, then re-opened after
// replay because only the server's response reveals whether the session is
// still valid. Every failure wraps ErrSessionAcquisition.
func (p *Provider) EnsureLoggedIn(ctx context.Context, checkURL string) error {
	if err := p.session.Navigate(ctx, checkURL, 0); err != nil {
		return fmt.Errorf("%w: could not open %s: %v", ErrSessionAcquisition, checkURL, err)
	}

	params, err := p.store.Load()
	if err != nil {
		p.logger.Warn("Cookie store unreadable, falling back to form login.", zap.Error(err))
	}
	if len(params) > 0 {
		if err := p.session.SetCookies(ctx, params); err != nil {
			p.logger.Warn("Could not install stored cookies.", zap.Error(err))
		} else {
			if err := p.session.Navigate(ctx, checkURL, 0); err != nil {
				return fmt.Errorf("%w: could not re-open %s: %v", ErrSessionAcquisition, checkURL, err)
			}
			loggedIn, err := p.isLoggedIn(ctx)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrSessionAcquisition, err)
			}
			if loggedIn {
				p.logger.Info("Authenticated via stored cookies.")
				return nil
			}
			p.logger.Warn("Stored cookies rejected by the server, performing form login.")
		}
	}

	if err := p.performLogin(ctx); err != nil {
		return err
	}
	if err := p.Persist(ctx); err != nil {
		// The session itself is good; a failed save only costs the next run
		// an interactive login.
		p.logger.Warn("Could not persist cookies after login.", zap.Error(err))
	}
	return nil
}

// Persist saves the session's current cookies to the store.
func (p *Provider) Persist(ctx context.Context) error {
	cookies, err := p.session.Cookies(ctx)
	if err != nil {
		return err
	}
	return p.store.Save(cookies)
}

// isLoggedIn applies the combined heuristic: a login-looking URL or a visible
// password field means the server wants credentials.
func (p *Provider) isLoggedIn(ctx context.Context) (bool, error) {
	current, err := p.session.CurrentURL(ctx)
	if err != nil {
		return false, err
	}
	lowered := strings.ToLower(current)
	for _, indicator := range loginURLIndicators {
		if strings.Contains(lowered, indicator) {
			p.logger.Debug("URL looks like a login page.", zap.String("url", current))
			return false, nil
		}
	}

	var passwordPresent bool
	if err := p.session.Evaluate(ctx, passwordPresentExpr, &passwordPresent, p.waitTimeout); err != nil {
		return false, err
	}
	return !passwordPresent, nil
}

// performLogin drives the platform's login form with the configured
// credentials and waits for the form to disappear.
func (p *Provider) performLogin(ctx context.Context) error {
	if p.cfg.Login == "" || p.cfg.Password == "" {
		return fmt.Errorf("%w: no valid cookies and no credentials configured", ErrSessionAcquisition)
	}
	p.logger.Info("Performing form login.", zap.String("login", p.cfg.Login))

	if err := p.session.WaitVisible(ctx, loginFieldSelector, p.waitTimeout); err != nil {
		return fmt.Errorf("%w: login form did not appear: %v", ErrSessionAcquisition, err)
	}
	if err := p.session.Fill(ctx, loginFieldSelector, p.cfg.Login, p.waitTimeout); err != nil {
		return fmt.Errorf("%w: could not fill login field: %v", ErrSessionAcquisition, err)
	}
	if err := p.session.Fill(ctx, passwordFieldSelector, p.cfg.Password, p.waitTimeout); err != nil {
		return fmt.Errorf("%w: could not fill password field: %v", ErrSessionAcquisition, err)
	}

	if err := p.clickSubmit(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionAcquisition, err)
	}

	if err := p.waitFormGone(ctx); err != nil {
		return fmt.Errorf("%w: login form still visible after submit: %v", ErrSessionAcquisition, err)
	}

	loggedIn, err := p.isLoggedIn(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionAcquisition, err)
	}
	if !loggedIn {
		return fmt.Errorf("%w: credentials were not accepted", ErrSessionAcquisition)
	}

	p.logger.Info("Form login succeeded.")
	return nil
}

func (p *Provider) clickSubmit(ctx context.Context) error {
	for _, selector := range submitSelectors {
		if err := p.session.Click(ctx, selector, 2*time.Second); err == nil {
			return nil
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return errors.New("submit button not found on login form")
}

// waitFormGone polls until the password field leaves the DOM.
func (p *Provider) waitFormGone(ctx context.Context) error {
	deadline := time.Now().Add(p.waitTimeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		var present bool
		if err := p.session.Evaluate(ctx, passwordPresentExpr, &present, p.waitTimeout); err != nil {
			return err
		}
		if !present {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("timed out")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
