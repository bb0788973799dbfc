// File: internal/attempt/adapter.go
package attempt

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Selectors for the SyncShare extension's in-page UI. The extension injects a
// YUI-styled menu next to each question: a span with a generated yui_ id whose
// hover opens a submenu of ranked suggestions. Moodle often renders several
// questions per page, so every locator is indexable by control position.
const (
	// extensionControlXPath matches one extension control: a yui_-prefixed
	// span that carries the item-label menu or the literal «Рекомендации»
	// entry.
	extensionControlXPath = `//span[starts-with(@id, 'yui_')][.//*[contains(@class, 'item-label')] or contains(., 'Рекомендации')]`

	// extensionControlSelector is the wait target for "any control present".
	extensionControlSelector = extensionControlXPath

	// extensionControlCountExpr counts the controls on the current page.
	extensionControlCountExpr = `document.evaluate("count(` + extensionControlXPath + `)", document, null, XPathResult.NUMBER_TYPE, null).numberValue`
)

// controlLocator addresses the nth extension control on the page (1-based).
func controlLocator(control int) string {
	return fmt.Sprintf("(%s)[%d]", extensionControlXPath, control)
}

// recommendationItemLocator is the menu entry whose hover expands the
// control's submenu of candidates.
func recommendationItemLocator(control int) string {
	return controlLocator(control) + `//*[contains(@class, 'item-label')]`
}

// submenuLocator is the expanded suggestion list of one control.
func submenuLocator(control int) string {
	return controlLocator(control) + `//ul[contains(@class, 'sub-menu')]`
}

// candidateScope addresses all suggestions of one control. The extension
// renders candidates in descending likelihood, so DOM order is the ranking.
// The fallback form covers extension builds whose submenu items carry no
// item-label span.
func candidateScope(control int, fallback bool) string {
	if fallback {
		return submenuLocator(control) + `//li`
	}
	return submenuLocator(control) + `//li[contains(@class, 'menu-item')]//span[contains(@class, 'item-label')]`
}

func candidateCountExpr(control int, fallback bool) string {
	return fmt.Sprintf(`document.evaluate("count(%s)", document, null, XPathResult.NUMBER_TYPE, null).numberValue`, candidateScope(control, fallback))
}

// candidateLocator addresses one suggestion (1-based rank) of one control.
func candidateLocator(control, rank int, fallback bool) string {
	return fmt.Sprintf("(%s)[%d]", candidateScope(control, fallback), rank)
}

// probeTimeout bounds cheap best-effort lookups that must not stall the loop.
const probeTimeout = 2 * time.Second

// Adapter isolates every extension-specific lookup behind ReadQuestions and
// SelectCandidate so the driver's state machine stays markup-free.
type Adapter struct {
	session     Session
	waitTimeout time.Duration
	logger      *zap.Logger
}

// NewAdapter builds an adapter over the given session. waitTimeout bounds
// each element wait.
func NewAdapter(session Session, waitTimeout time.Duration, logger *zap.Logger) *Adapter {
	return &Adapter{
		session:     session,
		waitTimeout: waitTimeout,
		logger:      logger.Named("recommendation_adapter"),
	}
}

// ReadQuestions locates every extension control on the current page and
// returns one view per control, in page order. The extension loads its data
// asynchronously, so the initial control wait doubles as the poll the page
// needs. Returns ErrElementNotReady when no control appears within the
// timeout.
func (a *Adapter) ReadQuestions(ctx context.Context, page int) ([]QuestionView, error) {
	if err := a.session.WaitVisible(ctx, extensionControlSelector, a.waitTimeout); err != nil {
		return nil, notReady(ctx, err)
	}

	var count float64
	if err := a.session.Evaluate(ctx, extensionControlCountExpr, &count, a.waitTimeout); err != nil {
		return nil, notReady(ctx, err)
	}
	total := int(count)

	views := make([]QuestionView, 0, total)
	for control := 1; control <= total; control++ {
		view, err := a.readControl(ctx, control)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// One stubborn control must not cost the rest of the page.
			a.logger.Warn("Could not open suggestion menu.",
				zap.Int("control", control), zap.Error(err))
			view = QuestionView{Index: control - 1, RecommendationControlPresent: true}
		}
		views = append(views, view)
	}

	a.logger.Debug("Read page.", zap.Int("page", page+1), zap.Int("controls", total))
	return views, nil
}

// readControl opens one control's submenu by hovering, the way a pointer
// would, and enumerates its candidates.
func (a *Adapter) readControl(ctx context.Context, control int) (QuestionView, error) {
	view := QuestionView{Index: control - 1, RecommendationControlPresent: true}

	if err := a.session.Hover(ctx, controlLocator(control), a.waitTimeout); err != nil {
		return view, notReady(ctx, err)
	}
	if err := a.session.Hover(ctx, recommendationItemLocator(control), a.waitTimeout); err != nil {
		return view, notReady(ctx, err)
	}

	if err := a.session.WaitVisible(ctx, submenuLocator(control), a.waitTimeout); err != nil {
		if ctx.Err() != nil {
			return view, ctx.Err()
		}
		// Control present but no suggestions rendered: report an empty view
		// and let the driver skip the question.
		a.logger.Debug("Submenu never appeared.", zap.Int("control", control))
		return view, nil
	}

	candidates, err := a.enumerateCandidates(ctx, control)
	if err != nil {
		return view, notReady(ctx, err)
	}
	view.Candidates = candidates
	return view, nil
}

// enumerateCandidates counts one control's rendered suggestions and addresses
// each by its 1-based position, which is also its rank.
func (a *Adapter) enumerateCandidates(ctx context.Context, control int) ([]AnswerCandidate, error) {
	fallback := false

	var count float64
	if err := a.session.Evaluate(ctx, candidateCountExpr(control, false), &count, a.waitTimeout); err != nil {
		return nil, err
	}
	if int(count) == 0 {
		fallback = true
		if err := a.session.Evaluate(ctx, candidateCountExpr(control, true), &count, a.waitTimeout); err != nil {
			return nil, err
		}
	}

	total := int(count)
	candidates := make([]AnswerCandidate, 0, total)
	for rank := 1; rank <= total; rank++ {
		locator := candidateLocator(control, rank, fallback)
		label, err := a.session.Text(ctx, locator, probeTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			label = ""
		}
		candidates = append(candidates, AnswerCandidate{
			Rank:    rank,
			Locator: locator,
			Label:   label,
		})
	}
	return candidates, nil
}

// SelectCandidate clicks the given suggestion. The session's click waits for
// the element to become clickable first, since the extension's menu can
// render before it accepts input. Timeout surfaces as ErrElementNotReady.
func (a *Adapter) SelectCandidate(ctx context.Context, candidate AnswerCandidate) error {
	if err := a.session.Click(ctx, candidate.Locator, a.waitTimeout); err != nil {
		return notReady(ctx, err)
	}
	a.logger.Info("Selected answer.",
		zap.Int("rank", candidate.Rank),
		zap.String("label", candidate.Label))
	return nil
}
