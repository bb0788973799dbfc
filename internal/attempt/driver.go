// File: internal/attempt/driver.go
package attempt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Moodle quiz controls. The start button id is stable across the target
// deployment; the text alternates cover other layouts and locales.
const (
	startControlSelector = `//*[@id='single_button699367099b08216'] | //button[contains(text(), 'Пройти тест')] | //input[@value='Пройти тест'] | //button[contains(text(), 'Attempt quiz')]`

	// navControlSelector is both "next page" and "finish attempt": Moodle
	// reuses one control and only swaps its label on the last page.
	navControlSelector = `#mod_quiz-next-nav`

	// finishControlSelector is the standalone submit control some themes
	// render instead of the shared nav button.
	finishControlSelector = `//button[contains(text(), 'Закончить попытку')] | //input[contains(@value, 'Закончить')] | //button[contains(text(), 'Submit all')]`
)

// finishKeywords mark the nav control's label on the last page.
var finishKeywords = []string{"Закончить", "Завершить", "Finish", "Submit"}

func isFinishLabel(label string) bool {
	for _, kw := range finishKeywords {
		if strings.Contains(label, kw) {
			return true
		}
	}
	return false
}

// Pacer spaces question interactions so the cadence stays plausible to
// anti-automation heuristics. *rate.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// NewPacer returns a pacer enforcing at least delay between consecutive
// waits. A burst of one means the first wait is free and every later one is
// spaced a full delay from its predecessor.
func NewPacer(delay time.Duration) Pacer {
	if delay <= 0 {
		return nopPacer{}
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

type nopPacer struct{}

func (nopPacer) Wait(ctx context.Context) error { return ctx.Err() }

// Driver runs one full test attempt per target: open, walk the pages, select
// the top-ranked suggestion for every question a page holds, advance, and
// submit or pause.
type Driver struct {
	session Session
	oracle  Recommender
	pacer   Pacer
	cfg     Config
	resume  <-chan struct{}
	logger  *zap.Logger
}

// NewDriver wires the driver. resume is the out-of-band signal that releases
// a test-mode pause; it may be nil when TestMode is off.
func NewDriver(session Session, oracle Recommender, pacer Pacer, cfg Config, resume <-chan struct{}, logger *zap.Logger) *Driver {
	return &Driver{
		session: session,
		oracle:  oracle,
		pacer:   pacer,
		cfg:     cfg,
		resume:  resume,
		logger:  logger.Named("attempt_driver"),
	}
}

// RunAttempt drives target to a terminal state and reports it. It never
// retries internally and never panics on session failures; every abort path
// lands in an Errored result carrying the question it died on.
func (d *Driver) RunAttempt(ctx context.Context, target TestTarget) RunResult {
	att := newAttempt(target)
	seen := 0
	answered := 0
	log := d.logger.With(
		zap.String("attempt_id", att.ID),
		zap.String("url", target.URL),
	)

	log.Info("Opening test.")
	if err := d.session.Navigate(ctx, target.URL, 0); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrNavigationTimeout, err)
		}
		return d.failed(att, seen, answered, err, log)
	}

	if err := d.enterAttempt(ctx, log); err != nil {
		return d.failed(att, seen, answered, err, log)
	}
	att.Status = StatusInProgress

	for {
		page := att.CurrentQuestionIndex

		// One page can carry several questions, each with its own
		// recommendation control; answer all of them before advancing.
		views, err := d.oracle.ReadQuestions(ctx, page)
		switch {
		case err == nil:
		case errors.Is(err, ErrElementNotReady):
			log.Warn("Recommendation controls absent, leaving page unanswered.",
				zap.Int("page", page+1), zap.Error(err))
			views = nil
		default:
			return d.failed(att, seen, answered, questionError(seen+1, err), log)
		}

		for _, view := range views {
			seen++
			if len(view.Candidates) == 0 {
				log.Warn("No candidates suggested, leaving question unanswered.",
					zap.Int("question", seen))
				continue
			}
			if err := d.pacer.Wait(ctx); err != nil {
				return d.failed(att, seen, answered, err, log)
			}
			if serr := d.oracle.SelectCandidate(ctx, view.Candidates[0]); serr != nil {
				if !errors.Is(serr, ErrElementNotReady) {
					return d.failed(att, seen, answered, questionError(seen, serr), log)
				}
				log.Warn("Answer not clickable, leaving question unanswered.",
					zap.Int("question", seen), zap.Error(serr))
				continue
			}
			answered++
		}

		label, err := d.navLabel(ctx)
		if err != nil {
			if !errors.Is(err, ErrElementNotReady) {
				return d.failed(att, seen, answered, err, log)
			}
			// No shared nav control. A standalone finish control means the
			// last page; nothing at all is an unexpected layout.
			if perr := d.session.WaitVisible(ctx, finishControlSelector, d.cfg.WaitTimeout); perr != nil {
				if ctx.Err() != nil {
					return d.failed(att, seen, answered, ctx.Err(), log)
				}
				return d.failed(att, seen, answered,
					fmt.Errorf("page %d: unexpected failure: no navigation or finish control", page+1), log)
			}
			return d.finish(ctx, att, finishControlSelector, seen, answered, log)
		}

		if isFinishLabel(label) {
			log.Info("Reached last page.", zap.String("control_label", label))
			return d.finish(ctx, att, navControlSelector, seen, answered, log)
		}

		if err := d.session.Click(ctx, navControlSelector, d.cfg.WaitTimeout); err != nil {
			return d.failed(att, seen, answered,
				fmt.Errorf("page %d: %w", page+1, notReady(ctx, err)), log)
		}
		log.Info("Advanced to next page.", zap.Int("page", page+1), zap.Int("questions_seen", seen))
		att.CurrentQuestionIndex++
	}
}

// enterAttempt clicks the start/continue control. A missing start button with
// a visible nav control means the attempt is already open and we resume it.
func (d *Driver) enterAttempt(ctx context.Context, log *zap.Logger) error {
	err := d.session.Click(ctx, startControlSelector, d.cfg.WaitTimeout)
	if err == nil {
		log.Info("Attempt started.")
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if nerr := d.session.WaitVisible(ctx, navControlSelector, d.cfg.WaitTimeout); nerr == nil {
		log.Info("Attempt already in progress, resuming.")
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrEntryNotFound
}

// navLabel waits for the nav control and reads its label, preferring the
// value attribute (Moodle renders the control as <input>).
func (d *Driver) navLabel(ctx context.Context) (string, error) {
	if err := d.session.WaitVisible(ctx, navControlSelector, d.cfg.WaitTimeout); err != nil {
		return "", notReady(ctx, err)
	}
	if value, ok, err := d.session.Attribute(ctx, navControlSelector, "value", d.cfg.WaitTimeout); err == nil && ok && value != "" {
		return value, nil
	} else if ctx.Err() != nil {
		return "", ctx.Err()
	}
	text, err := d.session.Text(ctx, navControlSelector, d.cfg.WaitTimeout)
	if err != nil {
		return "", notReady(ctx, err)
	}
	return text, nil
}

// finish submits the attempt, or pauses first when test mode is on. The pause
// blocks until the resume signal or cancellation; cancellation leaves the
// attempt open on purpose and reports Paused, never a silent auto-submit.
func (d *Driver) finish(ctx context.Context, att *Attempt, selector string, seen, answered int, log *zap.Logger) RunResult {
	if d.cfg.TestMode {
		att.Status = StatusPausedForReview
		log.Info("Test mode: attempt paused for review. Send resume to submit.")
		select {
		case <-ctx.Done():
			log.Info("Run ended during review pause, attempt left open.")
			return d.result(att, OutcomePaused, "left open for manual review", seen, answered)
		case <-d.resume:
			log.Info("Resume received, submitting.")
		}
	}

	if err := d.session.Click(ctx, selector, d.cfg.WaitTimeout); err != nil {
		if ctx.Err() != nil {
			return d.failed(att, seen, answered, ctx.Err(), log)
		}
		return d.failed(att, seen, answered, fmt.Errorf("%w: %v", ErrFinishControlNotFound, err), log)
	}
	att.Status = StatusSubmitted
	log.Info("Attempt submitted.",
		zap.Int("questions_seen", seen),
		zap.Int("questions_answered", answered))
	return d.result(att, OutcomeCompleted, "", seen, answered)
}

func (d *Driver) failed(att *Attempt, seen, answered int, err error, log *zap.Logger) RunResult {
	att.Status = StatusFailed
	log.Error("Attempt failed.",
		zap.Int("questions_seen", seen),
		zap.Error(err))
	return d.result(att, OutcomeErrored, err.Error(), seen, answered)
}

func (d *Driver) result(att *Attempt, outcome Outcome, detail string, seen, answered int) RunResult {
	att.EndedAt = time.Now()
	return RunResult{
		Target:            att.Target,
		Outcome:           outcome,
		Detail:            detail,
		QuestionsSeen:     seen,
		QuestionsAnswered: answered,
		StartedAt:         att.StartedAt,
		EndedAt:           att.EndedAt,
	}
}

// questionError tags a failure with the 1-based question it happened on so
// the batch report alone is enough to diagnose it.
func questionError(question int, err error) error {
	return fmt.Errorf("question %d: %w", question, err)
}
