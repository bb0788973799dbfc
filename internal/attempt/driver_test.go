// File: internal/attempt/driver_test.go
package attempt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedSession fakes the browser for driver tests: element visibility is a
// lookup table and the nav control's label follows a scripted sequence.
type scriptedSession struct {
	mu           sync.Mutex
	visible      map[string]bool
	navLabels    []string
	navReads     int
	clicks       []string
	current      string
	navigateErr  map[string]error
	waitTimeouts map[string]time.Duration
	attrTimeouts map[string]time.Duration
}

func newScriptedSession(visible ...string) *scriptedSession {
	s := &scriptedSession{
		visible:      make(map[string]bool),
		navigateErr:  make(map[string]error),
		waitTimeouts: make(map[string]time.Duration),
		attrTimeouts: make(map[string]time.Duration),
	}
	for _, sel := range visible {
		s.visible[sel] = true
	}
	return s
}

func (s *scriptedSession) Navigate(ctx context.Context, url string, _ time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = url
	return s.navigateErr[url]
}

func (s *scriptedSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitTimeouts[selector] = timeout
	if s.visible[selector] {
		return nil
	}
	return fmt.Errorf("timed out waiting for %s", selector)
}

func (s *scriptedSession) Click(ctx context.Context, selector string, _ time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.visible[selector] {
		return fmt.Errorf("timed out waiting for %s", selector)
	}
	s.clicks = append(s.clicks, selector)
	return nil
}

func (s *scriptedSession) Hover(ctx context.Context, _ string, _ time.Duration) error {
	return ctx.Err()
}

func (s *scriptedSession) Text(context.Context, string, time.Duration) (string, error) {
	return "", nil
}

func (s *scriptedSession) Attribute(ctx context.Context, selector, name string, timeout time.Duration) (string, bool, error) {
	if ctx.Err() != nil {
		return "", false, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrTimeouts[selector] = timeout
	if selector == navControlSelector && name == "value" && s.navReads < len(s.navLabels) {
		label := s.navLabels[s.navReads]
		s.navReads++
		return label, true, nil
	}
	return "", false, nil
}

func (s *scriptedSession) Evaluate(context.Context, string, any, time.Duration) error {
	return nil
}

func (s *scriptedSession) clickSequence() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clicks...)
}

func (s *scriptedSession) clickCount(selector string) int {
	n := 0
	for _, c := range s.clickSequence() {
		if c == selector {
			n++
		}
	}
	return n
}

func (s *scriptedSession) currentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *scriptedSession) lastWaitTimeout(selector string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitTimeouts[selector]
}

func (s *scriptedSession) lastAttrTimeout(selector string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attrTimeouts[selector]
}

// pageStep scripts one ReadQuestions outcome: the question views of one page,
// or an error.
type pageStep struct {
	views []QuestionView
	err   error
}

// scriptedOracle replays a per-target sequence of page steps, keyed by the
// URL the session last navigated to.
type scriptedOracle struct {
	mu       sync.Mutex
	session  *scriptedSession
	script   map[string][]pageStep
	reads    map[string]int
	selected []AnswerCandidate
}

func newScriptedOracle(session *scriptedSession) *scriptedOracle {
	return &scriptedOracle{
		session: session,
		script:  make(map[string][]pageStep),
		reads:   make(map[string]int),
	}
}

func (o *scriptedOracle) ReadQuestions(ctx context.Context, _ int) ([]QuestionView, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	url := o.session.currentURL()
	o.mu.Lock()
	defer o.mu.Unlock()
	steps := o.script[url]
	i := o.reads[url]
	o.reads[url]++
	if i < len(steps) {
		return steps[i].views, steps[i].err
	}
	return nil, ErrElementNotReady
}

func (o *scriptedOracle) SelectCandidate(ctx context.Context, candidate AnswerCandidate) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.selected = append(o.selected, candidate)
	return nil
}

func (o *scriptedOracle) selectedRanks() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	ranks := make([]int, len(o.selected))
	for i, c := range o.selected {
		ranks[i] = c.Rank
	}
	return ranks
}

func (o *scriptedOracle) selectedLocators() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	locators := make([]string, len(o.selected))
	for i, c := range o.selected {
		locators[i] = c.Locator
	}
	return locators
}

// viewWith builds a question view carrying n ranked candidates.
func viewWith(n int) QuestionView {
	view := QuestionView{RecommendationControlPresent: true}
	for i := 1; i <= n; i++ {
		view.Candidates = append(view.Candidates, AnswerCandidate{
			Rank:    i,
			Locator: fmt.Sprintf("candidate-%d", i),
		})
	}
	return view
}

// page scripts a single-step page holding the given views.
func page(views ...QuestionView) pageStep { return pageStep{views: views} }

func steps(items ...pageStep) []pageStep { return items }

type countingPacer struct {
	mu    sync.Mutex
	calls int
}

func (p *countingPacer) Wait(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return nil
}

func (p *countingPacer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

const (
	nextLabel   = "Следующая страница"
	finishLabel = "Закончить попытку"
)

func newTestDriver(s *scriptedSession, o Recommender, pacer Pacer, cfg Config, resume <-chan struct{}) *Driver {
	if pacer == nil {
		pacer = nopPacer{}
	}
	if cfg.WaitTimeout == 0 {
		cfg.WaitTimeout = time.Second
	}
	return NewDriver(s, o, pacer, cfg, resume, zap.NewNop())
}

func TestRunAttemptHappyPath(t *testing.T) {
	// testMode off, three pages with one question each: the full trace is
	// start, three selections, two next clicks, one finish click.
	session := newScriptedSession(startControlSelector, navControlSelector)
	session.navLabels = []string{nextLabel, nextLabel, finishLabel}

	oracle := newScriptedOracle(session)
	oracle.script["https://lms.example/quiz/1"] = steps(
		page(viewWith(2)),
		page(viewWith(1)),
		page(viewWith(3)),
	)

	pacer := &countingPacer{}
	driver := newTestDriver(session, oracle, pacer, Config{}, nil)

	result := driver.RunAttempt(context.Background(), TestTarget{URL: "https://lms.example/quiz/1"})

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 3, result.QuestionsSeen)
	assert.Equal(t, 3, result.QuestionsAnswered)
	assert.Equal(t, []int{1, 1, 1}, oracle.selectedRanks(), "rank 1 must always be picked")
	assert.Equal(t, []string{
		startControlSelector,
		navControlSelector,
		navControlSelector,
		navControlSelector,
	}, session.clickSequence())
	assert.Equal(t, 3, pacer.count(), "one pacing wait per question")
}

func TestRunAttemptAnswersEveryQuestionOnPage(t *testing.T) {
	// One page can hold several questions; every one gets its top suggestion
	// before the single nav click.
	session := newScriptedSession(startControlSelector, navControlSelector)
	session.navLabels = []string{nextLabel, finishLabel}

	first := viewWith(2)
	second := viewWith(3)
	second.Index = 1
	second.Candidates[0].Locator = "second-question-top"

	oracle := newScriptedOracle(session)
	oracle.script["https://lms.example/quiz/11"] = steps(
		page(first, second),
		page(viewWith(1)),
	)

	pacer := &countingPacer{}
	driver := newTestDriver(session, oracle, pacer, Config{}, nil)

	result := driver.RunAttempt(context.Background(), TestTarget{URL: "https://lms.example/quiz/11"})

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 3, result.QuestionsSeen)
	assert.Equal(t, 3, result.QuestionsAnswered)
	assert.Equal(t, []int{1, 1, 1}, oracle.selectedRanks())
	assert.Equal(t, []string{"candidate-1", "second-question-top", "candidate-1"},
		oracle.selectedLocators(), "both questions on the first page are answered before advancing")
	assert.Equal(t, 2, session.clickCount(navControlSelector), "one nav click per page, not per question")
	assert.Equal(t, 3, pacer.count(), "pacing applies per question, not per page")
}

func TestRunAttemptZeroCandidates(t *testing.T) {
	// Control present but no suggestions: skip, still submit.
	session := newScriptedSession(startControlSelector, navControlSelector)
	session.navLabels = []string{finishLabel}

	oracle := newScriptedOracle(session)
	oracle.script["https://lms.example/quiz/2"] = steps(
		page(QuestionView{RecommendationControlPresent: true}),
	)

	driver := newTestDriver(session, oracle, nil, Config{}, nil)
	result := driver.RunAttempt(context.Background(), TestTarget{URL: "https://lms.example/quiz/2"})

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 1, result.QuestionsSeen)
	assert.Equal(t, 0, result.QuestionsAnswered)
	assert.Empty(t, oracle.selectedRanks())
}

func TestRunAttemptControlAbsentSkips(t *testing.T) {
	session := newScriptedSession(startControlSelector, navControlSelector)
	session.navLabels = []string{nextLabel, finishLabel}

	oracle := newScriptedOracle(session)
	oracle.script["https://lms.example/quiz/3"] = steps(
		pageStep{err: ErrElementNotReady},
		page(viewWith(1)),
	)

	driver := newTestDriver(session, oracle, nil, Config{}, nil)
	result := driver.RunAttempt(context.Background(), TestTarget{URL: "https://lms.example/quiz/3"})

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 1, result.QuestionsAnswered)
	assert.Equal(t, 1, result.QuestionsSeen)
}

func TestRunAttemptEntryNotFound(t *testing.T) {
	// A finished attempt renders neither the start button nor the nav
	// control; the driver must report it instead of looping.
	session := newScriptedSession()
	driver := newTestDriver(session, newScriptedOracle(session), nil, Config{}, nil)

	result := driver.RunAttempt(context.Background(), TestTarget{URL: "https://lms.example/quiz/4"})

	assert.Equal(t, OutcomeErrored, result.Outcome)
	assert.Contains(t, result.Detail, ErrEntryNotFound.Error())
	assert.Empty(t, session.clickSequence())
}

func TestRunAttemptResumesOpenAttempt(t *testing.T) {
	// Start button gone but the nav control is there: the attempt is already
	// open and should be resumed, not failed.
	session := newScriptedSession(navControlSelector)
	session.navLabels = []string{finishLabel}

	oracle := newScriptedOracle(session)
	oracle.script["https://lms.example/quiz/5"] = steps(page(viewWith(1)))

	driver := newTestDriver(session, oracle, nil, Config{}, nil)
	result := driver.RunAttempt(context.Background(), TestTarget{URL: "https://lms.example/quiz/5"})

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 1, result.QuestionsAnswered)
}

func TestRunAttemptFailureCarriesQuestionIndex(t *testing.T) {
	// Unexpected failure on question 3 of 5: the detail must name the index.
	session := newScriptedSession(startControlSelector, navControlSelector)
	session.navLabels = []string{nextLabel, nextLabel}

	oracle := newScriptedOracle(session)
	oracle.script["https://lms.example/quiz/6"] = steps(
		page(viewWith(1)),
		page(viewWith(1)),
		pageStep{err: errors.New("unexpected page shape")},
	)

	driver := newTestDriver(session, oracle, nil, Config{}, nil)
	result := driver.RunAttempt(context.Background(), TestTarget{URL: "https://lms.example/quiz/6"})

	assert.Equal(t, OutcomeErrored, result.Outcome)
	assert.Contains(t, result.Detail, "question 3")
	assert.Contains(t, result.Detail, "unexpected page shape")
}

func TestRunAttemptNavigationError(t *testing.T) {
	session := newScriptedSession()
	session.navigateErr["https://lms.example/quiz/7"] = errors.New("net::ERR_NAME_NOT_RESOLVED")

	driver := newTestDriver(session, newScriptedOracle(session), nil, Config{}, nil)
	result := driver.RunAttempt(context.Background(), TestTarget{URL: "https://lms.example/quiz/7"})

	assert.Equal(t, OutcomeErrored, result.Outcome)
	assert.Contains(t, result.Detail, "ERR_NAME_NOT_RESOLVED")
}

func TestRunAttemptNoNavigationAndNoFinish(t *testing.T) {
	// Unexpected page layout: neither control exists after the questions.
	session := newScriptedSession(startControlSelector)

	oracle := newScriptedOracle(session)
	oracle.script["https://lms.example/quiz/8"] = steps(page(viewWith(1)))

	driver := newTestDriver(session, oracle, nil, Config{}, nil)
	result := driver.RunAttempt(context.Background(), TestTarget{URL: "https://lms.example/quiz/8"})

	assert.Equal(t, OutcomeErrored, result.Outcome)
	assert.Contains(t, result.Detail, "no navigation or finish control")
}

func TestRunAttemptStandaloneFinishControl(t *testing.T) {
	// Some themes render a dedicated submit control instead of relabeling
	// the nav button.
	session := newScriptedSession(startControlSelector, finishControlSelector)

	oracle := newScriptedOracle(session)
	oracle.script["https://lms.example/quiz/9"] = steps(page(viewWith(1)))

	driver := newTestDriver(session, oracle, nil, Config{}, nil)
	result := driver.RunAttempt(context.Background(), TestTarget{URL: "https://lms.example/quiz/9"})

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 1, session.clickCount(finishControlSelector))
}

func TestRunAttemptHonorsConfiguredWaitTimeout(t *testing.T) {
	// Every element wait is bounded by the configured timeout, including the
	// nav label read and the standalone finish lookup.
	const timeout = 7 * time.Second

	t.Run("NavLabelRead", func(t *testing.T) {
		session := newScriptedSession(startControlSelector, navControlSelector)
		session.navLabels = []string{finishLabel}
		oracle := newScriptedOracle(session)
		oracle.script["https://lms.example/quiz/12"] = steps(page(viewWith(1)))

		driver := newTestDriver(session, oracle, nil, Config{WaitTimeout: timeout}, nil)
		result := driver.RunAttempt(context.Background(), TestTarget{URL: "https://lms.example/quiz/12"})

		require.Equal(t, OutcomeCompleted, result.Outcome)
		assert.Equal(t, timeout, session.lastWaitTimeout(navControlSelector))
		assert.Equal(t, timeout, session.lastAttrTimeout(navControlSelector))
	})

	t.Run("StandaloneFinishLookup", func(t *testing.T) {
		session := newScriptedSession(startControlSelector, finishControlSelector)
		oracle := newScriptedOracle(session)
		oracle.script["https://lms.example/quiz/13"] = steps(page(viewWith(1)))

		driver := newTestDriver(session, oracle, nil, Config{WaitTimeout: timeout}, nil)
		result := driver.RunAttempt(context.Background(), TestTarget{URL: "https://lms.example/quiz/13"})

		require.Equal(t, OutcomeCompleted, result.Outcome)
		assert.Equal(t, timeout, session.lastWaitTimeout(finishControlSelector))
	})
}

func TestRunAttemptTestModePause(t *testing.T) {
	newPaused := func(t *testing.T, ctx context.Context, resume <-chan struct{}) (*scriptedSession, chan RunResult) {
		t.Helper()
		session := newScriptedSession(startControlSelector, navControlSelector)
		session.navLabels = []string{finishLabel}
		oracle := newScriptedOracle(session)
		oracle.script["https://lms.example/quiz/10"] = steps(page(viewWith(1)))

		driver := newTestDriver(session, oracle, nil, Config{TestMode: true}, resume)
		done := make(chan RunResult, 1)
		go func() {
			done <- driver.RunAttempt(ctx, TestTarget{URL: "https://lms.example/quiz/10"})
		}()
		return session, done
	}

	t.Run("NoSubmitWithoutResume", func(t *testing.T) {
		resume := make(chan struct{})
		session, done := newPaused(t, context.Background(), resume)

		assert.Never(t, func() bool {
			select {
			case <-done:
				return true
			default:
				return false
			}
		}, 200*time.Millisecond, 20*time.Millisecond, "attempt must stay paused until resume")
		assert.Equal(t, 0, session.clickCount(navControlSelector), "finish must not be clicked while paused")

		close(resume)
		select {
		case result := <-done:
			assert.Equal(t, OutcomeCompleted, result.Outcome)
			assert.Equal(t, 1, session.clickCount(navControlSelector))
		case <-time.After(2 * time.Second):
			t.Fatal("attempt did not submit after resume")
		}
	})

	t.Run("CancelLeavesAttemptOpen", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		resume := make(chan struct{})
		session, done := newPaused(t, ctx, resume)

		// Let the driver reach the pause point, then shut the run down.
		require.Eventually(t, func() bool {
			return session.clickCount(startControlSelector) == 1
		}, 2*time.Second, 10*time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case result := <-done:
			assert.Equal(t, OutcomePaused, result.Outcome)
			assert.Contains(t, result.Detail, "manual review")
			assert.Equal(t, 0, session.clickCount(navControlSelector), "cancellation must never auto-submit")
		case <-time.After(2 * time.Second):
			t.Fatal("pause did not unblock on cancellation")
		}
	})
}

func TestNewPacer(t *testing.T) {
	t.Run("EnforcesSpacing", func(t *testing.T) {
		const delay = 30 * time.Millisecond
		pacer := NewPacer(delay)
		ctx := context.Background()

		var stamps []time.Time
		for i := 0; i < 3; i++ {
			require.NoError(t, pacer.Wait(ctx))
			stamps = append(stamps, time.Now())
		}

		for i := 1; i < len(stamps); i++ {
			gap := stamps[i].Sub(stamps[i-1])
			// Small slack for the limiter's float arithmetic.
			assert.GreaterOrEqual(t, gap, delay-time.Millisecond,
				"consecutive interactions must be spaced by the configured delay")
		}
	})

	t.Run("ZeroDelayNeverBlocks", func(t *testing.T) {
		pacer := NewPacer(0)
		start := time.Now()
		for i := 0; i < 5; i++ {
			require.NoError(t, pacer.Wait(context.Background()))
		}
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("CancellationUnblocks", func(t *testing.T) {
		pacer := NewPacer(time.Minute)
		require.NoError(t, pacer.Wait(context.Background()))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Error(t, pacer.Wait(ctx))
	})
}
