// File: internal/attempt/types.go
package attempt

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status tracks an attempt through its lifecycle. Transitions are monotonic:
// NotStarted -> InProgress -> one of {PausedForReview, Submitted, Failed},
// with PausedForReview -> Submitted only after an explicit resume signal.
type Status string

const (
	StatusNotStarted      Status = "not_started"
	StatusInProgress      Status = "in_progress"
	StatusPausedForReview Status = "paused_for_review"
	StatusSubmitted       Status = "submitted"
	StatusFailed          Status = "failed"
)

// Outcome is the per-target verdict recorded by the orchestrator.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomePaused    Outcome = "paused"
	OutcomeErrored   Outcome = "errored"
)

// TestTarget is one configured test to drive. Immutable for the run.
type TestTarget struct {
	URL string `json:"url"`
}

// Attempt is the driver's working state for a single test. It is created when
// the driver picks up a target and discarded once its result is recorded.
type Attempt struct {
	ID                   string
	Target               TestTarget
	Status               Status
	CurrentQuestionIndex int
	StartedAt            time.Time
	EndedAt              time.Time
}

func newAttempt(target TestTarget) *Attempt {
	return &Attempt{
		ID:        uuid.New().String(),
		Target:    target,
		Status:    StatusNotStarted,
		StartedAt: time.Now(),
	}
}

// AnswerCandidate is one suggested answer from the recommendation extension.
// Rank is 1-based and follows the extension's rendered order, which is
// authoritative: the driver always picks rank 1 and never re-sorts.
type AnswerCandidate struct {
	Rank    int
	Locator string
	Label   string
}

// QuestionView is the transient reading of one question on the current page.
// Index is the question's 0-based position on its page. Views are re-derived
// on every page and never persisted.
type QuestionView struct {
	Index                        int
	RecommendationControlPresent bool
	Candidates                   []AnswerCandidate
}

// RunResult is the immutable per-target record appended by the orchestrator.
type RunResult struct {
	Target            TestTarget `json:"target"`
	Outcome           Outcome    `json:"outcome"`
	Detail            string     `json:"detail,omitempty"`
	QuestionsSeen     int        `json:"questions_seen"`
	QuestionsAnswered int        `json:"questions_answered"`
	StartedAt         time.Time  `json:"started_at"`
	EndedAt           time.Time  `json:"ended_at"`
}

// Config is the bundle of knobs the driver honors for every attempt.
type Config struct {
	// TestMode pauses before the final submit so an operator can review
	// answers in the open browser.
	TestMode bool
	// WaitTimeout bounds every single wait for a UI element.
	WaitTimeout time.Duration
	// QuestionDelay is the minimum spacing between question interactions.
	QuestionDelay time.Duration
}

// Session is the slice of the browser session the attempt machinery needs.
// The concrete implementation lives in internal/browser; tests use fakes.
type Session interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string, timeout time.Duration) error
	Hover(ctx context.Context, selector string, timeout time.Duration) error
	Text(ctx context.Context, selector string, timeout time.Duration) (string, error)
	Attribute(ctx context.Context, selector, name string, timeout time.Duration) (string, bool, error)
	Evaluate(ctx context.Context, expression string, out any, timeout time.Duration) error
}

// Recommender reads the extension's suggestions for every question on the
// current page and carries out selections. The driver's state machine never
// touches extension markup directly.
type Recommender interface {
	ReadQuestions(ctx context.Context, page int) ([]QuestionView, error)
	SelectCandidate(ctx context.Context, candidate AnswerCandidate) error
}

// Runner is the driver as seen by the orchestrator.
type Runner interface {
	RunAttempt(ctx context.Context, target TestTarget) RunResult
}
