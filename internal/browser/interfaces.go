// File: internal/browser/interfaces.go
package browser

import (
	"github.com/mchomak/quizpilot/internal/attempt"
	"github.com/mchomak/quizpilot/internal/auth"
)

// The single Session type backs both consumer-side interfaces.
var (
	_ attempt.Session = (*Session)(nil)
	_ auth.Session    = (*Session)(nil)
)
