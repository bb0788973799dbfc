// File: internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/mchomak/quizpilot/internal/attempt"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Report is the envelope written at the end of a batch run.
type Report struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Targets     int                 `json:"targets"`
	Completed   int                 `json:"completed"`
	Paused      int                 `json:"paused"`
	Errored     int                 `json:"errored"`
	Results     []attempt.RunResult `json:"results"`
}

// Reporter writes the batch outcome to an output.
type Reporter interface {
	// Write emits the full report for the given ordered results.
	Write(results []attempt.RunResult) error
	// Close releases the underlying resource.
	Close() error
}

// nopWriteCloser wraps an io.Writer with a no-op Close.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error { return nil }

// New creates a JSON reporter for outputPath; "" or "stdout" writes to the
// standard output.
func New(outputPath string) (Reporter, error) {
	if outputPath == "" || outputPath == "stdout" {
		return &jsonReporter{writer: &nopWriteCloser{os.Stdout}}, nil
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
	}
	return &jsonReporter{writer: f}, nil
}

type jsonReporter struct {
	writer io.WriteCloser
}

func (r *jsonReporter) Write(results []attempt.RunResult) error {
	report := Report{
		GeneratedAt: time.Now().UTC(),
		Targets:     len(results),
		Results:     results,
	}
	for _, result := range results {
		switch result.Outcome {
		case attempt.OutcomeCompleted:
			report.Completed++
		case attempt.OutcomePaused:
			report.Paused++
		case attempt.OutcomeErrored:
			report.Errored++
		}
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	encoded = append(encoded, '\n')
	if _, err := r.writer.Write(encoded); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func (r *jsonReporter) Close() error {
	return r.writer.Close()
}
