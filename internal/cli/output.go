package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	syncErrors "github.com/c0deZ3R0/dirsync/errors"
	"github.com/c0deZ3R0/dirsync/synckit"
)

// Exit codes for CLI commands.
const (
	ExitSuccess = 0 // every stream ran, whatever its outcome
	ExitFailure = 1 // a precondition failed before any stream started
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitSuccess for nil and ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success outputs a result. Text output is written by the caller as it goes,
// so only JSON is rendered here.
func (f *OutputFormatter) Success(data any) error {
	if f.Format != "json" {
		return nil
	}
	return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
}

// Error outputs err with its SyncError code when it has one.
func (f *OutputFormatter) Error(err error) {
	code := string(syncErrors.CodeOf(err))
	if code == "" {
		code = "ERROR"
	}
	if f.Format == "json" {
		_ = json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: err.Error()},
		})
		return
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %v\n", code, err)
}

// Text writes a line in text mode only.
func (f *OutputFormatter) Text(format string, args ...any) {
	if f.Format == "json" {
		return
	}
	fmt.Fprintf(f.Writer, format+"\n", args...)
}

// StreamSummary is the reported outcome of one stream.
type StreamSummary struct {
	Stream          string `json:"stream"`
	Policy          string `json:"policy,omitempty"`
	State           string `json:"state"`
	FailedIn        string `json:"failed_in,omitempty"`
	Error           string `json:"error,omitempty"`
	ErrorCode       string `json:"error_code,omitempty"`
	Pages           int    `json:"pages"`
	Fetched         int    `json:"fetched"`
	Inserted        int    `json:"inserted"`
	Duplicates      int    `json:"duplicates"`
	New             int    `json:"new"`
	Modified        int    `json:"modified"`
	Unchanged       int    `json:"unchanged"`
	Failed          int    `json:"failed"`
	OrderViolations int    `json:"order_violations,omitempty"`
	StoredBefore    int64  `json:"stored_before"`
	Resumed         string `json:"resumed_from,omitempty"`
	Watermark       string `json:"watermark,omitempty"`
	DurationMS      int64  `json:"duration_ms"`
}

// RunSummary is the reported outcome of a run.
type RunSummary struct {
	RunID      string          `json:"run_id"`
	DurationMS int64           `json:"duration_ms"`
	Streams    []StreamSummary `json:"streams"`
}

// policies maps stream types to their merge policy.
type policies map[string]synckit.MergePolicy

func newPolicies(streams []*synckit.Stream) policies {
	p := make(policies, len(streams))
	for _, s := range streams {
		p[s.Type] = s.Policy
	}
	return p
}

func (p policies) summarizeStream(r *synckit.StreamResult) StreamSummary {
	s := StreamSummary{
		Stream:          r.Stream,
		State:           r.State.String(),
		Pages:           r.Stats.Pages,
		Fetched:         r.Stats.Fetched,
		Inserted:        r.Stats.Inserted,
		Duplicates:      r.Stats.Duplicates,
		New:             r.Stats.New,
		Modified:        r.Stats.Modified,
		Unchanged:       r.Stats.Unchanged,
		Failed:          r.Stats.Failed,
		OrderViolations: r.Stats.OrderViolations,
		StoredBefore:    r.Stats.StoredBefore,
		DurationMS:      r.Duration.Milliseconds(),
	}
	if policy, ok := p[r.Stream]; ok {
		s.Policy = policy.String()
	}
	if r.Err != nil {
		s.FailedIn = r.FailedIn.String()
		s.Error = r.Err.Error()
		s.ErrorCode = string(syncErrors.CodeOf(r.Err))
	}
	if r.Resumed != nil {
		s.Resumed = r.Resumed.Timestamp
	}
	if r.Watermark != nil {
		s.Watermark = r.Watermark.Timestamp
	}
	return s
}

func (p policies) summarizeRun(r *synckit.RunResult) RunSummary {
	out := RunSummary{
		RunID:      r.RunID,
		DurationMS: r.Duration.Milliseconds(),
		Streams:    make([]StreamSummary, 0, len(r.Streams)),
	}
	for _, s := range r.Streams {
		out.Streams = append(out.Streams, p.summarizeStream(s))
	}
	return out
}

// formatStream renders the one-line text summary of a stream.
func formatStream(s StreamSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-14s %-7s fetched=%d pages=%d", s.Stream, s.State, s.Fetched, s.Pages)
	if s.Policy == synckit.DiffUpsert.String() {
		fmt.Fprintf(&b, " new=%d modified=%d unchanged=%d", s.New, s.Modified, s.Unchanged)
	} else {
		fmt.Fprintf(&b, " inserted=%d duplicates=%d", s.Inserted, s.Duplicates)
	}
	fmt.Fprintf(&b, " failed=%d", s.Failed)
	if s.Watermark != "" {
		fmt.Fprintf(&b, " watermark=%s", s.Watermark)
	}
	fmt.Fprintf(&b, " took=%s", (time.Duration(s.DurationMS) * time.Millisecond).String())
	if s.Error != "" {
		fmt.Fprintf(&b, "\n  failed while %s: %s", s.FailedIn, s.Error)
	}
	return b.String()
}
