// Package cursor defines the resume points of an incremental sync: the
// per-stream watermark and the canonical instant format used to embed it in
// a source filter.
package cursor

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// InstantLayout is the canonical instant format: UTC, millisecond precision.
const InstantLayout = "2006-01-02T15:04:05.000Z"

// ErrEmptyInstant is returned when an instant string is blank.
var ErrEmptyInstant = errors.New("empty instant")

// accepted layouts, tried in order
var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseInstant parses the timestamp forms a source or a store may hand back.
// Values without a zone are taken as UTC.
func ParseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrEmptyInstant
	}
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized instant %q", s)
}

// FormatInstant renders t in the canonical format.
func FormatInstant(t time.Time) string {
	return t.UTC().Format(InstantLayout)
}

// NormalizeInstant parses s and renders it in the canonical format.
func NormalizeInstant(s string) (string, error) {
	t, err := ParseInstant(s)
	if err != nil {
		return "", err
	}
	return FormatInstant(t), nil
}

// Watermark marks the newest record already synchronized for a stream.
type Watermark struct {
	Stream    string
	Timestamp string // as reported by the source
	LastID    string
	UpdatedAt time.Time
}

// Instant returns the watermark timestamp in canonical form.
func (w Watermark) Instant() (string, error) {
	return NormalizeInstant(w.Timestamp)
}

// Compare orders two timestamps by instant: -1, 0 or 1. Unparseable values
// sort before parseable ones and compare equal to each other.
func Compare(a, b string) int {
	ta, errA := ParseInstant(a)
	tb, errB := ParseInstant(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return ta.Compare(tb)
}

func (w Watermark) String() string {
	return fmt.Sprintf("%s@%s(%s)", w.Stream, w.Timestamp, w.LastID)
}
