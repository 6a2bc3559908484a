package synckit

import (
	"time"

	"github.com/c0deZ3R0/dirsync/cursor"
)

// StreamState is the orchestrator's position in a stream's lifecycle.
type StreamState int

const (
	StateInit StreamState = iota
	StatePaging
	StateDraining
	StateCheckpointing
	StateDone
	StateFailed
)

func (s StreamState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePaging:
		return "paging"
	case StateDraining:
		return "draining"
	case StateCheckpointing:
		return "checkpointing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stats counts what happened to the records of one stream.
type Stats struct {
	Pages   int
	Fetched int

	// append-upsert
	Inserted   int
	Duplicates int

	// diff-upsert
	New       int
	Modified  int
	Unchanged int

	// Failed counts records that could not be normalized or merged.
	Failed int

	// OrderViolations counts records newer than their predecessor.
	OrderViolations int

	// StoredBefore is the collection size before the stream ran, -1 if unknown.
	StoredBefore int64
}

// StreamResult describes one completed stream.
type StreamResult struct {
	Stream string
	State  StreamState

	// Err is set when State is StateFailed.
	Err error

	// FailedIn is the state the stream was in when it failed.
	FailedIn StreamState

	Stats Stats

	// Resumed is the watermark the stream started from, nil for a full fetch.
	Resumed *cursor.Watermark

	// Watermark is the watermark in force after the stream, nil if none.
	Watermark *cursor.Watermark

	StartedAt time.Time
	Duration  time.Duration
}

// OK reports whether the stream reached StateDone.
func (r *StreamResult) OK() bool { return r.State == StateDone }

// RunResult aggregates the stream results of one run.
type RunResult struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Streams   []*StreamResult
}

// Failed returns the streams that ended in StateFailed.
func (r *RunResult) Failed() []*StreamResult {
	var failed []*StreamResult
	for _, s := range r.Streams {
		if s.State == StateFailed {
			failed = append(failed, s)
		}
	}
	return failed
}

// Stream returns the result for the given stream type, or nil.
func (r *RunResult) Stream(streamType string) *StreamResult {
	for _, s := range r.Streams {
		if s.Stream == streamType {
			return s
		}
	}
	return nil
}
