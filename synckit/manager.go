package synckit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c0deZ3R0/dirsync/cursor"
	syncErrors "github.com/c0deZ3R0/dirsync/errors"
	"github.com/c0deZ3R0/dirsync/logging"
)

// Manager is the sync orchestrator. It runs its streams one after another,
// each from its checkpoint to the newest record the source returns.
type Manager struct {
	source      PageSource
	docs        DocumentStore
	checkpoints CheckpointStore
	streams     []*Stream
	logger      *logging.Logger
	observers   []func(*StreamResult)

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// Streams returns the configured streams in run order.
func (m *Manager) Streams() []*Stream {
	return append([]*Stream(nil), m.streams...)
}

// Run syncs every configured stream in order. A failed stream is recorded in
// the result and does not stop the ones after it.
func (m *Manager) Run(ctx context.Context) *RunResult {
	runID := newRunID()
	logger := m.logger.WithRun(runID)

	result := &RunResult{
		RunID:     runID,
		StartedAt: m.now(),
	}

	logger.InfoContext(ctx, "sync run started", slog.Int("streams", len(m.streams)))

	for _, s := range m.streams {
		result.Streams = append(result.Streams, m.syncStream(ctx, s, logger))
	}

	result.Duration = m.now().Sub(result.StartedAt)
	logger.InfoContext(ctx, "sync run finished",
		slog.Int("failed_streams", len(result.Failed())),
		slog.Duration("duration", result.Duration),
	)
	return result
}

// SyncStream runs a single stream, outside of any run.
func (m *Manager) SyncStream(ctx context.Context, s *Stream) *StreamResult {
	return m.syncStream(ctx, s, m.logger.WithRun(newRunID()))
}

// streamRun carries the mutable state of one stream through its states.
type streamRun struct {
	stream *Stream
	result *StreamResult
	logger *logging.Logger
	sink   *RecordSink

	// first record of the run, and the previous record for order checks
	captured *cursor.Watermark
	previous string
}

func (m *Manager) syncStream(ctx context.Context, s *Stream, parent *logging.Logger) (res *StreamResult) {
	res = &StreamResult{
		Stream:    s.Type,
		State:     StateInit,
		StartedAt: m.now(),
		Stats:     Stats{StoredBefore: -1},
	}
	run := &streamRun{
		stream: s,
		result: res,
		logger: parent.WithStream(s.Type),
	}

	defer func() {
		if r := recover(); r != nil {
			run.fail(ctx, syncErrors.NewWithComponent(syncErrors.OpSync, "synckit",
				fmt.Errorf("panic: %v", r)))
		}
		res.Duration = m.now().Sub(res.StartedAt)
		m.report(ctx, run)
	}()

	start, ok := m.initStream(ctx, run)
	if !ok {
		return res
	}

	if !m.drain(ctx, run, start) {
		return res
	}

	m.checkpoint(ctx, run)
	return res
}

// initStream prepares the sink, loads the watermark and builds the first
// request.
func (m *Manager) initStream(ctx context.Context, run *streamRun) (string, bool) {
	s := run.stream

	if err := s.Validate(); err != nil {
		run.fail(ctx, syncErrors.NewConfigError(err))
		return "", false
	}

	run.sink = NewRecordSink(m.docs, s, run.logger)
	if err := run.sink.Prepare(ctx); err != nil {
		run.fail(ctx, err)
		return "", false
	}

	if count, err := m.docs.Count(ctx, s.Collection); err != nil {
		run.logger.WarnContext(ctx, "could not count stored documents",
			slog.String("collection", s.Collection),
			slog.String("error", err.Error()),
		)
	} else {
		run.result.Stats.StoredBefore = count
		run.logger.InfoContext(ctx, "documents in store",
			slog.String("collection", s.Collection),
			slog.Int64("count", count),
		)
	}

	var since *cursor.Watermark
	if s.Incremental() {
		wm, err := m.checkpoints.GetWatermark(ctx, s.Type)
		if err != nil {
			run.fail(ctx, syncErrors.WrapCode(err, syncErrors.OpCheckpoint, "synckit", syncErrors.ErrCodeCheckpointFailure))
			return "", false
		}
		since = wm
		run.result.Resumed = wm
		run.result.Watermark = wm
	}

	start, err := s.InitialRequest(since)
	if err != nil {
		run.fail(ctx, syncErrors.NewCheckpointError(err))
		return "", false
	}

	attrs := []any{slog.String("request", start)}
	if since != nil {
		attrs = append(attrs, slog.String("since", since.Timestamp))
	} else {
		attrs = append(attrs, slog.Bool("full", true))
	}
	run.logger.InfoContext(ctx, "stream started", attrs...)

	run.result.State = StatePaging
	return start, true
}

// drain walks every page and merges its records.
func (m *Manager) drain(ctx context.Context, run *streamRun, start string) bool {
	walker := NewPageWalker(m.source, run.logger)

	for page, err := range walker.Walk(ctx, start) {
		if err != nil {
			run.fail(ctx, err)
			return false
		}

		run.result.State = StateDraining
		run.result.Stats.Pages++
		for _, raw := range page.Records {
			m.mergeRecord(ctx, run, raw)
		}

		run.logger.DebugContext(ctx, "page merged",
			slog.Int("page", page.Number),
			slog.Int("records", len(page.Records)),
			slog.Bool("has_next", page.HasNext()),
		)

		if page.HasNext() && run.stream.PageDelay > 0 {
			if err := m.sleep(ctx, run.stream.PageDelay); err != nil {
				run.fail(ctx, syncErrors.NewFetchError(fmt.Errorf("waiting for next page: %w", err), false))
				return false
			}
		}
		run.result.State = StatePaging
	}
	return true
}

func (m *Manager) mergeRecord(ctx context.Context, run *streamRun, raw json.RawMessage) {
	stats := &run.result.Stats
	stats.Fetched++

	rec, err := run.stream.Normalizer.Normalize(raw)
	if err != nil {
		stats.Failed++
		run.logger.LogError(ctx,
			syncErrors.WrapCode(err, syncErrors.OpNormalize, "normalizer", syncErrors.ErrCodeNormalizeFailure),
			"skipping record",
			slog.Int("position", stats.Fetched),
		)
		return
	}

	if run.stream.Incremental() {
		m.observeOrder(ctx, run, rec)
	}

	outcome, err := run.sink.Merge(ctx, rec)
	switch outcome {
	case OutcomeInserted:
		stats.Inserted++
	case OutcomeDuplicate:
		stats.Duplicates++
	case OutcomeNew:
		stats.New++
	case OutcomeModified:
		stats.Modified++
	case OutcomeUnchanged:
		stats.Unchanged++
	default:
		stats.Failed++
		run.logger.LogError(ctx, err, "merge failed", slog.String("key", rec.Key))
	}
}

// observeOrder captures the first record as the candidate watermark and
// counts records that break the descending time order.
func (m *Manager) observeOrder(ctx context.Context, run *streamRun, rec Record) {
	if run.captured == nil {
		if _, err := cursor.ParseInstant(rec.Timestamp); err != nil {
			run.logger.WarnContext(ctx, "record timestamp cannot be a watermark",
				slog.String("key", rec.Key),
				slog.String("error", err.Error()),
			)
		} else {
			run.captured = &cursor.Watermark{
				Stream:    run.stream.Type,
				Timestamp: rec.Timestamp,
				LastID:    rec.Key,
			}
		}
	}

	if run.previous != "" && cursor.Compare(rec.Timestamp, run.previous) > 0 {
		run.result.Stats.OrderViolations++
		run.logger.WarnContext(ctx, "record newer than its predecessor",
			slog.String("key", rec.Key),
			slog.String("timestamp", rec.Timestamp),
			slog.String("previous", run.previous),
		)
	}
	run.previous = rec.Timestamp
}

// checkpoint commits the captured watermark and finishes the stream.
func (m *Manager) checkpoint(ctx context.Context, run *streamRun) {
	run.result.State = StateCheckpointing
	s := run.stream

	if !s.Incremental() || run.captured == nil {
		run.result.State = StateDone
		return
	}

	wm := run.captured
	if _, err := wm.Instant(); err != nil {
		run.logger.WarnContext(ctx, "refusing unparseable watermark",
			slog.String("candidate", wm.Timestamp),
			slog.String("error", err.Error()),
		)
		run.result.State = StateDone
		return
	}
	if prev := run.result.Resumed; prev != nil && cursor.Compare(wm.Timestamp, prev.Timestamp) < 0 {
		run.logger.WarnContext(ctx, "refusing to move watermark backwards",
			slog.String("current", prev.Timestamp),
			slog.String("candidate", wm.Timestamp),
		)
		run.result.State = StateDone
		return
	}

	if err := m.checkpoints.SetWatermark(ctx, s.Type, wm.Timestamp, wm.LastID); err != nil {
		run.fail(ctx, syncErrors.WrapCode(err, syncErrors.OpCheckpoint, "synckit", syncErrors.ErrCodeCheckpointFailure))
		return
	}

	wm.UpdatedAt = m.now()
	run.result.Watermark = wm
	run.result.State = StateDone
}

func (m *Manager) report(ctx context.Context, run *streamRun) {
	res := run.result
	st := res.Stats

	attrs := []any{
		slog.String("state", res.State.String()),
		slog.Int("pages", st.Pages),
		slog.Int("fetched", st.Fetched),
		slog.Int("failed", st.Failed),
		slog.Duration("duration", res.Duration),
	}
	switch run.stream.Policy {
	case AppendUpsert:
		attrs = append(attrs,
			slog.Int("inserted", st.Inserted),
			slog.Int("duplicates", st.Duplicates),
		)
	case DiffUpsert:
		attrs = append(attrs,
			slog.Int("new", st.New),
			slog.Int("modified", st.Modified),
			slog.Int("unchanged", st.Unchanged),
		)
	}
	if st.OrderViolations > 0 {
		attrs = append(attrs, slog.Int("order_violations", st.OrderViolations))
	}
	if res.Watermark != nil {
		attrs = append(attrs, slog.String("watermark", res.Watermark.Timestamp))
	}

	if res.State == StateFailed {
		run.logger.WarnContext(ctx, "stream failed", attrs...)
	} else {
		run.logger.InfoContext(ctx, "stream finished", attrs...)
	}

	for _, fn := range m.observers {
		fn(res)
	}
}

func (r *streamRun) fail(ctx context.Context, err error) {
	r.result.FailedIn = r.result.State
	r.result.State = StateFailed
	r.result.Err = err
	r.logger.LogError(ctx, err, "stream aborted",
		slog.String("during", r.result.FailedIn.String()),
	)
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
