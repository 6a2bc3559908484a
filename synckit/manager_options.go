package synckit

import (
	"context"
	"errors"
	"time"

	syncErrors "github.com/c0deZ3R0/dirsync/errors"
	"github.com/c0deZ3R0/dirsync/logging"
)

// ManagerOption is a functional option for configuring a Manager via NewManager.
type ManagerOption func(*Manager) error

// NewManager constructs a Manager. A page source, a document store and a
// checkpoint store are required; WithStore provides the latter two at once.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		now:   time.Now,
		sleep: sleepContext,
	}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, syncErrors.NewConfigError(err)
		}
	}

	var errs []error
	if m.source == nil {
		errs = append(errs, errors.New("page source is required (use WithSource(...))"))
	}
	if m.docs == nil {
		errs = append(errs, errors.New("document store is required (use WithStore(...))"))
	}
	if m.checkpoints == nil {
		errs = append(errs, errors.New("checkpoint store is required (use WithStore(...))"))
	}
	for _, s := range m.streams {
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, syncErrors.NewConfigError(err)
	}

	m.logger = logging.OrDefault(m.logger).WithComponent(logging.Component("synckit"))
	return m, nil
}

// WithSource sets the page source all streams are fetched from.
func WithSource(src PageSource) ManagerOption {
	return func(m *Manager) error {
		if src == nil {
			return errors.New("page source cannot be nil")
		}
		m.source = src
		return nil
	}
}

// WithStore injects a backend serving both documents and checkpoints.
func WithStore(s Store) ManagerOption {
	return func(m *Manager) error {
		if s == nil {
			return errors.New("store cannot be nil")
		}
		m.docs = s
		m.checkpoints = s
		return nil
	}
}

// WithDocumentStore overrides where records are merged.
func WithDocumentStore(s DocumentStore) ManagerOption {
	return func(m *Manager) error {
		if s == nil {
			return errors.New("document store cannot be nil")
		}
		m.docs = s
		return nil
	}
}

// WithCheckpointStore overrides where watermarks are kept.
func WithCheckpointStore(s CheckpointStore) ManagerOption {
	return func(m *Manager) error {
		if s == nil {
			return errors.New("checkpoint store cannot be nil")
		}
		m.checkpoints = s
		return nil
	}
}

// WithStreams appends streams, run in the order given.
func WithStreams(streams ...*Stream) ManagerOption {
	return func(m *Manager) error {
		for _, s := range streams {
			if s == nil {
				return errors.New("stream cannot be nil")
			}
		}
		m.streams = append(m.streams, streams...)
		return nil
	}
}

// WithLogger sets the logger. Defaults to logging.Default().
func WithLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) error {
		m.logger = l
		return nil
	}
}

// WithObserver registers fn to be called after every stream, in the
// calling goroutine.
func WithObserver(fn func(*StreamResult)) ManagerOption {
	return func(m *Manager) error {
		if fn == nil {
			return errors.New("observer cannot be nil")
		}
		m.observers = append(m.observers, fn)
		return nil
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
