package synckit

import (
	"context"
	"time"
)

// WithSleep replaces the inter-page wait.
func WithSleep(fn func(context.Context, time.Duration) error) ManagerOption {
	return func(m *Manager) error {
		m.sleep = fn
		return nil
	}
}
