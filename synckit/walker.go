package synckit

import (
	"context"
	"iter"
	"log/slog"

	syncErrors "github.com/c0deZ3R0/dirsync/errors"
	"github.com/c0deZ3R0/dirsync/logging"
)

// PageWalker drives pagination against a PageSource.
type PageWalker struct {
	source PageSource
	logger *logging.Logger
}

// NewPageWalker creates a walker over source.
func NewPageWalker(source PageSource, logger *logging.Logger) *PageWalker {
	return &PageWalker{
		source: source,
		logger: logging.OrDefault(logger).WithComponent(logging.Component("walker")),
	}
}

// Walk returns the pages reachable from start, in server order.
//
// An empty batch ends the walk without an error. A failed fetch is yielded
// once as a FetchError and ends the walk. No request is retried. Every range
// over the returned sequence starts again from start.
func (w *PageWalker) Walk(ctx context.Context, start string) iter.Seq2[*Page, error] {
	return func(yield func(*Page, error) bool) {
		request := start
		for number := 1; request != ""; number++ {
			w.logger.DebugContext(ctx, "fetching page",
				slog.Int("page", number),
				slog.String("request", request),
			)

			page, err := w.source.Fetch(ctx, request)
			if err != nil {
				yield(nil, syncErrors.WrapCode(err, syncErrors.OpFetch, "walker", syncErrors.ErrCodeFetchFailure))
				return
			}
			if page == nil || len(page.Records) == 0 {
				w.logger.DebugContext(ctx, "empty page, stopping",
					slog.Int("page", number),
					slog.String("request", request),
				)
				return
			}

			page.Number = number
			if !yield(page, nil) {
				return
			}
			request = page.Next
		}
	}
}
