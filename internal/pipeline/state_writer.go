package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"herd-monitor/dashboard/internal/view"
)

type RowSource interface {
	SummaryRow(deviceID string) view.SummaryRow
}

type StatePublisher interface {
	PipelineStateUpdate(ctx context.Context, row view.SummaryRow) error
}

// StateWriter mirrors changed device rows to the publisher. Notifications
// for the same device within one flush collapse into a single update built
// from the latest history.
type StateWriter struct {
	ch         <-chan string
	rows       RowSource
	publisher  StatePublisher
	batchSize  int
	flushEvery time.Duration
	log        zerolog.Logger
}

func NewStateWriter(ch <-chan string, rows RowSource, publisher StatePublisher, log zerolog.Logger) *StateWriter {
	return &StateWriter{
		ch:         ch,
		rows:       rows,
		publisher:  publisher,
		batchSize:  100,
		flushEvery: 50 * time.Millisecond,
		log:        log.With().Str("component", "state_writer").Logger(),
	}
}

func (w *StateWriter) Run(ctx context.Context) {
	pending := make(map[string]struct{}, w.batchSize)
	order := make([]string, 0, w.batchSize)
	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()

	flush := func() {
		w.flushBatch(ctx, order)
		order = order[:0]
		clear(pending)
	}

	for {
		select {
		case id, ok := <-w.ch:
			if !ok {
				flush()
				return
			}
			if _, dup := pending[id]; !dup {
				pending[id] = struct{}{}
				order = append(order, id)
			}
			if len(order) >= w.batchSize {
				flush()
			}

		case <-ticker.C:
			if len(order) > 0 {
				flush()
			}

		case <-ctx.Done():
			return
		}
	}
}

func (w *StateWriter) flushBatch(ctx context.Context, ids []string) {
	for _, id := range ids {
		row := w.rows.SummaryRow(id)
		if err := w.publisher.PipelineStateUpdate(ctx, row); err != nil {
			w.log.Error().Err(err).Str("deviceId", id).Msg("state update failed")
		}
	}
}
