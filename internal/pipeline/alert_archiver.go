package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"herd-monitor/dashboard/internal/domain"
	"herd-monitor/dashboard/internal/metrics"
)

type AlertArchive interface {
	BatchInsertAlerts(ctx context.Context, alerts []domain.AlertRecord) error
}

// AlertArchiver batches alerts into the archive, flushing on size or on the
// ticker.
type AlertArchiver struct {
	ch         chan domain.AlertRecord
	db         AlertArchive
	batchSize  int
	flushEvery time.Duration
	retryDelay time.Duration
	log        zerolog.Logger
}

func NewAlertArchiver(db AlertArchive, queueSize, batchSize, flushMS int, log zerolog.Logger) *AlertArchiver {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushMS <= 0 {
		flushMS = 500
	}
	return &AlertArchiver{
		ch:         make(chan domain.AlertRecord, queueSize),
		db:         db,
		batchSize:  batchSize,
		flushEvery: time.Duration(flushMS) * time.Millisecond,
		retryDelay: 500 * time.Millisecond,
		log:        log.With().Str("component", "alert_archiver").Logger(),
	}
}

// HandleAlert queues the alert without blocking, so the archiver can be
// used as a forwarder sink.
func (w *AlertArchiver) HandleAlert(_ context.Context, alert domain.AlertRecord) error {
	select {
	case w.ch <- alert:
	default:
		metrics.AlertArchiveFailures.Inc()
	}
	return nil
}

func (w *AlertArchiver) Run(ctx context.Context) {
	batch := make([]domain.AlertRecord, 0, w.batchSize)
	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case alert := <-w.ch:
			batch = append(batch, alert)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			batch = w.drain(batch)
			// ctx is gone; give the final flush its own deadline.
			if len(batch) > 0 {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				w.flush(flushCtx, batch)
				cancel()
			}
			return
		}
	}
}

func (w *AlertArchiver) drain(batch []domain.AlertRecord) []domain.AlertRecord {
	for {
		select {
		case alert := <-w.ch:
			batch = append(batch, alert)
		default:
			return batch
		}
	}
}

func (w *AlertArchiver) flush(ctx context.Context, batch []domain.AlertRecord) {
	err := w.db.BatchInsertAlerts(ctx, batch)
	if err != nil {
		w.log.Warn().Err(err).Int("batch", len(batch)).Msg("alert archive write failed, retrying")
		select {
		case <-time.After(w.retryDelay):
		case <-ctx.Done():
		}
		err = w.db.BatchInsertAlerts(ctx, batch)
		if err != nil {
			w.log.Error().Err(err).Int("batch", len(batch)).Msg("alert archive write permanently failed")
			metrics.AlertArchiveFailures.Add(float64(len(batch)))
			return
		}
	}
	w.log.Debug().Int("batch", len(batch)).Msg("alerts archived")
}
