package pipeline

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"herd-monitor/dashboard/internal/domain"
	"herd-monitor/dashboard/internal/metrics"
)

// AlertDedup reports whether an alert is seen for the first time.
type AlertDedup interface {
	Claim(ctx context.Context, alert domain.AlertRecord) (bool, error)
}

// AlertSink receives each distinct alert once.
type AlertSink interface {
	HandleAlert(ctx context.Context, alert domain.AlertRecord) error
}

type AlertSinkFunc func(ctx context.Context, alert domain.AlertRecord) error

func (f AlertSinkFunc) HandleAlert(ctx context.Context, alert domain.AlertRecord) error {
	return f(ctx, alert)
}

// LocalDedup keeps dedup keys in process memory for the window.
type LocalDedup struct {
	seen *cache.Cache
}

func NewLocalDedup(window time.Duration) *LocalDedup {
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &LocalDedup{seen: cache.New(window, window)}
}

func (d *LocalDedup) Claim(_ context.Context, alert domain.AlertRecord) (bool, error) {
	return d.seen.Add(alert.DedupKey(), struct{}{}, cache.DefaultExpiration) == nil, nil
}

// AlertClaimer is the shared dedup store, Redis in production.
type AlertClaimer interface {
	ClaimAlert(ctx context.Context, alert domain.AlertRecord, ttl time.Duration) (bool, error)
}

// SharedDedup claims keys in a shared store, so several dashboards
// relaying the same feed forward an alert once.
type SharedDedup struct {
	store  AlertClaimer
	window time.Duration
}

func NewSharedDedup(store AlertClaimer, window time.Duration) *SharedDedup {
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &SharedDedup{store: store, window: window}
}

func (d *SharedDedup) Claim(ctx context.Context, alert domain.AlertRecord) (bool, error) {
	return d.store.ClaimAlert(ctx, alert, d.window)
}

// AlertForwarder drops redelivered alerts and hands the rest to each sink.
type AlertForwarder struct {
	ch    <-chan domain.AlertRecord
	dedup AlertDedup
	sinks []AlertSink
	log   zerolog.Logger
}

func NewAlertForwarder(ch <-chan domain.AlertRecord, dedup AlertDedup, log zerolog.Logger, sinks ...AlertSink) *AlertForwarder {
	return &AlertForwarder{
		ch:    ch,
		dedup: dedup,
		sinks: sinks,
		log:   log.With().Str("component", "alert_forwarder").Logger(),
	}
}

func (f *AlertForwarder) Run(ctx context.Context) {
	for {
		select {
		case alert, ok := <-f.ch:
			if !ok || ctx.Err() != nil {
				return
			}
			f.forward(ctx, alert)

		case <-ctx.Done():
			return
		}
	}
}

func (f *AlertForwarder) forward(ctx context.Context, alert domain.AlertRecord) {
	log := f.log.With().Str("deviceId", alert.DeviceID).Str("type", string(alert.Type)).Logger()

	if f.dedup != nil {
		first, err := f.dedup.Claim(ctx, alert)
		if err != nil {
			// An unreachable dedup store still forwards.
			log.Error().Err(err).Msg("alert dedup check failed")
		} else if !first {
			metrics.AlertsDeduplicated.Inc()
			return
		}
	}

	log.Info().Str("severity", string(alert.Severity)).Msg("alert received")
	metrics.AlertsForwarded.Inc()
	for _, sink := range f.sinks {
		if err := sink.HandleAlert(ctx, alert); err != nil {
			log.Error().Err(err).Msg("alert sink failed")
		}
	}
}
