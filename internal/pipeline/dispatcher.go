package pipeline

import (
	"bytes"

	"github.com/rs/zerolog"

	"herd-monitor/dashboard/internal/domain"
	"herd-monitor/dashboard/internal/history"
	"herd-monitor/dashboard/internal/metrics"
	"herd-monitor/dashboard/internal/stream"
)

const (
	SourceStream = "stream"
	SourceREST   = "rest"
)

// Merger is the write side of the history store.
type Merger interface {
	MergeAll(points []domain.LivePoint) []history.MergeResult
}

// Dispatcher routes inbound frames and snapshots into the store and fans
// changed devices and alerts out to the background writers. Sends never
// block; a full queue drops and counts.
type Dispatcher struct {
	StateChan chan string
	AlertChan chan domain.AlertRecord

	store Merger
	log   zerolog.Logger
}

func NewDispatcher(store Merger, stateSize, alertSize int, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		StateChan: make(chan string, stateSize),
		AlertChan: make(chan domain.AlertRecord, alertSize),
		store:     store,
		log:       log.With().Str("component", "dispatcher").Logger(),
	}
}

// HandleFrame is the stream frame handler.
func (d *Dispatcher) HandleFrame(f stream.Frame) {
	switch f.Kind() {
	case stream.KindTelemetry:
		points, skipped := decodeTelemetry(f.Data)
		if skipped > 0 {
			metrics.PointsRejected.WithLabelValues(SourceStream).Add(float64(skipped))
			d.log.Debug().Int("skipped", skipped).Str("type", f.Type).Msg("dropping undecodable points")
		}
		d.Ingest(SourceStream, points)

	case stream.KindAlert:
		alert, err := domain.DecodeAlert(f.Data)
		if err != nil {
			metrics.FramesMalformed.Inc()
			d.log.Debug().Err(err).Msg("dropping malformed alert")
			return
		}
		d.DispatchAlert(alert)
	}
}

// Ingest is the single merge entry point for both sources.
func (d *Dispatcher) Ingest(source string, points []domain.LivePoint) []history.MergeResult {
	if len(points) == 0 {
		return nil
	}
	results := d.store.MergeAll(points)
	added := 0
	for _, r := range results {
		added += r.Added
	}
	metrics.PointsMerged.WithLabelValues(source).Add(float64(added))
	return results
}

func (d *Dispatcher) NotifyState(deviceID string) {
	select {
	case d.StateChan <- deviceID:
	default:
		metrics.StateChannelDrops.Inc()
	}
}

func (d *Dispatcher) DispatchAlert(alert domain.AlertRecord) {
	select {
	case d.AlertChan <- alert:
	default:
		metrics.AlertChannelDrops.Inc()
		d.log.Warn().Str("deviceId", alert.DeviceID).Str("type", string(alert.Type)).Msg("alert queue full, dropping")
	}
}

// decodeTelemetry accepts one point or an array of points.
func decodeTelemetry(data []byte) ([]domain.LivePoint, int) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		points, skipped, err := domain.DecodePoints(data)
		if err != nil {
			return nil, 1
		}
		return points, skipped
	}
	p, err := domain.DecodePoint(data)
	if err != nil {
		return nil, 1
	}
	return []domain.LivePoint{p}, 0
}
