package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"herd-monitor/dashboard/internal/client/api"
	"herd-monitor/dashboard/internal/domain"
	"herd-monitor/dashboard/internal/metrics"
)

// SnapshotAPI is the REST side of the backend.
type SnapshotAPI interface {
	ListDevices(ctx context.Context) ([]domain.Device, error)
	ListLatestPoints(ctx context.Context) ([]domain.LivePoint, int, error)
	ListGeofences(ctx context.Context) ([]domain.Geofence, error)
}

type LoadState string

const (
	LoadPending      LoadState = "pending"
	LoadOK           LoadState = "ok"
	LoadError        LoadState = "error"
	LoadUnauthorized LoadState = "unauthorized"
)

// LoadStatus is the outcome of the most recent poll.
type LoadStatus struct {
	State   LoadState  `json:"state"`
	Message string     `json:"message,omitempty"`
	At      *time.Time `json:"at,omitempty"`
}

type PollerOptions struct {
	API      SnapshotAPI
	Ingest   func(source string, points []domain.LivePoint)
	Interval time.Duration
	// Guard runs apply only while the session is live and keeps teardown
	// from starting until apply returns. It reports false when the session
	// is gone, in which case the poll changes nothing.
	Guard func(apply func()) bool
	// OnUnauthorized runs once per 401 poll, outside Guard; the poller stops
	// after it.
	OnUnauthorized func(reason string)
	// OnTick runs inside Guard after every applied poll.
	OnTick func()
	Logger zerolog.Logger
	Now    func() time.Time
}

// Poller fetches REST snapshots at startup and on a fixed interval. Errors
// other than 401 are recorded and retried on the next tick only.
type Poller struct {
	opts PollerOptions
	log  zerolog.Logger

	mu        sync.RWMutex
	status    LoadStatus
	devices   []domain.Device
	geofences []domain.Geofence
}

func NewPoller(opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Guard == nil {
		opts.Guard = func(apply func()) bool {
			apply()
			return true
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Poller{
		opts:   opts,
		log:    opts.Logger.With().Str("component", "poller").Logger(),
		status: LoadStatus{State: LoadPending},
	}
}

func (p *Poller) Run(ctx context.Context) {
	if !p.Poll(ctx) {
		return
	}
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !p.Poll(ctx) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Poll runs one fetch cycle and reports whether polling should continue.
func (p *Poller) Poll(ctx context.Context) bool {
	devices, devErr := p.opts.API.ListDevices(ctx)
	points, skipped, pointErr := p.opts.API.ListLatestPoints(ctx)
	fences, fenceErr := p.opts.API.ListGeofences(ctx)

	if ctx.Err() != nil {
		metrics.PollResults.WithLabelValues("discarded").Inc()
		return false
	}

	err := errors.Join(devErr, pointErr, fenceErr)
	if errors.Is(err, api.ErrUnauthorized) {
		if !p.opts.Guard(func() { p.setStatus(LoadUnauthorized, "session expired") }) {
			metrics.PollResults.WithLabelValues("discarded").Inc()
			return false
		}
		metrics.PollResults.WithLabelValues(string(LoadUnauthorized)).Inc()
		p.log.Warn().Err(err).Msg("backend rejected session")
		if p.opts.OnUnauthorized != nil {
			p.opts.OnUnauthorized("backend returned 401")
		}
		return false
	}

	applied := p.opts.Guard(func() {
		p.apply(devices, devErr, fences, fenceErr)
		if pointErr == nil {
			if skipped > 0 {
				metrics.PointsRejected.WithLabelValues(SourceREST).Add(float64(skipped))
			}
			if p.opts.Ingest != nil {
				p.opts.Ingest(SourceREST, points)
			}
		}
		if err != nil {
			p.setStatus(LoadError, err.Error())
		} else {
			p.setStatus(LoadOK, "")
		}
		if p.opts.OnTick != nil {
			p.opts.OnTick()
		}
	})
	if !applied {
		metrics.PollResults.WithLabelValues("discarded").Inc()
		return false
	}

	if err != nil {
		metrics.PollResults.WithLabelValues(string(LoadError)).Inc()
		p.log.Error().Err(err).Msg("snapshot poll failed")
	} else {
		metrics.PollResults.WithLabelValues(string(LoadOK)).Inc()
		p.log.Debug().Int("devices", len(devices)).Int("points", len(points)).Msg("snapshot poll")
	}
	return true
}

func (p *Poller) apply(devices []domain.Device, devErr error, fences []domain.Geofence, fenceErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if devErr == nil {
		p.devices = devices
	}
	if fenceErr == nil {
		p.geofences = fences
	}
}

func (p *Poller) setStatus(state LoadState, msg string) {
	at := p.opts.Now()
	p.mu.Lock()
	p.status = LoadStatus{State: state, Message: msg, At: &at}
	p.mu.Unlock()
}

func (p *Poller) Status() LoadStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Devices returns the last registry listing.
func (p *Poller) Devices() []domain.Device {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.devices
}

func (p *Poller) Geofences() []domain.Geofence {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.geofences
}
