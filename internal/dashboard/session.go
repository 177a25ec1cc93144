// Package dashboard wires one authenticated dashboard session: the live
// stream, the REST poller, the history store and the derived views.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"herd-monitor/dashboard/internal/auth"
	"herd-monitor/dashboard/internal/config"
	"herd-monitor/dashboard/internal/domain"
	"herd-monitor/dashboard/internal/history"
	"herd-monitor/dashboard/internal/metrics"
	"herd-monitor/dashboard/internal/motion"
	"herd-monitor/dashboard/internal/pipeline"
	"herd-monitor/dashboard/internal/stream"
	"herd-monitor/dashboard/internal/view"
)

const recentAlerts = 50

var ErrClosed = errors.New("dashboard session closed")

type Options struct {
	Config *config.Config
	Auth   *auth.Session
	API    pipeline.SnapshotAPI
	Dialer stream.Dialer
	// Clock drives the reconnect timer; nil uses the wall clock.
	Clock stream.Clock

	// Optional outputs. A nil publisher or archive disables that writer.
	StatePublisher pipeline.StatePublisher
	AlertDedup     pipeline.AlertDedup
	AlertArchive   pipeline.AlertArchive
	AlertSinks     []pipeline.AlertSink

	Logger zerolog.Logger
	Now    func() time.Time
}

// ViewModel is everything the map screen renders in one read.
type ViewModel struct {
	SessionID  string                     `json:"sessionId"`
	Center     domain.Coordinate          `json:"center"`
	Devices    []view.SummaryRow          `json:"devices"`
	Counts     map[domain.MotionState]int `json:"counts"`
	Connection stream.Status              `json:"connection"`
	Load       pipeline.LoadStatus        `json:"load"`
	Alerts     []domain.AlertRecord       `json:"alerts"`
	LoggedOut  bool                       `json:"loggedOut,omitempty"`
}

type DeviceDetail struct {
	Summary view.SummaryRow     `json:"summary"`
	Motion  motion.Result       `json:"motion"`
	Route   []domain.Coordinate `json:"route"`
}

type Session struct {
	ID string

	log        zerolog.Logger
	auth       *auth.Session
	store      *history.Store
	classifier *motion.Classifier
	projector  *view.Projector
	dispatcher *pipeline.Dispatcher
	transport  *stream.Transport
	poller     *pipeline.Poller
	forwarder  *pipeline.AlertForwarder
	writer     *pipeline.StateWriter
	archiver   *pipeline.AlertArchiver
	now        func() time.Time

	// lifeMu guards alive; merges hold it for reading so teardown cannot
	// interleave with a write into the store.
	lifeMu  sync.RWMutex
	alive   bool
	started bool
	cancel  context.CancelFunc

	motionMu sync.Mutex
	labels   map[string]domain.MotionState

	alertsMu sync.Mutex
	alerts   []domain.AlertRecord
}

func New(opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil || opts.Auth == nil || opts.API == nil || opts.Dialer == nil {
		return nil, errors.New("dashboard: config, auth, api and dialer are required")
	}
	streamURL, err := cfg.StreamURL()
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	id := uuid.NewString()
	log := opts.Logger.With().Str("session", id).Logger()

	s := &Session{
		ID:         id,
		log:        log.With().Str("component", "dashboard").Logger(),
		auth:       opts.Auth,
		store:      history.NewStore(cfg.HistoryWindow),
		classifier: motion.New(cfg.Motion),
		now:        opts.Now,
		alive:      true,
		labels:     make(map[string]domain.MotionState),
	}
	s.projector = view.NewProjector(s.store, s.classifier,
		domain.Coordinate{Lat: cfg.DefaultLat, Lon: cfg.DefaultLon}).WithClock(opts.Now)
	s.dispatcher = pipeline.NewDispatcher(s.store, cfg.StateChannelSize, cfg.AlertChannelSize, log)
	s.store.OnMerge(s.onMerge)

	s.transport = stream.New(stream.Options{
		URL:    streamURL,
		Dialer: opts.Dialer,
		Policy: stream.Policy{
			MaxRetries: cfg.StreamMaxRetries,
			BaseDelay:  cfg.StreamBaseDelay,
			MaxDelay:   cfg.StreamMaxDelay,
		},
		Clock:       opts.Clock,
		Logger:      log,
		Header:      opts.Auth.Header,
		OnFrame:     s.handleFrame,
		OnDialError: s.onDialError,
	})

	s.poller = pipeline.NewPoller(pipeline.PollerOptions{
		API:            opts.API,
		Ingest:         func(source string, points []domain.LivePoint) { s.dispatcher.Ingest(source, points) },
		Interval:       cfg.PollInterval,
		Guard:          s.whileAlive,
		OnUnauthorized: opts.Auth.ForceLogout,
		OnTick:         s.reevaluate,
		Logger:         log,
		Now:            opts.Now,
	})

	sinks := []pipeline.AlertSink{pipeline.AlertSinkFunc(s.recordAlert)}
	if opts.AlertArchive != nil {
		s.archiver = pipeline.NewAlertArchiver(opts.AlertArchive, cfg.AlertChannelSize, cfg.DBBatchSize, cfg.DBFlushIntervalMS, log)
		sinks = append(sinks, s.archiver)
	}
	sinks = append(sinks, opts.AlertSinks...)
	dedup := opts.AlertDedup
	if dedup == nil {
		dedup = pipeline.NewLocalDedup(cfg.AlertDedupTTL)
	}
	s.forwarder = pipeline.NewAlertForwarder(s.dispatcher.AlertChan, dedup, log, sinks...)

	if opts.StatePublisher != nil {
		s.writer = pipeline.NewStateWriter(s.dispatcher.StateChan, s, opts.StatePublisher, log)
	}

	opts.Auth.OnLogout(func(reason string) {
		s.log.Warn().Str("reason", reason).Msg("logout, tearing down session")
		s.Teardown()
	})
	return s, nil
}

// Run starts the stream, the poller and the writers and blocks until ctx is
// cancelled or the session is torn down. The session cannot be restarted.
func (s *Session) Run(ctx context.Context) error {
	s.lifeMu.Lock()
	if !s.alive || s.started {
		s.lifeMu.Unlock()
		return ErrClosed
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.lifeMu.Unlock()
	defer s.Teardown()

	s.log.Info().Msg("session started")
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.transport.Run(gCtx); err != nil && !errors.Is(err, stream.ErrTornDown) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		s.poller.Run(gCtx)
		return nil
	})
	g.Go(func() error {
		s.forwarder.Run(gCtx)
		return nil
	})
	if s.writer != nil {
		g.Go(func() error {
			s.writer.Run(gCtx)
			return nil
		})
	}
	if s.archiver != nil {
		g.Go(func() error {
			s.archiver.Run(gCtx)
			return nil
		})
	}
	return g.Wait()
}

// Teardown closes the stream, cancels the reconnect timer and stops every
// loop. When it returns no stream callback will run and no late REST result
// will be applied. Safe to call more than once and from any goroutine other
// than a stream callback.
func (s *Session) Teardown() {
	s.lifeMu.Lock()
	if !s.alive {
		s.lifeMu.Unlock()
		return
	}
	s.alive = false
	cancel := s.cancel
	s.lifeMu.Unlock()

	s.transport.Close()
	if cancel != nil {
		cancel()
	}
	s.log.Info().Msg("session torn down")
}

func (s *Session) Alive() bool {
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	return s.alive
}

// Reconnect restarts the stream state machine, typically after it reached
// closed.
func (s *Session) Reconnect() error {
	if !s.Alive() {
		return ErrClosed
	}
	s.log.Info().Str("from", string(s.transport.Status())).Msg("reconnect requested")
	s.transport.Connect()
	return nil
}

func (s *Session) handleFrame(f stream.Frame) {
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	if !s.alive {
		return
	}
	s.dispatcher.HandleFrame(f)
}

// whileAlive runs fn under the liveness read lock. fn must not call back
// into anything that takes lifeMu.
func (s *Session) whileAlive(fn func()) bool {
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	if !s.alive {
		return false
	}
	fn()
	return true
}

// onDialError runs on the stream goroutine, so the logout, which tears the
// stream down and waits for it, is started separately.
func (s *Session) onDialError(err error) {
	if errors.Is(err, stream.ErrUnauthorized) {
		go s.auth.ForceLogout("stream handshake returned 401")
	}
}

func (s *Session) onMerge(res history.MergeResult) {
	if res.Added == 0 {
		return
	}
	s.relabel(res.DeviceID)
	s.dispatcher.NotifyState(res.DeviceID)
}

// reevaluate relabels every known device. Devices age into stationary
// without new points, so this runs on every poll.
func (s *Session) reevaluate() {
	for _, id := range s.deviceIDs() {
		if s.relabel(id) {
			s.dispatcher.NotifyState(id)
		}
	}
}

// relabel recomputes the motion label of a device and reports whether it
// changed.
func (s *Session) relabel(deviceID string) bool {
	label := s.projector.Motion(deviceID)

	s.motionMu.Lock()
	prev, known := s.labels[deviceID]
	s.labels[deviceID] = label
	counts := make(map[domain.MotionState]int, len(domain.MotionStates))
	for _, l := range s.labels {
		counts[l]++
	}
	s.motionMu.Unlock()

	for _, st := range domain.MotionStates {
		metrics.DevicesByMotion.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
	if known && prev == label {
		return false
	}
	if known {
		metrics.MotionTransitions.WithLabelValues(string(label)).Inc()
		s.log.Info().Str("deviceId", deviceID).Str("from", string(prev)).Str("to", string(label)).Msg("motion changed")
	}
	return true
}

func (s *Session) recordAlert(_ context.Context, alert domain.AlertRecord) error {
	s.whileAlive(func() {
		s.alertsMu.Lock()
		defer s.alertsMu.Unlock()
		s.alerts = append([]domain.AlertRecord{alert}, s.alerts...)
		if len(s.alerts) > recentAlerts {
			s.alerts = s.alerts[:recentAlerts]
		}
	})
	return nil
}

func (s *Session) deviceIDs() []string {
	ids := make(map[string]struct{})
	for _, id := range s.store.DeviceIDs() {
		ids[id] = struct{}{}
	}
	for _, d := range s.poller.Devices() {
		ids[d.ID] = struct{}{}
	}
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Session) known(deviceID string) bool {
	if len(s.store.History(deviceID)) > 0 {
		return true
	}
	for _, d := range s.poller.Devices() {
		if d.ID == deviceID {
			return true
		}
	}
	return false
}

func (s *Session) name(deviceID string) string {
	for _, d := range s.poller.Devices() {
		if d.ID == deviceID {
			return d.Name
		}
	}
	return ""
}

// SummaryRow is the device list row with the registry name attached.
func (s *Session) SummaryRow(deviceID string) view.SummaryRow {
	row := s.projector.SummaryRow(deviceID)
	row.Name = s.name(deviceID)
	return row
}

func (s *Session) Status() stream.Status { return s.transport.Status() }

func (s *Session) Load() pipeline.LoadStatus { return s.poller.Status() }

// View assembles the map screen. focus selects the map center device; empty
// picks the most recent fix.
func (s *Session) View(focus string) ViewModel {
	rows := s.projector.Summaries(s.poller.Devices())
	out, _ := s.auth.LoggedOut()
	return ViewModel{
		SessionID:  s.ID,
		Center:     s.projector.MapCenter(focus),
		Devices:    rows,
		Counts:     view.MotionCounts(rows),
		Connection: s.transport.Status(),
		Load:       s.poller.Status(),
		Alerts:     s.Alerts(),
		LoggedOut:  out,
	}
}

func (s *Session) Route(deviceID string) []domain.Coordinate {
	return s.projector.Route(deviceID)
}

func (s *Session) Device(deviceID string) (DeviceDetail, bool) {
	if !s.known(deviceID) {
		return DeviceDetail{}, false
	}
	return DeviceDetail{
		Summary: s.SummaryRow(deviceID),
		Motion:  s.classifier.Explain(s.store.History(deviceID), s.now()),
		Route:   s.projector.Route(deviceID),
	}, true
}

func (s *Session) Geofences() []domain.Geofence { return s.poller.Geofences() }

// Alerts returns the most recent alerts, newest first.
func (s *Session) Alerts() []domain.AlertRecord {
	s.alertsMu.Lock()
	defer s.alertsMu.Unlock()
	return append([]domain.AlertRecord(nil), s.alerts...)
}
