// Package stream keeps one live WebSocket connection to the backend and turns
// disconnects into a bounded, exponentially backed-off reconnect cycle.
//
// All state lives on the goroutine running Run. Dials, socket reads and the
// reconnect timer report back through one channel and carry a generation
// number, so events from a replaced connection or a cancelled timer are
// dropped instead of acting on the current one.
package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"herd-monitor/dashboard/internal/metrics"
)

var ErrTornDown = errors.New("transport torn down")

// Conn is an open stream connection.
type Conn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

type Timer interface {
	Stop() bool
}

// Clock schedules the reconnect timer.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// FrameHandler receives parsed frames in arrival order on the transport
// goroutine. It must not block for long and must not call back into the
// transport synchronously.
type FrameHandler func(Frame)

type Options struct {
	URL    string
	Dialer Dialer
	Policy Policy
	Clock  Clock
	Logger zerolog.Logger

	// Header supplies handshake headers per dial, so a refreshed token is
	// picked up on reconnect.
	Header func() (http.Header, error)

	OnFrame     FrameHandler
	OnStatus    func(Status)
	OnDialError func(error)
}

type event struct {
	kind eventKind
	gen  uint64
	conn Conn
	data []byte
	err  error
}

type Transport struct {
	opts   Options
	log    zerolog.Logger
	events chan event
	done   chan struct{}
	status atomic.Value

	mu      sync.Mutex
	started bool
	torn    bool
	cancel  context.CancelFunc

	postMu sync.Mutex
	exited bool

	// owned by the Run goroutine
	m          machine
	conn       Conn
	connGen    uint64
	dialCancel context.CancelFunc
	timer      Timer
	timerGen   uint64
}

func New(opts Options) *Transport {
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Header == nil {
		opts.Header = func() (http.Header, error) { return http.Header{}, nil }
	}
	t := &Transport{
		opts:   opts,
		log:    opts.Logger.With().Str("component", "stream").Logger(),
		events: make(chan event, 64),
		done:   make(chan struct{}),
		m:      newMachine(opts.Policy),
	}
	t.status.Store(StatusConnecting)
	return t
}

// Status is safe to call from any goroutine.
func (t *Transport) Status() Status {
	return t.status.Load().(Status)
}

// Run dials and keeps the connection alive until ctx is cancelled or Close
// is called, then closes the socket and cancels any pending timer before
// returning. Run may only be called once.
func (t *Transport) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.torn || t.started {
		t.mu.Unlock()
		return ErrTornDown
	}
	t.started = true
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.mu.Unlock()

	defer t.finish()
	defer t.teardown()
	defer cancel()

	t.handle(ctx, event{kind: evConnect})
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-t.events:
			t.handle(ctx, ev)
		}
	}
}

// Connect restarts the state machine from connecting with a zero retry
// count, replacing any live connection and pending timer. It is how a user
// resumes after the transport reached closed.
func (t *Transport) Connect() {
	t.post(event{kind: evConnect})
}

// Close tears the transport down and waits until no further callback can
// fire. Calling Close before Run prevents Run from starting.
func (t *Transport) Close() {
	t.mu.Lock()
	t.torn = true
	cancel, started := t.cancel, t.started
	t.mu.Unlock()

	if !started {
		return
	}
	cancel()
	<-t.done
}

// Done is closed once Run has returned.
func (t *Transport) Done() <-chan struct{} { return t.done }

func (t *Transport) post(ev event) {
	t.postMu.Lock()
	defer t.postMu.Unlock()
	if t.exited {
		discard(ev)
		return
	}
	select {
	case t.events <- ev:
	case <-t.done:
		discard(ev)
	}
}

// finish releases Close waiters, then drains whatever goroutines managed to
// queue so a late dial result does not leak its socket.
func (t *Transport) finish() {
	close(t.done)
	t.postMu.Lock()
	t.exited = true
	t.postMu.Unlock()
	for {
		select {
		case ev := <-t.events:
			discard(ev)
		default:
			return
		}
	}
}

func discard(ev event) {
	if ev.conn != nil {
		_ = ev.conn.Close()
	}
}

func (t *Transport) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evOpened:
		if ev.gen != t.connGen {
			_ = ev.conn.Close()
			return
		}
		t.conn = ev.conn
	case evDropped:
		if ev.gen != t.connGen {
			return
		}
		if ev.err != nil {
			t.log.Debug().Err(ev.err).Uint64("gen", ev.gen).Msg("stream connection dropped")
			if t.opts.OnDialError != nil && t.conn == nil {
				t.opts.OnDialError(ev.err)
			}
		}
	case evRetry:
		if ev.gen != t.timerGen {
			return
		}
		t.timer = nil
	case evFrame:
		if ev.gen == t.connGen {
			t.deliver(ev.data)
		}
		return
	}

	before := t.m.status
	s := t.m.apply(ev.kind)
	t.execute(ctx, s)

	if ev.kind == evOpened && t.conn != nil {
		go t.read(ev.gen, t.conn)
	}
	if t.m.status != before || ev.kind == evConnect || ev.kind == evOpened {
		t.setStatus(t.m.status)
	}
	if s.schedule > 0 {
		metrics.ReconnectAttempts.Inc()
		t.log.Info().Dur("delay", s.schedule).Int("retry", t.m.retries).Msg("stream reconnect scheduled")
	}
	if t.m.status == StatusClosed && before != StatusClosed {
		t.log.Warn().Int("retries", t.m.retries).Msg("stream reconnect budget exhausted")
	}
}

func (t *Transport) execute(ctx context.Context, s step) {
	if s.cancelTimer {
		t.stopTimer()
	}
	if s.closeConn {
		t.closeConn()
	}
	if s.schedule > 0 {
		t.timerGen++
		gen := t.timerGen
		t.timer = t.opts.Clock.AfterFunc(s.schedule, func() {
			t.post(event{kind: evRetry, gen: gen})
		})
	}
	if s.dial {
		t.startDial(ctx)
	}
}

func (t *Transport) startDial(ctx context.Context) {
	t.closeConn()
	t.connGen++
	gen := t.connGen
	dialCtx, cancel := context.WithCancel(ctx)
	t.dialCancel = cancel

	go func() {
		header, err := t.opts.Header()
		if err != nil {
			t.post(event{kind: evDropped, gen: gen, err: err})
			return
		}
		conn, err := t.opts.Dialer.Dial(dialCtx, t.opts.URL, header)
		if err != nil {
			t.post(event{kind: evDropped, gen: gen, err: err})
			return
		}
		t.post(event{kind: evOpened, gen: gen, conn: conn})
	}()
}

func (t *Transport) read(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			t.post(event{kind: evDropped, gen: gen, err: err})
			return
		}
		t.post(event{kind: evFrame, gen: gen, data: data})
	}
}

func (t *Transport) deliver(data []byte) {
	metrics.FramesReceived.Inc()
	f, err := ParseFrame(data)
	if err != nil {
		metrics.FramesMalformed.Inc()
		t.log.Debug().Err(err).Int("bytes", len(data)).Msg("dropping malformed frame")
		return
	}
	if f.Kind() == KindIgnored {
		metrics.FramesIgnored.Inc()
		return
	}
	if t.opts.OnFrame != nil {
		t.opts.OnFrame(f)
	}
}

func (t *Transport) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.timerGen++
}

// closeConn releases the live socket or the in-flight dial and bumps the
// generation so anything they still report is ignored.
func (t *Transport) closeConn() {
	if t.dialCancel != nil {
		t.dialCancel()
		t.dialCancel = nil
	}
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.connGen++
}

func (t *Transport) teardown() {
	t.stopTimer()
	t.closeConn()
	t.m.status = StatusClosed
	t.status.Store(StatusClosed)
	t.log.Info().Msg("stream torn down")
}

func (t *Transport) setStatus(s Status) {
	t.status.Store(s)
	metrics.SetConnectionStatus(string(s),
		string(StatusConnecting), string(StatusConnected), string(StatusReconnecting), string(StatusClosed))
	t.log.Info().Str("status", string(s)).Msg("stream status")
	if t.opts.OnStatus != nil {
		t.opts.OnStatus(s)
	}
}
