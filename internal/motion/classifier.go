// Package motion labels a device as moving, stationary or unknown from the
// tail of its point history.
package motion

import (
	"time"

	"herd-monitor/dashboard/internal/domain"
	"herd-monitor/dashboard/internal/geo"
)

// Config holds the classifier thresholds. Zero fields fall back to defaults.
type Config struct {
	// MinSegmentM is the distance both of the last two segments must exceed.
	MinSegmentM float64 `yaml:"minSegmentM"`
	// MinSpeedMPS is the speed both of the last two segments must exceed.
	MinSpeedMPS float64 `yaml:"minSpeedMps"`
	// MaxGap is the longest time between consecutive samples that still
	// counts as continuous tracking.
	MaxGap time.Duration `yaml:"maxGap"`
	// Recency is how old the freshest sample may be before the device is
	// treated as not moving.
	Recency time.Duration `yaml:"recency"`
}

const (
	DefaultMinSegmentM = 20.0
	DefaultMinSpeedMPS = 0.4
	DefaultMaxGap      = 90 * time.Second
	DefaultRecency     = 5 * time.Minute
)

func DefaultConfig() Config {
	return Config{
		MinSegmentM: DefaultMinSegmentM,
		MinSpeedMPS: DefaultMinSpeedMPS,
		MaxGap:      DefaultMaxGap,
		Recency:     DefaultRecency,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinSegmentM > 0 {
		d.MinSegmentM = c.MinSegmentM
	}
	if c.MinSpeedMPS > 0 {
		d.MinSpeedMPS = c.MinSpeedMPS
	}
	if c.MaxGap > 0 {
		d.MaxGap = c.MaxGap
	}
	if c.Recency > 0 {
		d.Recency = c.Recency
	}
	return d
}

// Reason says which rule decided a label.
type Reason string

const (
	ReasonInsufficient Reason = "insufficient-points"
	ReasonStale        Reason = "stale"
	ReasonGap          Reason = "gap"
	ReasonShortSegment Reason = "short-segment"
	ReasonSlow         Reason = "slow"
	ReasonMoving       Reason = "moving"
)

// Result is a label plus the measurements behind it.
type Result struct {
	State  domain.MotionState `json:"state"`
	Reason Reason             `json:"reason"`

	D12 float64 `json:"d12"`
	D23 float64 `json:"d23"`
	V12 float64 `json:"v12"`
	V23 float64 `json:"v23"`

	AgeMS int64 `json:"ageMs"`
}

type Classifier struct {
	cfg Config
}

func New(cfg Config) *Classifier {
	return &Classifier{cfg: cfg.withDefaults()}
}

func (c *Classifier) Config() Config { return c.cfg }

// Classify returns the label for a history ordered ascending by timestamp.
func (c *Classifier) Classify(history []domain.LivePoint, now time.Time) domain.MotionState {
	return c.Explain(history, now).State
}

// Explain is Classify with the intermediate values kept. Points without a
// fix carry telemetry only and are skipped; the label comes from the three
// most recent points that have one.
func (c *Classifier) Explain(history []domain.LivePoint, now time.Time) Result {
	fixed, ok := lastFixes(history)
	if !ok {
		return Result{State: domain.MotionUnknown, Reason: ReasonInsufficient}
	}

	p1, p2, p3 := fixed[0], fixed[1], fixed[2]
	t1, t2, t3 := p1.Timestamp(), p2.Timestamp(), p3.Timestamp()

	res := Result{State: domain.MotionStationary, AgeMS: now.UnixMilli() - t3}

	if res.AgeMS > c.cfg.Recency.Milliseconds() {
		res.Reason = ReasonStale
		return res
	}

	dt12, dt23 := t2-t1, t3-t2
	maxGap := c.cfg.MaxGap.Milliseconds()
	if dt12 <= 0 || dt23 <= 0 || dt12 > maxGap || dt23 > maxGap {
		res.Reason = ReasonGap
		return res
	}

	d12, _ := geo.Between(p1, p2)
	d23, _ := geo.Between(p2, p3)
	res.D12, res.D23 = d12, d23
	res.V12 = d12 / (float64(dt12) / 1000)
	res.V23 = d23 / (float64(dt23) / 1000)

	// Both segments must agree so a single GPS spike cannot read as movement.
	switch {
	case d12 <= c.cfg.MinSegmentM || d23 <= c.cfg.MinSegmentM:
		res.Reason = ReasonShortSegment
	case res.V12 <= c.cfg.MinSpeedMPS || res.V23 <= c.cfg.MinSpeedMPS:
		res.Reason = ReasonSlow
	default:
		res.State = domain.MotionMoving
		res.Reason = ReasonMoving
	}
	return res
}

// lastFixes returns the three most recent points with a fix, oldest first.
func lastFixes(history []domain.LivePoint) ([3]domain.LivePoint, bool) {
	var out [3]domain.LivePoint
	n := 0
	for i := len(history) - 1; i >= 0 && n < 3; i-- {
		if history[i].HasFix() {
			out[2-n] = history[i]
			n++
		}
	}
	return out, n == 3
}
