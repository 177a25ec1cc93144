package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning is the YAML overlay for thresholds that are awkward to pass
// through the environment. Absent keys leave the current value.
type Tuning struct {
	HistoryWindow *int          `yaml:"historyWindow"`
	PollInterval  time.Duration `yaml:"pollInterval"`
	Motion        struct {
		MinSegmentM *float64       `yaml:"minSegmentM"`
		MinSpeedMPS *float64       `yaml:"minSpeedMps"`
		MaxGap      *time.Duration `yaml:"maxGap"`
		Recency     *time.Duration `yaml:"recency"`
	} `yaml:"motion"`
}

func (c *Config) ApplyTuningFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tuning file: %w", err)
	}
	t, err := ParseTuning(data)
	if err != nil {
		return fmt.Errorf("tuning file %s: %w", path, err)
	}
	c.ApplyTuning(t)
	return nil
}

// ParseTuning rejects unknown keys so a typo does not silently fall back
// to a default.
func ParseTuning(data []byte) (Tuning, error) {
	var t Tuning
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return Tuning{}, err
	}
	return t, nil
}

func (c *Config) ApplyTuning(t Tuning) {
	if t.HistoryWindow != nil {
		c.HistoryWindow = *t.HistoryWindow
	}
	if t.PollInterval != 0 {
		c.PollInterval = t.PollInterval
	}
	if t.Motion.MinSegmentM != nil {
		c.Motion.MinSegmentM = *t.Motion.MinSegmentM
	}
	if t.Motion.MinSpeedMPS != nil {
		c.Motion.MinSpeedMPS = *t.Motion.MinSpeedMPS
	}
	if t.Motion.MaxGap != nil {
		c.Motion.MaxGap = *t.Motion.MaxGap
	}
	if t.Motion.Recency != nil {
		c.Motion.Recency = *t.Motion.Recency
	}
}
