package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamURL(t *testing.T) {
	tests := []struct {
		base string
		want string
		err  bool
	}{
		{base: "http://localhost:8080", want: "ws://localhost:8080/ws"},
		{base: "https://api.example.com/", want: "wss://api.example.com/ws"},
		{base: "https://api.example.com/herd", want: "wss://api.example.com/herd/ws"},
		{base: "wss://stream.example.com", want: "wss://stream.example.com/ws"},
		{base: "ftp://example.com", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			c := &Config{BackendBaseURL: tt.base}
			got, err := c.StreamURL()
			if tt.err {
				assert.ErrorIs(t, err, ErrUnsupportedScheme)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRESTBaseURLTrimsSlash(t *testing.T) {
	c := &Config{BackendBaseURL: "https://api.example.com//"}
	assert.Equal(t, "https://api.example.com", c.RESTBaseURL())
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 120, cfg.HistoryWindow)
	assert.Equal(t, 10, cfg.StreamMaxRetries)
	assert.Equal(t, time.Second, cfg.StreamBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.StreamMaxDelay)
	assert.False(t, cfg.RedisEnabled())
	assert.False(t, cfg.DBEnabled())
	assert.Empty(t, cfg.ViewAPIKeys)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BACKEND_BASE_URL", "https://herd.example.com")
	t.Setenv("POLL_INTERVAL", "5s")
	t.Setenv("STREAM_BASE_DELAY", "250")
	t.Setenv("HISTORY_WINDOW", "40")
	t.Setenv("VIEW_API_KEYS", "a, b,,c")
	t.Setenv("MOTION_MIN_SEGMENT_M", "15.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.StreamBaseDelay)
	assert.Equal(t, 40, cfg.HistoryWindow)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.ViewAPIKeys)
	assert.Equal(t, 15.5, cfg.Motion.MinSegmentM)

	u, err := cfg.StreamURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://herd.example.com/ws", u)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STREAM_BASE_DELAY", "1m")
	t.Setenv("STREAM_MAX_DELAY", "30s")
	t.Setenv("HISTORY_WINDOW", "-1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history window")
	assert.Contains(t, err.Error(), "exceeds max delay")
}

func TestTuningFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
historyWindow: 60
pollInterval: 10s
motion:
  minSegmentM: 12
  maxGap: 2m
`), 0o600))

	t.Chdir(dir)
	t.Setenv("TUNING_FILE", path)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.HistoryWindow)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 12.0, cfg.Motion.MinSegmentM)
	assert.Equal(t, 2*time.Minute, cfg.Motion.MaxGap)
	assert.Equal(t, 5*time.Minute, cfg.Motion.Recency)
}

func TestTuningRejectsUnknownKeys(t *testing.T) {
	_, err := ParseTuning([]byte("motion:\n  minSegment: 12\n"))
	assert.Error(t, err)

	tuning, err := ParseTuning(nil)
	require.NoError(t, err)
	assert.Nil(t, tuning.HistoryWindow)
}
