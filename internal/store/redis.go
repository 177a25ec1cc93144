package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"herd-monitor/dashboard/internal/config"
	"herd-monitor/dashboard/internal/domain"
	"herd-monitor/dashboard/internal/view"
)

const (
	TelemetryChannel = "herd:telemetry"
	AlertChannel     = "herd:alerts"
	GeoKey           = "herd:geo"
)

type RedisStore struct {
	client   *redis.Client
	stateTTL time.Duration
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.DeviceStateTTL), nil
}

func NewRedisStoreFromClient(client *redis.Client, stateTTL time.Duration) *RedisStore {
	if stateTTL <= 0 {
		stateTTL = 30 * time.Second
	}
	return &RedisStore{client: client, stateTTL: stateTTL}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Client() *redis.Client {
	return r.client
}

func DeviceStateKey(deviceID string) string {
	return fmt.Sprintf("device:%s:state", deviceID)
}

// StateFields flattens a summary row into the hash stored per device.
// Absent telemetry is left out rather than written as zero.
func StateFields(row view.SummaryRow) map[string]interface{} {
	fields := map[string]interface{}{
		"device_id": row.DeviceID,
		"motion":    string(row.Motion),
		"points":    row.Points,
	}
	if row.Name != "" {
		fields["name"] = row.Name
	}
	if row.LastSeen != nil {
		fields["last_seen"] = row.LastSeen.UnixMilli()
	}
	optional := map[string]*float64{
		"lat":           row.Lat,
		"lon":           row.Lon,
		"battery_pct":   row.BatteryPct,
		"battery_v":     row.BatteryV,
		"rssi":          row.RSSI,
		"snr":           row.SNR,
		"temperature_c": row.TemperatureC,
		"altitude_m":    row.AltitudeM,
	}
	for k, v := range optional {
		if v != nil {
			fields[k] = *v
		}
	}
	if row.FrameCounter != nil {
		fields["frame_counter"] = *row.FrameCounter
	}
	return fields
}

// PipelineStateUpdate mirrors one device row: hash with TTL, geo index when
// the row has a position, and a publish for live subscribers.
func (r *RedisStore) PipelineStateUpdate(ctx context.Context, row view.SummaryRow) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	key := DeviceStateKey(row.DeviceID)

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, StateFields(row))
	pipe.Expire(ctx, key, r.stateTTL)
	if row.Lat != nil && row.Lon != nil {
		pipe.GeoAdd(ctx, GeoKey, &redis.GeoLocation{
			Name:      row.DeviceID,
			Longitude: *row.Lon,
			Latitude:  *row.Lat,
		})
	}
	pipe.Publish(ctx, TelemetryChannel, payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

func (r *RedisStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	key := fmt.Sprintf("view:auth:%s", apiKey)
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}

// ClaimAlert records the dedup key and reports whether this is the first
// delivery within ttl.
func (r *RedisStore) ClaimAlert(ctx context.Context, alert domain.AlertRecord, ttl time.Duration) (bool, error) {
	key := "alert:" + alert.DedupKey()
	ok, err := r.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return ok, nil
}

func (r *RedisStore) PublishAlert(ctx context.Context, alert domain.AlertRecord) error {
	payload := []byte(alert.Raw)
	if len(payload) == 0 {
		var err error
		if payload, err = json.Marshal(alert); err != nil {
			return fmt.Errorf("failed to marshal alert: %w", err)
		}
	}
	return r.client.Publish(ctx, AlertChannel, payload).Err()
}
