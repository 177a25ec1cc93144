package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"herd-monitor/dashboard/internal/domain"
	"herd-monitor/dashboard/internal/store"
	"herd-monitor/dashboard/internal/view"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file, using system environment variables")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisGetEnv("REDIS_ADDR", "localhost:6379"),
		Password: redisGetEnv("REDIS_PASSWORD", ""),
		DB:       0,
	})
	defer client.Close()

	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	fmt.Println("✓ Connected")

	step1_api_keys(ctx, client)
	step2_demo_state(ctx, client)
	step3_verify(ctx, client)

	fmt.Println("\n✅ Redis seeded successfully")
	fmt.Println("   Run next: go run ./cmd/herd-dashboard")
}

func step1_api_keys(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Step 1: Seeding view API keys ───────────────")

	// Key pattern: view:auth:{api_key} → owner
	// Looked up by auth.KeyValidator after the static VIEW_API_KEYS
	apiKeys := map[string]string{
		"view:auth:station_office_key": "station_office",
		"view:auth:vet_key":            "vet",
		"view:auth:test_key":           "test",
	}

	for key, owner := range apiKeys {
		if err := client.Set(ctx, key, owner, 0).Err(); err != nil {
			log.Fatalf("Failed to set key %s: %v", key, err)
		}
		fmt.Printf("  ✓ %-45s → %s\n", key, owner)
	}
}

func step2_demo_state(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Step 2: Demo device state ───────────────────")

	// Long TTL so the demo row survives until someone looks at it.
	rs := store.NewRedisStoreFromClient(client, time.Hour)
	seen := time.Now()
	row := view.SummaryRow{
		DeviceID:   "demo-collar-1",
		Name:       "Demo cow",
		Motion:     domain.MotionStationary,
		Points:     1,
		LastSeen:   &seen,
		Lat:        domain.Float(-27.4698),
		Lon:        domain.Float(153.0251),
		BatteryPct: domain.Float(87),
	}
	if err := rs.PipelineStateUpdate(ctx, row); err != nil {
		log.Fatalf("Failed to write demo state: %v", err)
	}
	fmt.Printf("  ✓ %s\n", store.DeviceStateKey(row.DeviceID))
}

func step3_verify(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Step 3: Verification ────────────────────────")

	keys, err := client.Keys(ctx, "view:auth:*").Result()
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	fmt.Printf("  ✓ %d API keys found in Redis\n", len(keys))

	state, err := client.HGetAll(ctx, store.DeviceStateKey("demo-collar-1")).Result()
	if err != nil || len(state) == 0 {
		log.Fatalf("Demo state missing: %v", err)
	}
	fmt.Printf("  ✓ demo state: motion=%s battery_pct=%s\n", state["motion"], state["battery_pct"])

	pos, err := client.GeoPos(ctx, store.GeoKey, "demo-collar-1").Result()
	if err != nil || len(pos) == 0 || pos[0] == nil {
		log.Fatalf("Demo position missing: %v", err)
	}
	fmt.Printf("  ✓ geo index: %.4f, %.4f\n", pos[0].Latitude, pos[0].Longitude)
}

func redisGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
