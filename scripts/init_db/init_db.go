package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		dbGetEnv("DB_USER", "herd_user"),
		dbGetEnv("DB_PASSWORD", "herd_password"),
		dbGetEnv("DB_HOST", "localhost"),
		dbGetEnv("DB_PORT", "5432"),
		dbGetEnv("DB_NAME", "herd_monitor"),
	)

	ctx := context.Background()

	fmt.Println("Connecting to TimescaleDB...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure TimescaleDB is running:\n  docker-compose up -d timescaledb", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	step1_extensions(ctx, conn)
	step2_alerts_table(ctx, conn)
	step3_indexes(ctx, conn)
	step4_verify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/seed_redis")
}

// ─────────────────────────────────────────────────────────────
// Step 1: Extensions
// ─────────────────────────────────────────────────────────────
func step1_extensions(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: Extensions ──────────────────────────")

	execOrFatal(ctx, conn,
		"CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;",
		"timescaledb extension",
	)
}

// ─────────────────────────────────────────────────────────────
// Step 2: herd_alerts table
// ─────────────────────────────────────────────────────────────
func step2_alerts_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: herd_alerts table ───────────────────")

	// Column order matches store.AlertColumns.
	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS herd_alerts (

			-- Backend creation time, or receipt time when the alert had none
			created_at   TIMESTAMPTZ      NOT NULL,
			received_at  TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			-- Backend alert id, NULL when the backend sent none
			alert_id     TEXT,
			device_id    TEXT             NOT NULL,

			-- GEOFENCE_EXIT | GEOFENCE_ENTER | LOW_BATTERY | NO_SIGNAL, open ended
			alert_type   TEXT             NOT NULL,

			-- INFO | WARNING | CRITICAL
			severity     TEXT             NOT NULL,

			message      TEXT,
			geofence_id  TEXT,
			latitude     DOUBLE PRECISION,
			longitude    DOUBLE PRECISION,

			raw_payload  JSONB,

			CONSTRAINT chk_severity CHECK (
				severity IN ('INFO', 'WARNING', 'CRITICAL')
			)
		);
	`, "herd_alerts table created")

	execOrFatal(ctx, conn, `
		SELECT create_hypertable(
			'herd_alerts',
			'created_at',
			if_not_exists => TRUE
		);
	`, "herd_alerts converted to hypertable")
}

// ─────────────────────────────────────────────────────────────
// Step 3: Indexes
// ─────────────────────────────────────────────────────────────
func step3_indexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: Indexes ─────────────────────────────")

	indexes := []struct {
		name string
		sql  string
		why  string
	}{
		{
			name: "idx_alerts_device_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_alerts_device_time
				  ON herd_alerts (device_id, created_at DESC);`,
			why: "query: alerts for one collar",
		},
		{
			name: "idx_alerts_type_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_alerts_type_time
				  ON herd_alerts (alert_type, created_at DESC);`,
			why: "query: geofence exits across the herd",
		},
		{
			name: "idx_alerts_geofence",
			sql: `CREATE INDEX IF NOT EXISTS idx_alerts_geofence
				  ON herd_alerts (geofence_id, created_at DESC)
				  WHERE geofence_id IS NOT NULL;`,
			why: "query: alerts for one paddock (partial index)",
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, conn, idx.sql,
			fmt.Sprintf("%-40s ← %s", idx.name, idx.why),
		)
	}
}

// ─────────────────────────────────────────────────────────────
// Step 4: Verify
// ─────────────────────────────────────────────────────────────
func step4_verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 4: Verification ────────────────────────")

	var exists bool
	err := conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_name = $1
		)
	`, "herd_alerts").Scan(&exists)
	if err != nil || !exists {
		log.Fatalf("Table herd_alerts was not created: %v", err)
	}
	fmt.Println("  ✓ table: herd_alerts")

	var hypertableName string
	err = conn.QueryRow(ctx, `
		SELECT hypertable_name
		FROM timescaledb_information.hypertables
		WHERE hypertable_name = 'herd_alerts'
	`).Scan(&hypertableName)
	if err != nil {
		log.Fatalf("herd_alerts is not a hypertable: %v", err)
	}
	fmt.Printf("  ✓ hypertable: %s (time partitioned)\n", hypertableName)

	var indexCount int
	err = conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pg_indexes
		WHERE tablename = 'herd_alerts'
		AND indexname LIKE 'idx_%'
	`).Scan(&indexCount)
	if err != nil {
		log.Fatalf("Index check failed: %v", err)
	}
	fmt.Printf("  ✓ indexes created: %d\n", indexCount)
}

// execOrFatal runs a SQL statement and prints result or exits on error
func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	_, err := conn.Exec(ctx, sql)
	if err != nil {
		log.Fatalf("FAILED: %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}

func dbGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
