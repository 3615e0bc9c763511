package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	HTTPAddr    string
	LogLevel    string
	Location    *time.Location

	// Realtime gateway
	SnapshotInterval time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	SendBuffer       int

	// Event mirror (empty NATSURL disables it)
	NATSURL           string
	NATSSubjectPrefix string
	LogNATSSubjects   bool

	// CRUD mutation feed (empty AMQPURL disables it)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	AMQPPrefetch int

	// Driver simulator and clients
	MetricsAddr          string
	GatewayURL           string
	PublishInterval      time.Duration
	SpeedMultiplier      float64
	TripsRefreshInterval time.Duration
	PreloadHorizon       time.Duration
	ReconnectDelay       time.Duration
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := getenvDefault("PGDATABASE", "shuttle")
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	} else {
		cfg.DatabaseURL = dsn
	}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")
	cfg.LogLevel = strings.ToUpper(getenvDefault("LOG_LEVEL", "INFO"))

	var err error
	if cfg.SnapshotInterval, err = secondsVar("SNAPSHOT_INTERVAL_SEC", 10); err != nil {
		return nil, err
	}
	if cfg.PingInterval, err = secondsVar("WS_PING_INTERVAL_SEC", 25); err != nil {
		return nil, err
	}
	if cfg.PongTimeout, err = secondsVar("WS_PONG_TIMEOUT_SEC", 60); err != nil {
		return nil, err
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		return nil, fmt.Errorf("WS_PONG_TIMEOUT_SEC (%s) must exceed WS_PING_INTERVAL_SEC (%s)", cfg.PongTimeout, cfg.PingInterval)
	}
	if cfg.SendBuffer, err = positiveInt("WS_SEND_BUFFER", 64); err != nil {
		return nil, err
	}

	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "shuttle")
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))

	cfg.AMQPURL = os.Getenv("AMQP_URL")
	cfg.AMQPExchange = getenvDefault("AMQP_EXCHANGE", "shuttle.events")
	cfg.AMQPQueue = getenvDefault("AMQP_QUEUE", "shuttle.realtime")
	if cfg.AMQPPrefetch, err = positiveInt("AMQP_PREFETCH", 8); err != nil {
		return nil, err
	}

	// Metrics listen address (e.g., ":9102"). Empty disables the simulator's metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.GatewayURL = getenvDefault("GATEWAY_URL", "ws://127.0.0.1:8080/ws")

	// Publish interval
	if v := os.Getenv("PUBLISH_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid PUBLISH_INTERVAL_MS: %q", v)
		}
		cfg.PublishInterval = time.Duration(ms) * time.Millisecond
	} else {
		cfg.PublishInterval = time.Second
	}

	// Speed multiplier
	if v := os.Getenv("SPEED_MULTIPLIER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid SPEED_MULTIPLIER: %q", v)
		}
		cfg.SpeedMultiplier = f
	} else {
		cfg.SpeedMultiplier = 1.0
	}

	if cfg.TripsRefreshInterval, err = secondsVar("TRIPS_REFRESH_INTERVAL_SEC", 60); err != nil {
		return nil, err
	}

	// Preload horizon (minutes); zero disables scheduling ahead of departure
	if v := os.Getenv("TRIPS_PRELOAD_MINUTES"); v != "" {
		min, err := strconv.Atoi(v)
		if err != nil || min < 0 {
			return nil, fmt.Errorf("invalid TRIPS_PRELOAD_MINUTES: %q", v)
		}
		cfg.PreloadHorizon = time.Duration(min) * time.Minute
	} else {
		cfg.PreloadHorizon = 30 * time.Minute
	}

	if cfg.ReconnectDelay, err = secondsVar("RECONNECT_DELAY_SEC", 5); err != nil {
		return nil, err
	}

	// Time zone
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

func secondsVar(key string, def int) (time.Duration, error) {
	sec, err := positiveInt(key, def)
	if err != nil {
		return 0, err
	}
	return time.Duration(sec) * time.Second, nil
}

func positiveInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
