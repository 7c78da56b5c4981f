package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RiderConfig captures all tunable parameters for the rider client.
// Values are primarily loaded from environment variables with sane
// defaults so the binary can run locally without excessive setup.
type RiderConfig struct {
	DispatchURL    string
	ProfileBaseURL string
	UserID         string

	OfferTimeout time.Duration
	DialTimeout  time.Duration
	WriteTimeout time.Duration

	LogLevel string
}

func defaultRiderConfig() RiderConfig {
	return RiderConfig{
		DispatchURL:  "ws://localhost:8080/ws",
		OfferTimeout: 20 * time.Second,
		DialTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		LogLevel:     "info",
	}
}

func LoadRiderConfig() (RiderConfig, error) {
	cfg := defaultRiderConfig()
	var errs []error

	setStringFromEnv(&cfg.DispatchURL, "DISPATCH_URL")
	setStringFromEnv(&cfg.ProfileBaseURL, "PROFILE_BASE_URL")
	setStringFromEnv(&cfg.UserID, "RIDER_USER_ID")

	setDurationFromEnv(&cfg.OfferTimeout, "OFFER_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.DialTimeout, "DIAL_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "WRITE_TIMEOUT", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.OfferTimeout <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_TIMEOUT must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// SimulatorConfig drives the local dispatch simulator.
type SimulatorConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	OfferCount      int           // drivers offered per ride request
	OfferDelay      time.Duration // stagger between driverRequest frames
	DefaultSpeedMps float64
	OSRMEndpoint    string

	LogLevel      string
	RunMigrations bool
}

func defaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "drivers_geo",
		KafkaTopic:      "ride-events",
		OfferCount:      3,
		OfferDelay:      500 * time.Millisecond,
		DefaultSpeedMps: 10,
		LogLevel:        "info",
	}
}

func LoadSimulatorConfig() (SimulatorConfig, error) {
	cfg := defaultSimulatorConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setIntFromEnv(&cfg.OfferCount, "SIM_OFFER_COUNT", &errs)
	setDurationFromEnv(&cfg.OfferDelay, "SIM_OFFER_DELAY", &errs)
	setFloatFromEnv(&cfg.DefaultSpeedMps, "SIM_DEFAULT_SPEED_MPS", &errs)
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.OfferCount <= 0 {
		errs = append(errs, fmt.Errorf("SIM_OFFER_COUNT must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
