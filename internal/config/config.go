package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ClientConfig captures all tunable parameters for a dispatch client process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ClientConfig struct {
	// Identity of the signed-in user; keys the rejected-ride set.
	Identity string
	// AuthToken is passed to both the channel and the REST API.
	AuthToken string

	ChannelURL     string
	ReconnectDelay time.Duration

	APIBaseURL string
	APITimeout time.Duration

	DecisionWindow time.Duration
	PollInterval   time.Duration
	DisplayDelay   time.Duration

	MovementThresholdM float64
	NearbyRadiusM      float64

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	DiagAddr string
	LogLevel string
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		ChannelURL:         "ws://localhost:8080/ws",
		ReconnectDelay:     5 * time.Second,
		APIBaseURL:         "http://localhost:8080/api/v1",
		APITimeout:         10 * time.Second,
		DecisionWindow:     20 * time.Second,
		PollInterval:       3 * time.Second,
		DisplayDelay:       1500 * time.Millisecond,
		MovementThresholdM: 10,
		NearbyRadiusM:      5000,
		KafkaTopic:         "driver-locations",
		DiagAddr:           "127.0.0.1:2113",
		LogLevel:           "info",
	}
}

func LoadClientConfig() (ClientConfig, error) {
	cfg := defaultClientConfig()
	var errs []error

	cfg.Identity = strings.TrimSpace(os.Getenv("DISPATCH_IDENTITY"))
	cfg.AuthToken = os.Getenv("DISPATCH_TOKEN")

	setStringFromEnv(&cfg.ChannelURL, "CHANNEL_URL")
	setDurationFromEnv(&cfg.ReconnectDelay, "CHANNEL_RECONNECT_DELAY", &errs)

	setStringFromEnv(&cfg.APIBaseURL, "API_BASE_URL")
	setDurationFromEnv(&cfg.APITimeout, "API_TIMEOUT", &errs)

	setDurationFromEnv(&cfg.DecisionWindow, "OFFER_DECISION_WINDOW", &errs)
	setDurationFromEnv(&cfg.PollInterval, "RIDE_POLL_INTERVAL", &errs)
	setDurationFromEnv(&cfg.DisplayDelay, "DISPLAY_DELAY", &errs)

	setFloatFromEnv(&cfg.MovementThresholdM, "MOVEMENT_THRESHOLD_M", &errs)
	setFloatFromEnv(&cfg.NearbyRadiusM, "NEARBY_RADIUS_M", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setStringFromEnv(&cfg.DiagAddr, "DIAG_ADDR")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.Identity == "" {
		errs = append(errs, fmt.Errorf("DISPATCH_IDENTITY must be set"))
	}
	if cfg.DecisionWindow <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_DECISION_WINDOW must be > 0"))
	}
	if cfg.ReconnectDelay <= 0 {
		errs = append(errs, fmt.Errorf("CHANNEL_RECONNECT_DELAY must be > 0"))
	}
	if cfg.MovementThresholdM < 0 {
		errs = append(errs, fmt.Errorf("MOVEMENT_THRESHOLD_M must be >= 0"))
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
