package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Coordinator captures the coordinator process configuration. Everything
// comes from environment variables so main stays lean.
type Coordinator struct {
	Addr          string
	LogLevel      string
	LogFormat     string
	JWTSigningKey string

	Redis RedisConfig

	// PostgresURL enables the durable detection archive when set.
	PostgresURL string

	// KafkaBrokers enables the lifecycle event trail when non-empty.
	KafkaBrokers []string

	// AgentBaseURL is the page-agent endpoint contract calls are relayed
	// to. Empty disables the relay.
	AgentBaseURL string
	AgentToken   string
}

// RedisConfig holds connection settings for the redis-backed stores and the
// durable deadline scheduler.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Coordinator config from environment variables.
func FromEnv() Coordinator {
	cfg := Coordinator{
		Addr:          envOr("CONSENTRY_ADDR", ":8080"),
		LogLevel:      envOr("CONSENTRY_LOG_LEVEL", "info"),
		LogFormat:     envOr("CONSENTRY_LOG_FORMAT", "json"),
		JWTSigningKey: envOr("CONSENTRY_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		PostgresURL:   os.Getenv("CONSENTRY_POSTGRES_URL"),
		AgentBaseURL:  os.Getenv("CONSENTRY_AGENT_URL"),
		AgentToken:    os.Getenv("CONSENTRY_AGENT_TOKEN"),
		Redis: RedisConfig{
			URL:          os.Getenv("CONSENTRY_REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}
	if brokers := os.Getenv("CONSENTRY_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg
}

// Observer captures the observer process configuration.
type Observer struct {
	// CoordinatorURL is where detection and lifecycle messages are posted.
	CoordinatorURL string
	// Token authenticates the observer to the coordinator.
	Token string
	// IssueBase is the issuance app the hand-off URL points at.
	IssueBase string
	// PageURL is the page to observe.
	PageURL string
	// ControlAddr is the loopback address of the local callback surface
	// (issuance return hook, rescan and visibility triggers).
	ControlAddr string
	TabID       int
	LogLevel    string
	LogFormat   string
}

func ObserverFromEnv() Observer {
	tabID, _ := strconv.Atoi(os.Getenv("CONSENTRY_TAB_ID"))
	return Observer{
		CoordinatorURL: envOr("CONSENTRY_COORDINATOR_URL", "http://localhost:8080"),
		Token:          os.Getenv("CONSENTRY_OBSERVER_TOKEN"),
		IssueBase:      envOr("CONSENTRY_ISSUE_BASE", "http://localhost:5173/issue"),
		PageURL:        os.Getenv("CONSENTRY_PAGE_URL"),
		ControlAddr:    envOr("CONSENTRY_CONTROL_ADDR", "127.0.0.1:8091"),
		TabID:          tabID,
		LogLevel:       envOr("CONSENTRY_LOG_LEVEL", "info"),
		LogFormat:      envOr("CONSENTRY_LOG_FORMAT", "text"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
