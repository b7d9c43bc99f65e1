package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full process configuration, read once at startup.
type Config struct {
	Server        Server
	GitHub        GitHub
	Index         Index
	Downstream    Downstream
	Redis         RedisConfig
	Kafka         KafkaConfig
	Notifications Notifications
	Pipeline      Pipeline
	RateLimit     RateLimit
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string
	RequestTimeout time.Duration
	LogLevel       string
	Environment    string
}

// GitHub configures the version-control host. Either Token or the App*
// fields must be set.
type GitHub struct {
	BaseURL        string
	Token          string
	Owner          string
	Repo           string
	Org            bool
	DefaultBranch  string
	WebhookSecret  string
	AppID          string
	InstallationID string
	PrivateKeyPEM  string
	Timeout        time.Duration
}

// Index configures the search/index store. An empty DatabaseURL selects the
// in-memory store.
type Index struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Downstream configures the party-management system.
type Downstream struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RedisConfig configures the webhook delivery dedupe store.
// An empty URL selects the in-memory deduper.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DedupeTTL    time.Duration
}

// KafkaConfig configures the kafka notification channel.
// Empty Brokers disables the channel.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Notifications configures the delivery channels.
type Notifications struct {
	Console    bool
	WebhookURL string
	SMTPAddr   string
	SMTPFrom   string
	SMTPTo     []string
	SMTPUser   string
	SMTPPass   string
}

// Pipeline configures orchestrator behaviour.
type Pipeline struct {
	AutoMerge                bool
	MergeAttempts            int
	MergeRetryDelay          time.Duration
	CompensateOnIndexFailure bool
}

// RateLimit bounds submissions per client IP. A zero limit disables it.
type RateLimit struct {
	Submissions int
	Window      time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:           envOr("INTAKE_ADDR", ":8080"),
			RequestTimeout: envDuration("INTAKE_REQUEST_TIMEOUT", 60*time.Second),
			LogLevel:       envOr("LOG_LEVEL", "info"),
			Environment:    envOr("INTAKE_ENV", "development"),
		},
		GitHub: GitHub{
			BaseURL:        envOr("GITHUB_API_URL", "https://api.github.com"),
			Token:          os.Getenv("GITHUB_TOKEN"),
			Owner:          os.Getenv("GITHUB_OWNER"),
			Repo:           envOr("GITHUB_REPO", "contacts"),
			Org:            os.Getenv("GITHUB_OWNER_IS_ORG") == "true",
			DefaultBranch:  envOr("GITHUB_DEFAULT_BRANCH", "main"),
			WebhookSecret:  os.Getenv("GITHUB_WEBHOOK_SECRET"),
			AppID:          os.Getenv("GITHUB_APP_ID"),
			InstallationID: os.Getenv("GITHUB_APP_INSTALLATION_ID"),
			PrivateKeyPEM:  os.Getenv("GITHUB_APP_PRIVATE_KEY"),
			Timeout:        envDuration("GITHUB_TIMEOUT", 30*time.Second),
		},
		Index: Index{
			DatabaseURL:     os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Downstream: Downstream{
			BaseURL: envOr("DOWNSTREAM_API_URL", "http://localhost:3000"),
			APIKey:  os.Getenv("DOWNSTREAM_API_KEY"),
			Timeout: envDuration("DOWNSTREAM_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			DedupeTTL:    envDuration("WEBHOOK_DEDUPE_TTL", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers: envList("KAFKA_BROKERS"),
			Topic:   envOr("KAFKA_NOTIFICATION_TOPIC", "intake.notifications"),
		},
		Notifications: Notifications{
			Console:    envOr("NOTIFY_CONSOLE", "true") == "true",
			WebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
			SMTPAddr:   os.Getenv("NOTIFY_SMTP_ADDR"),
			SMTPFrom:   os.Getenv("NOTIFY_SMTP_FROM"),
			SMTPTo:     envList("NOTIFY_SMTP_TO"),
			SMTPUser:   os.Getenv("NOTIFY_SMTP_USER"),
			SMTPPass:   os.Getenv("NOTIFY_SMTP_PASSWORD"),
		},
		Pipeline: Pipeline{
			AutoMerge:                os.Getenv("AUTO_MERGE") == "true",
			MergeAttempts:            envInt("MERGE_ATTEMPTS", 5),
			MergeRetryDelay:          envDuration("MERGE_RETRY_DELAY", 2*time.Second),
			CompensateOnIndexFailure: os.Getenv("PIPELINE_COMPENSATE_ON_INDEX_FAILURE") == "true",
		},
		RateLimit: RateLimit{
			Submissions: envInt("SUBMISSION_RATE_LIMIT", 30),
			Window:      envDuration("SUBMISSION_RATE_WINDOW", time.Minute),
		},
	}
}

// UsesGitHubApp reports whether app credentials were provided.
func (g GitHub) UsesGitHubApp() bool {
	return g.AppID != "" && g.InstallationID != "" && g.PrivateKeyPEM != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
