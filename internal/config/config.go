package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
// One struct is shared by the api, worker and wss processes; each reads the
// subset it needs.
type Config struct {
	AppPort string
	AppEnv  string

	WSPort string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RabbitMQUser     string
	RabbitMQPassword string
	RabbitMQHost     string
	RabbitMQPort     string
	RabbitMQVHost    string

	LoginQueue      string
	DeadLetterQueue string
	DLXExchange     string
	// MessageTTL dead-letters login messages not consumed within the window.
	MessageTTL time.Duration

	PrefetchCount    int
	MaxChannels      int
	ConsumerCount    int
	ReconnectDelay   time.Duration
	RPCReplyTimeout  time.Duration
	ConsumerBatchMax int
	ConsumerBatchWin time.Duration

	BatchMaxSize  int
	BatchDebounce time.Duration

	JWTSecret        string
	RefreshSecret    string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	DeviceTokenTTL   time.Duration
	VerificationTTL  time.Duration
	TwoFactorTTL     time.Duration
	LoginWindow      time.Duration
	MaxLoginAttempts int

	EventChannel string

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	SNSRegion string

	AllowedOrigins []string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort: getEnv("APP_PORT", "3000"),
		AppEnv:  getEnv("APP_ENV", "development"),

		WSPort: getEnv("WS_PORT", "8080"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		RabbitMQUser:     getEnv("RABBITMQ_USERNAME", "guest"),
		RabbitMQPassword: getEnv("RABBITMQ_PASSWORD", "guest"),
		RabbitMQHost:     getEnv("RABBITMQ_HOSTNAME", "localhost"),
		RabbitMQPort:     getEnv("RABBITMQ_PORT", "5672"),
		RabbitMQVHost:    getEnv("RABBITMQ_VHOST", "/"),

		LoginQueue:      getEnv("LOGIN_QUEUE", "login_queue"),
		DeadLetterQueue: getEnv("DEAD_LETTER_QUEUE", "login_queue_dlx"),
		DLXExchange:     getEnv("DLX_EXCHANGE", "dlx_exchange"),
		MessageTTL:      getEnvDur("MESSAGE_TTL", 60*time.Second),

		PrefetchCount:    getEnvInt("PREFETCH_COUNT", 20),
		MaxChannels:      getEnvInt("MAX_CHANNELS", 20),
		ConsumerCount:    getEnvInt("CONSUMER_COUNT", 4),
		ReconnectDelay:   getEnvDur("RECONNECT_DELAY", 5*time.Second),
		RPCReplyTimeout:  getEnvDur("RPC_REPLY_TIMEOUT", 5*time.Second),
		ConsumerBatchMax: getEnvInt("CONSUMER_BATCH_MAX", 10),
		ConsumerBatchWin: getEnvDur("CONSUMER_BATCH_WINDOW", 500*time.Millisecond),

		BatchMaxSize:  getEnvInt("BATCH_MAX_SIZE", 100),
		BatchDebounce: getEnvDur("BATCH_DEBOUNCE", 200*time.Millisecond),

		JWTSecret:        getEnv("JWT_SECRET", "dev-secret"),
		RefreshSecret:    getEnv("REFRESH_SECRET_KEY", "dev-refresh-secret"),
		AccessTokenTTL:   getEnvDur("ACCESS_TOKEN_TTL", 30*time.Minute),
		RefreshTokenTTL:  getEnvDur("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		DeviceTokenTTL:   getEnvDur("DEVICE_TOKEN_TTL", 10*time.Minute),
		VerificationTTL:  getEnvDur("VERIFICATION_TTL", 10*time.Minute),
		TwoFactorTTL:     getEnvDur("TWO_FACTOR_TTL", 10*time.Minute),
		LoginWindow:      getEnvDur("LOGIN_ATTEMPT_WINDOW", 15*time.Minute),
		MaxLoginAttempts: getEnvInt("MAX_LOGIN_ATTEMPTS", 5),

		EventChannel: getEnv("EVENT_CHANNEL", "user-events"),

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnv("SMTP_PORT", "1025"),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		SNSRegion: getEnv("SNS_REGION", "us-east-1"),

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

// AMQPURL builds the broker connection string.
func (c *Config) AMQPURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s%s",
		c.RabbitMQUser, c.RabbitMQPassword, c.RabbitMQHost, c.RabbitMQPort, c.RabbitMQVHost)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
