package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port               string
	DatabaseURL        string
	JWTSecret          string
	JWTAccessExpiry    time.Duration
	JWTRefreshExpiry   time.Duration
	TokenCipherKey     string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	GoogleProjectID    string
	GooglePubSubTopic  string
	GoogleCredentials  string

	// Job runner tunables
	JobPollBatchSize int
	JobMaxAttempts   int
	JobTimeout       time.Duration
	JobInterJobDelay time.Duration
	JobStaleAfter    time.Duration
	JobPollInterval  time.Duration

	// Sync run tunables
	SyncMaxItems        int
	SyncRunDeadline     time.Duration
	SyncPageSize        int64
	SyncFetchBatchSize  int
	SyncInterBatchDelay time.Duration

	// Provider retry policy
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RequestTimeout   time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        getEnv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=omnicrm port=5432 sslmode=disable"),
		JWTSecret:          getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		JWTAccessExpiry:    getDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
		JWTRefreshExpiry:   getDuration("JWT_REFRESH_EXPIRY", 168*time.Hour),
		TokenCipherKey:     getEnv("TOKEN_CIPHER_KEY", "dev-token-cipher-key-change-in-production"),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:  getEnv("GOOGLE_REDIRECT_URI", "http://localhost:8080/api/oauth/callback"),
		GoogleProjectID:    getEnv("GOOGLE_PROJECT_ID", ""),
		GooglePubSubTopic:  getEnv("GOOGLE_PUBSUB_TOPIC", "gmail-updates"),
		GoogleCredentials:  getEnv("GOOGLE_CREDENTIALS_FILE", ""),

		JobPollBatchSize: getInt("JOB_POLL_BATCH_SIZE", 10),
		JobMaxAttempts:   getInt("JOB_MAX_ATTEMPTS", 5),
		JobTimeout:       getDuration("JOB_TIMEOUT", 3*time.Minute),
		JobInterJobDelay: getDuration("JOB_INTER_JOB_DELAY", 200*time.Millisecond),
		JobStaleAfter:    getDuration("JOB_STALE_AFTER", 15*time.Minute),
		JobPollInterval:  getDuration("JOB_POLL_INTERVAL", 15*time.Second),

		SyncMaxItems:        getInt("SYNC_MAX_ITEMS", 500),
		SyncRunDeadline:     getDuration("SYNC_RUN_DEADLINE", 2*time.Minute),
		SyncPageSize:        int64(getInt("SYNC_PAGE_SIZE", 50)),
		SyncFetchBatchSize:  getInt("SYNC_FETCH_BATCH_SIZE", 25),
		SyncInterBatchDelay: getDuration("SYNC_INTER_BATCH_DELAY", 200*time.Millisecond),

		RetryMaxAttempts: getInt("RETRY_MAX_ATTEMPTS", 4),
		RetryBaseDelay:   getDuration("RETRY_BASE_DELAY", 250*time.Millisecond),
		RetryMaxDelay:    getDuration("RETRY_MAX_DELAY", 8*time.Second),
		RequestTimeout:   getDuration("REQUEST_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
