package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	App        AppConfig
	Engagement EngagementConfig
}

type AppConfig struct {
	Environment string
	LogFilePath string
	NatsURL     string
}

type EngagementConfig struct {
	// Variant controls transcript presentation. "full" shows the queue
	// placeholder while waiting for an operator; "authenticated" resumes an
	// existing transcript and skips it.
	Variant string

	// HistoryPageSize is the page size requested from the history endpoint.
	HistoryPageSize int

	// TrackUnread enables the unread counter and divider.
	TrackUnread bool

	// ForceQueue keeps outbound messages in the pending queue even while
	// engaged, until the next explicit enqueue completes.
	ForceQueue bool
}

const (
	VariantFull          = "full"
	VariantAuthenticated = "authenticated"
)

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Environment: getEnv("GO_ENV", "development"),
			LogFilePath: getEnv("LOG_FILE_PATH", "engagement.log"),
			NatsURL:     getEnv("NATS_URL", "nats://localhost:4222"),
		},
		Engagement: EngagementConfig{
			Variant:         getEnv("CHAT_VARIANT", VariantFull),
			HistoryPageSize: getEnvAsInt("HISTORY_PAGE_SIZE", 100),
			TrackUnread:     getEnvAsBool("TRACK_UNREAD", true),
			ForceQueue:      getEnvAsBool("FORCE_QUEUE", false),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}
