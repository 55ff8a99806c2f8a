package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	HTTPAddr     string
	APIKeyPepper string

	// SecretsPassphrase protects user-supplied model API keys at rest.
	SecretsPassphrase string

	// Shared-capacity model access. Users with a personal key stored on
	// their record bypass these credentials and the daily cap.
	ModelBaseURL string
	ModelAPIKey  string
	ModelName    string

	DailyResponseLimit int
	HistoryWindow      int
	ModelCallTimeout   time.Duration
	SummaryMaxWords    int
}

func Load() (Config, error) {
	// Optional: load local .env for development. Missing file is fine.
	_ = godotenv.Load()

	dailyLimit := getenvIntDefault("CHATHUB_DAILY_RESPONSE_LIMIT", 20)
	if dailyLimit < 1 {
		dailyLimit = 1
	}

	historyWindow := getenvIntDefault("CHATHUB_HISTORY_WINDOW", 12)
	if historyWindow < 1 {
		historyWindow = 1
	}

	timeoutSeconds := getenvIntDefault("CHATHUB_MODEL_TIMEOUT_SECONDS", 120)
	if timeoutSeconds < 10 {
		timeoutSeconds = 10
	}

	summaryWords := getenvIntDefault("CHATHUB_SUMMARY_MAX_WORDS", 60)
	if summaryWords < 10 {
		summaryWords = 10
	}

	cfg := Config{
		DatabaseURL:       os.Getenv("CHATHUB_DATABASE_URL"),
		HTTPAddr:          getenvDefault("CHATHUB_HTTP_ADDR", ":8080"),
		APIKeyPepper:      os.Getenv("CHATHUB_API_KEY_PEPPER"),
		SecretsPassphrase: strings.TrimSpace(os.Getenv("CHATHUB_SECRETS_PASSPHRASE")),

		ModelBaseURL: getenvDefault("CHATHUB_MODEL_BASE_URL", "https://api.openai.com/v1"),
		ModelAPIKey:  strings.TrimSpace(os.Getenv("CHATHUB_MODEL_API_KEY")),
		ModelName:    getenvDefault("CHATHUB_MODEL_NAME", "gpt-4o-mini"),

		DailyResponseLimit: dailyLimit,
		HistoryWindow:      historyWindow,
		ModelCallTimeout:   time.Duration(timeoutSeconds) * time.Second,
		SummaryMaxWords:    summaryWords,
	}

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("CHATHUB_DATABASE_URL is required")
	}
	if cfg.APIKeyPepper == "" {
		return Config{}, errors.New("CHATHUB_API_KEY_PEPPER is required")
	}
	if cfg.SecretsPassphrase == "" {
		return Config{}, errors.New("CHATHUB_SECRETS_PASSPHRASE is required")
	}
	if cfg.ModelAPIKey == "" {
		return Config{}, errors.New("CHATHUB_MODEL_API_KEY is required")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvIntDefault(key string, fallback int) int {
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
