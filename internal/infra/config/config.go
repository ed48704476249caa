package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL     string
	RedisURL        string
	StudentCacheTTL time.Duration
	LogLevel        string
	Environment     string

	TelegramToken       string
	AdminTelegramIDs    []int64
	StaffTelegramChatID int64

	SMTPURL   string
	EmailFrom string

	SMSAccountSID   string
	SMSAuthToken    string
	SMSFromNumber   string
	SMSAPIBaseURL   string
	SMSCountryCode  string
	SMSBulkInterval time.Duration

	ChannelTimeout    time.Duration
	FanOutConcurrency int
	DedupWindow       time.Duration

	CronSpecRiskInbox    string
	CronSpecReplayFailed string
	CronSpecSMSStatus    string
}

// Load reads configuration from environment variables and .env file (if present).
// Missing channel credentials are not an error: the channel starts disabled.
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.StudentCacheTTL, err = durationEnv("STUDENT_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.AdminTelegramIDs, err = int64ListEnv("ADMIN_TELEGRAM_IDS"); err != nil {
		return nil, err
	}
	if v := os.Getenv("STAFF_TELEGRAM_CHAT_ID"); v != "" {
		cfg.StaffTelegramChatID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid STAFF_TELEGRAM_CHAT_ID: %w", err)
		}
	}

	cfg.SMTPURL = os.Getenv("SMTP_URL")
	cfg.EmailFrom = os.Getenv("EMAIL_FROM")

	cfg.SMSAccountSID = os.Getenv("SMS_ACCOUNT_SID")
	cfg.SMSAuthToken = os.Getenv("SMS_AUTH_TOKEN")
	cfg.SMSFromNumber = os.Getenv("SMS_FROM_NUMBER")
	cfg.SMSAPIBaseURL = stringEnv("SMS_API_BASE_URL", "https://api.twilio.com")
	cfg.SMSCountryCode = stringEnv("SMS_COUNTRY_CODE", "250")
	if cfg.SMSBulkInterval, err = durationEnv("SMS_BULK_INTERVAL", time.Second); err != nil {
		return nil, err
	}

	if cfg.ChannelTimeout, err = durationEnv("CHANNEL_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	cfg.FanOutConcurrency = 4
	if v := os.Getenv("FANOUT_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid FANOUT_CONCURRENCY %q", v)
		}
		cfg.FanOutConcurrency = n
	}
	if cfg.DedupWindow, err = durationEnv("DEDUP_WINDOW", 24*time.Hour); err != nil {
		return nil, err
	}

	cfg.CronSpecRiskInbox = stringEnv("CRON_SPEC_RISK_INBOX", "*/5 * * * *")
	cfg.CronSpecReplayFailed = stringEnv("CRON_SPEC_REPLAY_FAILED", "0 * * * *")
	cfg.CronSpecSMSStatus = stringEnv("CRON_SPEC_SMS_STATUS", "*/15 * * * *")

	return cfg, nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func int64ListEnv(key string) ([]int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry %q: %w", key, part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
