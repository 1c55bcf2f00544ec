package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mtlprog/chainstate/internal/domain"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DatabaseURL           string
	DBConnectRetryMax     int
	HTTPPort              string
	AdminAPIKey           string
	MaintenanceInterval   time.Duration
	RefreshInterval       time.Duration
	SnapshotRetention     int
	FeedPublishers        []domain.AccountID
	CoreAssetSymbol       string
	ExportXLSXPath        string
	GoogleSheetsID        string
	GoogleCredentialsJSON string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	return Config{
		DatabaseURL:           envOrDefaultWarn("DATABASE_URL", ""),
		DBConnectRetryMax:     envOrDefaultInt("DB_CONNECT_RETRY_MAX", 5),
		HTTPPort:              envOrDefault("HTTP_PORT", "8080"),
		AdminAPIKey:           envOrDefaultWarn("ADMIN_API_KEY", ""),
		MaintenanceInterval:   envOrDefaultDuration("MAINTENANCE_INTERVAL", 1*time.Hour),
		RefreshInterval:       envOrDefaultDuration("EXTERNAL_REFRESH_INTERVAL", 1*time.Minute),
		SnapshotRetention:     envOrDefaultInt("SNAPSHOT_RETENTION", 48),
		FeedPublishers:        envAccountList("FEED_PUBLISHERS"),
		CoreAssetSymbol:       envOrDefault("CORE_ASSET_SYMBOL", "CORE"),
		ExportXLSXPath:        envOrDefault("EXPORT_XLSX_PATH", ""),
		GoogleSheetsID:        envOrDefault("GOOGLE_SHEETS_ID", ""),
		GoogleCredentialsJSON: envOrDefault("GOOGLE_CREDENTIALS_JSON", ""),
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultWarn(key, defaultVal string) string {
	v := envOrDefault(key, defaultVal)
	if v == "" {
		slog.Warn("required env var not set", "key", key)
	}
	return v
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return n
	}
	return defaultVal
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return d
	}
	return defaultVal
}

// envAccountList parses a comma separated list of account ids such as
// "1.2.5,1.2.9". Invalid entries are skipped.
func envAccountList(key string) []domain.AccountID {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var ids []domain.AccountID
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var id domain.AccountID
		if err := id.UnmarshalText([]byte(part)); err != nil {
			slog.Warn("invalid account id in env var, skipping", "key", key, "value", part, "error", err)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
