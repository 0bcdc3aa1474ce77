package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Data sources the dashboard can read from.
const (
	SourceSocrata = "socrata"
	SourceSQLite  = "sqlite"
	SourceSheets  = "sheets"
	SourceMemory  = "memory"
)

var validSources = []string{SourceSocrata, SourceSQLite, SourceSheets, SourceMemory}

type Config struct {
	// HTTP Server
	Port     string
	LogLevel string
	// TrustedProxies lists CIDRs whose X-Forwarded-For is believed.
	TrustedProxies []string

	// Upstream dataset
	DataSource      string
	SocrataURL      string
	SocrataAppToken string
	FetchLimit      int
	FetchTimeout    time.Duration
	DatasetTTL      time.Duration
	ViewsFile       string
	MemoryDataFile  string

	// SQLite mirror
	SQLiteDBPath   string
	MirrorInterval time.Duration
	MirrorKeep     int

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleOAuthClientFile    string
	GoogleOAuthTokenFile     string
}

func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		TrustedProxies: getEnvList("TRUSTED_PROXIES"),

		DataSource:      getEnv("DATA_SOURCE", SourceSocrata),
		SocrataURL:      getEnv("SOCRATA_URL", "https://www.datos.gov.co/resource/w9zh-vetq.json"),
		SocrataAppToken: getEnv("SOCRATA_APP_TOKEN", ""),
		FetchLimit:      getEnvInt("FETCH_LIMIT", 1000),
		FetchTimeout:    getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		DatasetTTL:      getEnvDuration("DATASET_TTL", 30*time.Minute),
		ViewsFile:       getEnv("DASHBOARD_VIEWS_FILE", ""),
		MemoryDataFile:  getEnv("MEMORY_DATA_FILE", "data/creditos_sample.json"),

		SQLiteDBPath:   getEnv("SQLITE_DB_PATH", "./data/creditos.db"),
		MirrorInterval: getEnvDuration("MIRROR_INTERVAL", 6*time.Hour),
		MirrorKeep:     getEnvInt("MIRROR_KEEP", 3),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "creditos"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "dataset_refreshed"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Creditos"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleOAuthClientFile:    getEnv("GOOGLE_OAUTH_CLIENT_FILE", ""),
		GoogleOAuthTokenFile:     getEnv("GOOGLE_OAUTH_TOKEN_FILE", ""),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid trusted proxy '%s': must be a CIDR", cidr))
		}
	}

	if !slices.Contains(validSources, c.DataSource) {
		errors = append(errors, fmt.Sprintf("invalid data source '%s': must be one of %v", c.DataSource, validSources))
	}

	if c.DataSource == SourceSocrata || c.SocrataURL != "" {
		if u, err := url.Parse(c.SocrataURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid Socrata URL '%s': must be an absolute http(s) URL", c.SocrataURL))
		}
	}

	if c.FetchLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid fetch limit %d: must be at least 1", c.FetchLimit))
	} else if c.FetchLimit > 50000 {
		errors = append(errors, fmt.Sprintf("invalid fetch limit %d: must be at most 50000", c.FetchLimit))
	}

	if c.FetchTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid fetch timeout %v: must be at least 1 second", c.FetchTimeout))
	}

	if c.DatasetTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid dataset TTL %v: must not be negative", c.DatasetTTL))
	}

	if c.ViewsFile != "" {
		if _, err := os.Stat(c.ViewsFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("dashboard views file does not exist: %s", c.ViewsFile))
		}
	}

	if c.DataSource == SourceMemory && c.MemoryDataFile == "" {
		errors = append(errors, "MEMORY_DATA_FILE cannot be empty when using memory source")
	}

	if c.DataSource == SourceSQLite {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite source")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.MirrorInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid mirror interval %v: must be at least 1 minute", c.MirrorInterval))
	}
	if c.MirrorKeep < 1 {
		errors = append(errors, fmt.Sprintf("invalid mirror keep %d: must be at least 1", c.MirrorKeep))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.DataSource == SourceSheets {
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets source")
		}
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when using sheets source")
		}
		hasFile := c.GoogleServiceAccountFile != ""
		hasOAuth := c.GoogleOAuthClientFile != "" && c.GoogleOAuthTokenFile != ""
		if !hasFile && !hasOAuth && c.GoogleServiceAccountJSON == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_FILE, GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_OAUTH_CLIENT_FILE with GOOGLE_OAUTH_TOKEN_FILE must be provided for sheets source")
		}
		for _, f := range []string{c.GoogleOAuthClientFile, c.GoogleOAuthTokenFile} {
			if f == "" {
				continue
			}
			if _, err := os.Stat(f); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google OAuth file does not exist: %s", f))
			}
		}
		if hasFile {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
