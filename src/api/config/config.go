package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/snowlist/snowlist/src/api/data"
)

type Config struct {
	Port      string
	MySQLDSN  string
	RedisURL  string
	JWTSecret string

	// Rate limiting
	RateLimitMax    int64
	RateLimitWindow time.Duration
	KarmaMultiplier float64
	IPWhitelist     []string
}

// Load reads configuration with the settings table taking precedence over
// environment variables, which take precedence over defaults.
func Load(db *gorm.DB) Config {
	return Config{
		Port:            setting(db, "port", "PORT", "8080"),
		MySQLDSN:        getenv("MYSQL_DSN", "snowlist:snowlist@tcp(127.0.0.1:3306)/snowlist"),
		RedisURL:        getenv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		JWTSecret:       setting(db, "jwt_secret", "JWT_SECRET", "dev-secret-change-me"),
		RateLimitMax:    settingInt(db, "rate_limit_max", "RATE_LIMIT_MAX", 60),
		RateLimitWindow: time.Duration(settingInt(db, "rate_limit_window_ms", "RATE_LIMIT_WINDOW_MS", 60000)) * time.Millisecond,
		KarmaMultiplier: settingFloat(db, "rate_limit_karma_multiplier", "RATE_LIMIT_KARMA_MULTIPLIER", 0.01),
		IPWhitelist:     splitList(setting(db, "ip_whitelist", "IP_WHITELIST", "")),
	}
}

func setting(db *gorm.DB, name, envKey, def string) string {
	if db != nil {
		if v := data.GetSetting(name); v != "" {
			return v
		}
	}
	return getenv(envKey, def)
}

func settingInt(db *gorm.DB, name, envKey string, def int64) int64 {
	if v := setting(db, name, envKey, ""); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func settingFloat(db *gorm.DB, name, envKey string, def float64) float64 {
	if v := setting(db, name, envKey, ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
