package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort          string
	DBDriver         string
	DBDSN            string
	HMACSecret       string
	SigMaxAgeSeconds int64
	JWTSecret        string
	PayoutRateRPS    float64
	PayoutRateBurst  int
	CORSOrigins      []string
	LogLevel         slog.Level
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getLevel(key string, def slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return def
	}
	return lvl
}

// Load reads the environment, after an optional .env file.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	return Config{
		AppPort:          getenv("APP_PORT", "8080"),
		DBDriver:         getenv("DB_DRIVER", "sqlite"),
		DBDSN:            getenv("DB_DSN", "./ledger.db"),
		HMACSecret:       getenv("HMAC_SECRET", "supersecret-dev"),
		SigMaxAgeSeconds: getInt64("SIG_MAX_AGE_SECONDS", 300),
		JWTSecret:        getenv("JWT_SECRET", "jwt-secret-dev"),
		PayoutRateRPS:    getFloat("PAYOUT_RATE_RPS", 1),
		PayoutRateBurst:  int(getInt64("PAYOUT_RATE_BURST", 3)),
		CORSOrigins:      getList("CORS_ORIGINS", []string{"http://localhost:5173"}),
		LogLevel:         getLevel("LOG_LEVEL", slog.LevelInfo),
	}
}
