package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string

	DBDSN        string
	JWTSecret    string
	TokenTTL     time.Duration
	CookieName   string
	CookieSecure bool

	// CookieSameSite must be None for a SPA served from another site
	// (CORS_ORIGINS); None cookies are always marked Secure.
	CookieSameSite http.SameSite
	CORSOrigins    []string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ListCacheTTL  time.Duration

	ChatContextWindowSize int

	// AI provider
	AIProvider        string
	OllamaBaseURL     string
	OllamaModel       string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string
	OpenAIBaseURL     string
	OpenAIAPIKey      string
	OpenAIModel       string

	// rabbitMQ, title jobs are disabled when RabbitURL is empty
	RabbitURL         string
	RabbitQueue       string
	WorkerConcurrency int
	JobMaxAttempts    int
	JobRetryDelay     time.Duration

	LogLevel  string
	LogFormat string
}

// ClientConfig configures the terminal chat client.
type ClientConfig struct {
	APIURL              string
	Email               string
	Password            string
	RequestTimeout      time.Duration
	CreateOnListFailure bool

	LogLevel  string
	LogFormat string
}

// loadDotEnv reads .env when present; a missing file is not an error.
func loadDotEnv() {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}
}

func Load() Config {
	loadDotEnv()

	// DSN demo：
	// app:apppass@tcp(127.0.0.1:3306)/fitmate?charset=utf8mb4&parseTime=true&loc=Local
	// sqlite:fitmate.db
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=Local",
			"app", "apppass", "127.0.0.1", "3306", "fitmate",
		)
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-secret-change-me"
	}

	aiProvider := os.Getenv("AI_PROVIDER")
	if aiProvider == "" {
		aiProvider = "ollama"
	}

	return Config{
		HTTPAddr: envOr("HTTP_ADDR", ":8080"),

		DBDSN:          dsn,
		JWTSecret:      secret,
		TokenTTL:       envDuration("TOKEN_TTL", 24*time.Hour),
		CookieName:     envOr("COOKIE_NAME", "fitmate_token"),
		CookieSecure:   envBool("COOKIE_SECURE", false),
		CookieSameSite: envSameSite("COOKIE_SAMESITE", http.SameSiteLaxMode),
		CORSOrigins:    envList("CORS_ORIGINS"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),
		ListCacheTTL:  envDuration("LIST_CACHE_TTL", 5*time.Minute),

		ChatContextWindowSize: envInt("CHAT_CONTEXT_WINDOW_SIZE", 20),

		AIProvider:        aiProvider,
		OllamaBaseURL:     envOr("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:       envOr("OLLAMA_MODEL", "llama3:latest"),
		OpenRouterBaseURL: envOr("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:   envOr("OPENROUTER_MODEL", "openrouter/auto"),
		OpenRouterSiteURL: os.Getenv("OPENROUTER_SITE_URL"),
		OpenRouterAppName: os.Getenv("OPENROUTER_APP_NAME"),
		OpenAIBaseURL:     envOr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       envOr("OPENAI_MODEL", "gpt-4o-mini"),

		RabbitURL:         os.Getenv("RABBIT_URL"),
		RabbitQueue:       envOr("RABBIT_QUEUE", "chat_title_jobs"),
		WorkerConcurrency: clamp(envInt("WORKER_CONCURRENCY", 2), 1, 50),
		JobMaxAttempts:    clamp(envInt("JOB_MAX_ATTEMPTS", 3), 1, 10),
		JobRetryDelay:     envDuration("JOB_RETRY_DELAY", 10*time.Second),

		LogLevel:  envOr("LOG_LEVEL", "info"),
		LogFormat: envOr("LOG_FORMAT", "json"),
	}
}

// SessionSameSite is the SameSite mode of the session cookie, Lax when unset.
func (c Config) SessionSameSite() http.SameSite {
	if c.CookieSameSite == 0 {
		return http.SameSiteLaxMode
	}
	return c.CookieSameSite
}

// SessionCookieSecure reports whether the session cookie carries Secure.
// Browsers reject SameSite=None cookies without it.
func (c Config) SessionCookieSecure() bool {
	return c.CookieSecure || c.SessionSameSite() == http.SameSiteNoneMode
}

func LoadClient() ClientConfig {
	loadDotEnv()

	return ClientConfig{
		APIURL:              envOr("FITMATE_API_URL", "http://localhost:8080"),
		Email:               os.Getenv("FITMATE_EMAIL"),
		Password:            os.Getenv("FITMATE_PASSWORD"),
		RequestTimeout:      envDuration("FITMATE_REQUEST_TIMEOUT", 60*time.Second),
		CreateOnListFailure: envBool("FITMATE_CREATE_ON_LIST_FAILURE", false),
		LogLevel:            envOr("LOG_LEVEL", "warn"),
		LogFormat:           envOr("LOG_FORMAT", "console"),
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// envSameSite accepts lax, strict or none; anything else yields def.
func envSameSite(key string, def http.SameSite) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "lax":
		return http.SameSiteLaxMode
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	}
	return def
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
