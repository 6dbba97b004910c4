package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var ErrMissingJWTSecret = errors.New("JWT_SECRET is required")

type Config struct {
	Env          string
	Port         int
	DBURL        string
	ServiceName  string
	OTLPEndpoint string

	// fraction of new traces to sample; children follow their parent
	TraceSampleRatio float64

	DBMaxConns int

	// tokens
	JWTSecret    string
	JWTTTL       time.Duration
	CookieName   string
	CookieSecure bool

	// passwords
	BcryptCost      int
	HashConcurrency int
	ResetTTL        time.Duration
	ResetURLBase    string

	// redis backs the shared rate limiter when set
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimit       int
	RateLimitWindow time.Duration

	MailSendEnabled bool
	MailgunDomain   string
	MailgunAPIKey   string
	MailgunSender   string

	AdminEmail    string
	AdminPassword string
	AdminName     string

	CORSAllowedOrigins []string
	MaxBodyBytes       int64

	// IPs or CIDRs allowed to set X-Forwarded-For; empty trusts no proxy
	TrustedProxies []string

	// reset sweeper (cmd/worker)
	SweepInterval time.Duration
	WorkerAddr    string
}

// Load reads the environment, after pulling in a .env file when one exists.
func Load() (Config, error) {
	// a missing .env is normal outside local dev
	_ = godotenv.Load()

	env := getEnv("APP_ENV", "dev")

	cfg := Config{
		Env:          env,
		Port:         getEnvInt("PORT", 8080),
		DBURL:        getEnv("DATABASE_URL", buildDBURL()),
		ServiceName:  getEnv("OTEL_SERVICE_NAME", "tourhub-api"),
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		TraceSampleRatio: getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		DBMaxConns:       getEnvInt("DB_MAX_CONNS", 10),

		JWTSecret:    os.Getenv("JWT_SECRET"),
		JWTTTL:       getEnvDuration("JWT_EXPIRES_IN", 90*24*time.Hour),
		CookieName:   getEnv("JWT_COOKIE_NAME", "jwt"),
		CookieSecure: getEnvBool("COOKIE_SECURE", env == "prod"),

		BcryptCost:      getEnvInt("BCRYPT_COST", 12),
		HashConcurrency: getEnvInt("HASH_CONCURRENCY", runtime.NumCPU()),
		ResetTTL:        getEnvDuration("RESET_TOKEN_TTL", 10*time.Minute),
		ResetURLBase:    getEnv("RESET_URL_BASE", "http://localhost:8080/api/v1/users/resetPassword"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		RateLimit:       getEnvInt("RATE_LIMIT", 100),
		RateLimitWindow: getEnvDuration("RATE_LIMIT_WINDOW", 15*time.Minute),

		MailSendEnabled: getEnvBool("MAIL_SEND_ENABLED", false),
		MailgunDomain:   getEnv("MAILGUN_DOMAIN", ""),
		MailgunAPIKey:   getEnv("MAILGUN_API_KEY", ""),
		MailgunSender:   getEnv("MAILGUN_SENDER", ""),

		AdminEmail:    getEnv("ADMIN_EMAIL", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		AdminName:     getEnv("ADMIN_NAME", "Admin"),

		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
		MaxBodyBytes:       int64(getEnvInt("MAX_BODY_BYTES", 10*1024)),
		TrustedProxies:     splitList(getEnv("TRUSTED_PROXIES", "")),

		SweepInterval: getEnvDuration("SWEEP_INTERVAL", time.Minute),
		WorkerAddr:    getEnv("WORKER_ADDR", ":8081"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate rejects configurations the server must not start with.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}

	if c.Env != "dev" && c.Env != "test" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes in %s", c.Env)
	}

	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_EXPIRES_IN must be positive")
	}

	if c.ResetTTL <= 0 {
		return fmt.Errorf("RESET_TOKEN_TTL must be positive")
	}

	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be between 0 and 1")
	}

	for _, p := range c.TrustedProxies {
		if net.ParseIP(p) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(p); err != nil {
			return fmt.Errorf("TRUSTED_PROXIES: %q is not an IP or CIDR", p)
		}
	}

	if c.MailSendEnabled && (c.MailgunDomain == "" || c.MailgunAPIKey == "" || c.MailgunSender == "") {
		return fmt.Errorf("mailgun is not configured but MAIL_SEND_ENABLED=true")
	}

	return nil
}

func buildDBURL() string {
	host := getEnv("DB_HOST", "")
	if host == "" {
		// no database: dev runs on the in-memory store
		return ""
	}
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "tourhub")
	pass := getEnv("DB_PASSWORD", "tourhub")
	name := getEnv("DB_NAME", "tourhub")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			log.Printf("invalid int for %s: %v, using default %d", key, err, fallback)
			return fallback
		}

		return num
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			log.Printf("invalid float for %s: %v, using default %v", key, err, fallback)
			return fallback
		}
		return f
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("invalid boolean for %s: %v, using default %v", key, err, fallback)
			return fallback
		}
		return b
	}
	return fallback
}

// getEnvDuration accepts Go durations plus a bare day count like "90d".
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err == nil && n > 0 {
			return time.Duration(n) * 24 * time.Hour
		}
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("invalid duration for %s: %v, using default %v", key, err, fallback)
		return fallback
	}
	return d
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
