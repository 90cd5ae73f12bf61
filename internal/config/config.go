package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	AuthMode       string        `mapstructure:"AUTH_MODE"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	MigrationsDir  string        `mapstructure:"MIGRATIONS_DIR"`

	ReminderInterval      time.Duration `mapstructure:"REMINDER_INTERVAL"`
	ReminderLeadWindow    time.Duration `mapstructure:"REMINDER_LEAD_WINDOW"`
	ReminderOverdueWindow time.Duration `mapstructure:"REMINDER_OVERDUE_WINDOW"`
	ReminderMaxCount      int           `mapstructure:"REMINDER_MAX_COUNT"`

	DayPartMorning   string `mapstructure:"DAYPART_MORNING"`
	DayPartNoon      string `mapstructure:"DAYPART_NOON"`
	DayPartAfternoon string `mapstructure:"DAYPART_AFTERNOON"`
	DayPartEvening   string `mapstructure:"DAYPART_EVENING"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("REMINDER_INTERVAL", "1m")
	v.SetDefault("REMINDER_LEAD_WINDOW", "15m")
	v.SetDefault("REMINDER_OVERDUE_WINDOW", "30m")
	v.SetDefault("REMINDER_MAX_COUNT", 3)
	v.SetDefault("DAYPART_MORNING", "08:30")
	v.SetDefault("DAYPART_NOON", "12:00")
	v.SetDefault("DAYPART_AFTERNOON", "14:30")
	v.SetDefault("DAYPART_EVENING", "17:00")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("AUTH_MODE")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AUTH_SIGNING_KEY")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("REQUEST_TIMEOUT")
	v.BindEnv("MIGRATIONS_DIR")
	v.BindEnv("REMINDER_INTERVAL")
	v.BindEnv("REMINDER_LEAD_WINDOW")
	v.BindEnv("REMINDER_OVERDUE_WINDOW")
	v.BindEnv("REMINDER_MAX_COUNT")
	v.BindEnv("DAYPART_MORNING")
	v.BindEnv("DAYPART_NOON")
	v.BindEnv("DAYPART_AFTERNOON")
	v.BindEnv("DAYPART_EVENING")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active; all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure AUTH_ISSUER for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development → "development" (no auth, all requests get admin)
//   - otherwise       → "external" (Keycloak, Auth0, etc.)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "external"
}

// DayPartTimes returns the configured default administration time strings
// keyed by day part name.
func (c *Config) DayPartTimes() map[string]string {
	return map[string]string{
		"morning":   c.DayPartMorning,
		"noon":      c.DayPartNoon,
		"afternoon": c.DayPartAfternoon,
		"evening":   c.DayPartEvening,
	}
}

// Validate checks that the configuration is safe to run. In non-development
// modes a JWT trust anchor (issuer/JWKS or an explicit signing key) must be
// configured so real authentication is enforced.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode != "development" && mode != "external" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"external\", got %q", mode)
	}
	if mode == "external" && c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when AUTH_MODE is \"external\" (current ENV=%q); "+
				"refusing to start without authentication configuration", c.Env)
	}

	if c.ReminderInterval <= 0 {
		return fmt.Errorf("REMINDER_INTERVAL must be positive, got %s", c.ReminderInterval)
	}
	if c.ReminderLeadWindow < 0 || c.ReminderOverdueWindow < 0 {
		return fmt.Errorf("reminder windows must not be negative")
	}
	if c.ReminderMaxCount < 1 {
		return fmt.Errorf("REMINDER_MAX_COUNT must be at least 1, got %d", c.ReminderMaxCount)
	}

	for part, val := range c.DayPartTimes() {
		if _, err := time.Parse("15:04", val); err != nil {
			return fmt.Errorf("DAYPART_%s is not a valid HH:MM time: %q", strings.ToUpper(part), val)
		}
	}

	return nil
}
