package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the callwatch process.
// All values come from env; CLI flags may override a few of them.
// No business logic should depend on raw environment variables.
type Config struct {
	App   AppConfig
	API   APIConfig
	Redis RedisConfig
	DB    DBConfig
	Auth  AuthConfig
	Dev   DevConfig
}

type AppConfig struct {
	Env   string
	Debug bool
	// StatusPort serves /healthz, /status and /metrics. 0 disables it.
	StatusPort int
}

type APIConfig struct {
	Host      string
	Namespace string
	Token     string
	Timeout   time.Duration

	// LeadSelectionMethod is applied to the session after fetch: list or queue.
	LeadSelectionMethod string
}

// RedisConfig selects the realtime bus. An empty host means the in-process
// bus, which is only useful together with the dev server.
type RedisConfig struct {
	Host string
	Port int
}

// DBConfig is optional; when Host is set, call events are journaled to
// Postgres.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	TokenTTL    time.Duration
}

type DevConfig struct {
	Port   int
	UserID string
}

const (
	defaultNamespace  = "api/v1"
	defaultAPITimeout = 10 * time.Second
	defaultStatusPort = 9090
	defaultDevPort    = 8080
	defaultRedisPort  = 6379
	defaultDBPort     = 5432
	defaultTokenTTL   = 24 * time.Hour
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Debug = envBool("DEBUG")
	{
		n, err := optionalInt("STATUS_PORT", defaultStatusPort)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.StatusPort = n
	}

	c.API.Host = strings.TrimSpace(os.Getenv("API_HOST"))
	c.API.Namespace = strings.TrimSpace(os.Getenv("API_NAMESPACE"))
	c.API.Token = os.Getenv("API_TOKEN")
	c.API.Timeout = mustDuration("API_TIMEOUT")
	c.API.LeadSelectionMethod = strings.TrimSpace(os.Getenv("LEAD_SELECTION_METHOD"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optionalInt("REDIS_PORT", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := optionalInt("DB_PORT", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Optional; default applied in Validate().
	c.Auth.TokenTTL = mustDuration("JWT_TTL")

	{
		n, err := optionalInt("DEV_PORT", defaultDevPort)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Dev.Port = n
	}
	c.Dev.UserID = strings.TrimSpace(os.Getenv("DEV_USER_ID"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate applies defaults and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		c.App.Env = "local"
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.StatusPort < 0 || c.App.StatusPort > 65535 {
		errs = append(errs, fmt.Errorf("STATUS_PORT must be a valid port or 0, got %d", c.App.StatusPort))
	}

	if c.API.Namespace == "" {
		c.API.Namespace = defaultNamespace
	}
	c.API.Namespace = strings.Trim(c.API.Namespace, "/")
	if c.API.Timeout <= 0 {
		c.API.Timeout = defaultAPITimeout
	}
	if c.API.Host != "" && !strings.HasPrefix(c.API.Host, "http://") && !strings.HasPrefix(c.API.Host, "https://") {
		errs = append(errs, fmt.Errorf("API_HOST must start with http:// or https://, got %q", c.API.Host))
	}
	if c.IsProduction() && strings.HasPrefix(c.API.Host, "http://") {
		errs = append(errs, errors.New("API_HOST must use https in production"))
	}
	if c.API.LeadSelectionMethod == "" {
		c.API.LeadSelectionMethod = "list"
	} else if !isValidLeadSelection(c.API.LeadSelectionMethod) {
		errs = append(errs, fmt.Errorf("LEAD_SELECTION_METHOD must be one of list, queue, got %q", c.API.LeadSelectionMethod))
	}

	if c.Redis.Host != "" {
		if c.Redis.Port == 0 {
			c.Redis.Port = defaultRedisPort
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	}

	if c.DB.Host != "" {
		if c.DB.Port == 0 {
			c.DB.Port = defaultDBPort
		}
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required when DB_HOST is set"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required when DB_HOST is set"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				// Local-friendly default; production must be explicit.
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = defaultTokenTTL
	}

	if c.Dev.Port <= 0 || c.Dev.Port > 65535 {
		errs = append(errs, fmt.Errorf("DEV_PORT must be a valid port, got %d", c.Dev.Port))
	}
	if c.Dev.UserID == "" {
		c.Dev.UserID = "1"
	}

	return joinErrors(errs)
}

// RequireClient reports what a realtime client run is missing.
func (c Config) RequireClient() error {
	var errs []error
	if c.API.Host == "" {
		errs = append(errs, errors.New("API_HOST is required"))
	}
	if c.API.Token == "" {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}
	return joinErrors(errs)
}

// RequireDevServer reports what the simulated backend is missing.
func (c Config) RequireDevServer() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		errs = append(errs, errors.New("the dev server must not run with APP_ENV=production"))
	}
	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// DebugLogging is true for local/dev or when DEBUG is set.
func (c Config) DebugLogging() bool {
	return c.App.Debug || c.App.Env == "local" || c.App.Env == "dev"
}

func (c Config) StatusAddr() string {
	return fmt.Sprintf(":%d", c.App.StatusPort)
}

func (c Config) DevAddr() string {
	return fmt.Sprintf(":%d", c.Dev.Port)
}

func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c Config) JournalEnabled() bool {
	return c.DB.Host != ""
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func optionalInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return b
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func isValidLeadSelection(v string) bool {
	return v == "list" || v == "queue"
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
