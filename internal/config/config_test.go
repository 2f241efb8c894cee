package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_AppliesDefaults(t *testing.T) {
	c := Config{Dev: DevConfig{Port: 8080}}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.App.Env != "local" || c.API.Namespace != "api/v1" || c.API.Timeout != 10*time.Second {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if c.API.LeadSelectionMethod != "list" || c.Auth.TokenTTL != 24*time.Hour || c.Dev.UserID != "1" {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if c.RedisEnabled() || c.JournalEnabled() {
		t.Fatalf("expected redis and journal disabled by default")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	c := Config{
		App: AppConfig{Env: "qa", StatusPort: 70000},
		API: APIConfig{Host: "ftp://x", LeadSelectionMethod: "random"},
		DB:  DBConfig{Host: "db"},
		Dev: DevConfig{Port: 0},
	}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"APP_ENV", "STATUS_PORT", "API_HOST", "LEAD_SELECTION_METHOD", "DB_USER", "DB_NAME", "DEV_PORT"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err)
		}
	}
}

func TestValidate_ProductionRequiresSSLModeAndHTTPS(t *testing.T) {
	c := Config{
		App: AppConfig{Env: "production"},
		API: APIConfig{Host: "http://api.example.com"},
		DB:  DBConfig{Host: "localhost", User: "postgres", Name: "dialer"},
		Dev: DevConfig{Port: 8080},
	}
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") || !strings.Contains(err.Error(), "https") {
		t.Fatalf("expected production errors, got %v", err)
	}
}

func TestValidate_LocalDefaultsSSLModeAndPorts(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "local"},
		Redis: RedisConfig{Host: "localhost"},
		DB:    DBConfig{Host: "localhost", User: "postgres", Name: "dialer"},
		Dev:   DevConfig{Port: 8080},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" || c.DB.Port != 5432 || c.Redis.Port != 6379 {
		t.Fatalf("unexpected defaults %+v %+v", c.DB, c.Redis)
	}
	if c.RedisAddr() != "localhost:6379" {
		t.Fatalf("unexpected redis addr %q", c.RedisAddr())
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("API_HOST", "https://api.example.com")
	t.Setenv("API_TOKEN", "tok")
	t.Setenv("API_NAMESPACE", "/api/v2/")
	t.Setenv("API_TIMEOUT", "3s")
	t.Setenv("LEAD_SELECTION_METHOD", "queue")
	t.Setenv("STATUS_PORT", "0")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("JWT_SECRET", "s3cret")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.API.Namespace != "api/v2" || c.API.Timeout != 3*time.Second || c.API.LeadSelectionMethod != "queue" {
		t.Fatalf("unexpected api config %+v", c.API)
	}
	if c.App.StatusPort != 0 || c.RedisAddr() != "redis:6380" || !c.DebugLogging() {
		t.Fatalf("unexpected config %+v", c)
	}
	if err := c.RequireClient(); err != nil {
		t.Fatalf("expected client config complete, got %v", err)
	}
	if err := c.RequireDevServer(); err != nil {
		t.Fatalf("expected dev server config complete, got %v", err)
	}
}

func TestLoad_ReportsBadIntegers(t *testing.T) {
	t.Setenv("STATUS_PORT", "abc")
	t.Setenv("DEV_PORT", "x")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "STATUS_PORT") || !strings.Contains(err.Error(), "DEV_PORT") {
		t.Fatalf("expected parse errors, got %v", err)
	}
}

func TestRequireClient_ReportsMissing(t *testing.T) {
	err := Config{}.RequireClient()
	if err == nil || !strings.Contains(err.Error(), "API_HOST") || !strings.Contains(err.Error(), "API_TOKEN") {
		t.Fatalf("expected missing client settings, got %v", err)
	}
}
