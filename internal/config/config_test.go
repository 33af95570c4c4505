package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected http address: %s", cfg.HTTPAddress)
	}
	if cfg.DatabaseDriver != DriverSQLite || cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected database settings: %s %s", cfg.DatabaseDriver, cfg.DatabasePath)
	}
	if cfg.AuthTokenTTL != time.Hour {
		t.Fatalf("unexpected token ttl: %v", cfg.AuthTokenTTL)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.Content.MinAnswerLength != defaultMinAnswerLength {
		t.Fatalf("unexpected min answer length: %d", cfg.Content.MinAnswerLength)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("QNA_AUTH_SIGNING_SECRET", "from-env")
	t.Setenv("QNA_DATABASE_DRIVER", "Postgres")
	t.Setenv("QNA_DATABASE_DSN", "postgres://qna@localhost/qna")
	t.Setenv("QNA_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.AuthSigningSecret != "from-env" {
		t.Fatalf("unexpected secret: %s", cfg.AuthSigningSecret)
	}
	if cfg.DatabaseDriver != DriverPostgres {
		t.Fatalf("unexpected driver: %s", cfg.DatabaseDriver)
	}
	if strings.Join(cfg.AllowedOrigins, "|") != "https://a.example|https://b.example" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
}

func TestLoadValidation(t *testing.T) {
	testCases := []struct {
		name      string
		overrides map[string]interface{}
		wantError string
	}{
		{name: "missing secret", overrides: map[string]interface{}{}, wantError: "auth.signing_secret"},
		{name: "unknown driver", overrides: map[string]interface{}{"auth.signing_secret": "s", "database.driver": "mysql"}, wantError: "database.driver"},
		{name: "postgres without dsn", overrides: map[string]interface{}{"auth.signing_secret": "s", "database.driver": "postgres"}, wantError: "database.dsn"},
		{name: "zero ttl", overrides: map[string]interface{}{"auth.signing_secret": "s", "auth.token_ttl_minutes": 0}, wantError: "auth.token_ttl_minutes"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range testCase.overrides {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil || !strings.Contains(err.Error(), testCase.wantError) {
				t.Fatalf("expected error mentioning %q, got %v", testCase.wantError, err)
			}
		})
	}
}

func TestLoadDotEnvSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envPath, []byte("QNA_TEST_DOTENV_VALUE=loaded\n"), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("QNA_TEST_DOTENV_VALUE") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv("QNA_TEST_DOTENV_VALUE"); got != "loaded" {
		t.Fatalf("expected dotenv value, got %q", got)
	}
}
