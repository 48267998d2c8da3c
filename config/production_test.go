package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *ProductionConfig {
	return &ProductionConfig{
		Database: DatabaseConfig{Host: "localhost", Port: 5432, Name: "console", User: "console", Password: "secret"},
		Server:   ServerConfig{Port: 8080, ReadTimeout: time.Second, WriteTimeout: time.Second},
		JWT:      JWTConfig{SecretKey: "0123456789abcdef0123456789abcdef"},
		Logging:  LoggingConfig{Level: "info", Output: "stdout"},
		Graph:    GraphConfig{Mock: true, PageSize: 50},
		Acquisition: AcquisitionConfig{
			PageBudget:        4,
			ChunkDelay:        time.Second,
			TurboChunkDelay:   100 * time.Millisecond,
			RateLimitCooldown: time.Minute,
			CallTimeout:       time.Second,
		},
		Dispatch: DispatchConfig{DefaultDelay: time.Second, MinDelay: 500 * time.Millisecond, CallTimeout: time.Second},
	}
}

func TestValidateProductionConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *ProductionConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*ProductionConfig) {}},
		{
			name:    "missing db password",
			mutate:  func(cfg *ProductionConfig) { cfg.Database.Password = "" },
			wantErr: "DB_PASSWORD is required",
		},
		{
			name:    "short jwt secret",
			mutate:  func(cfg *ProductionConfig) { cfg.JWT.SecretKey = "short" },
			wantErr: "JWT_SECRET_KEY must be at least 32 characters long",
		},
		{
			name: "rsa without public key",
			mutate: func(cfg *ProductionConfig) {
				cfg.JWT.UseRSAKeys = true
				cfg.JWT.SecretKey = ""
			},
			wantErr: "JWT_PUBLIC_KEY is required",
		},
		{
			name:    "real upstream needs token",
			mutate:  func(cfg *ProductionConfig) { cfg.Graph = GraphConfig{BaseURL: "https://graph.example"} },
			wantErr: "GRAPH_ACCESS_TOKEN is required",
		},
		{
			name:    "dispatch delay below minimum",
			mutate:  func(cfg *ProductionConfig) { cfg.Dispatch.DefaultDelay = 100 * time.Millisecond },
			wantErr: "DISPATCH_DEFAULT_DELAY must be at least DISPATCH_MIN_DELAY",
		},
		{
			name:    "zero page budget",
			mutate:  func(cfg *ProductionConfig) { cfg.Acquisition.PageBudget = 0 },
			wantErr: "ACQUISITION_PAGE_BUDGET must be positive",
		},
		{
			name:    "bad log level",
			mutate:  func(cfg *ProductionConfig) { cfg.Logging.Level = "trace" },
			wantErr: "LOG_LEVEL must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := ValidateProductionConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadEnvFileKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("CC_TEST_FROM_FILE=file\nCC_TEST_PRESET=file\n"), 0o600))

	t.Setenv("CC_TEST_PRESET", "env")
	t.Cleanup(func() { os.Unsetenv("CC_TEST_FROM_FILE") })

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "file", os.Getenv("CC_TEST_FROM_FILE"))
	assert.Equal(t, "env", os.Getenv("CC_TEST_PRESET"))
}

func TestLoadEnvFileMissingIsIgnored(t *testing.T) {
	assert.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "absent.env")))
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("CC_TEST_INT", "42")
	t.Setenv("CC_TEST_BAD_INT", "forty")
	t.Setenv("CC_TEST_DURATION", "250ms")
	t.Setenv("CC_TEST_SLICE", "a, b,,c")

	assert.Equal(t, 42, getEnvInt("CC_TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("CC_TEST_BAD_INT", 1))
	assert.Equal(t, 250*time.Millisecond, getEnvDuration("CC_TEST_DURATION", time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, getEnvStringSlice("CC_TEST_SLICE", nil))
	assert.Equal(t, "fallback", getEnvString("CC_TEST_UNSET_VALUE", "fallback"))
}
