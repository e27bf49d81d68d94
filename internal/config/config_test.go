package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults with file", func(t *testing.T) {
		path := writeConfig(t, `
signing_key: c29tZV9zZWNyZXQ=
records:
  base_url: http://records.local
`)

		cfg, err := Load(New(), path)
		require.NoError(t, err)

		assert.Equal(t, "localhost:8000", cfg.ServerAddr)
		assert.Equal(t, StorePostgres, cfg.Store)
		assert.Equal(t, []byte("some_secret"), cfg.SigningKey)
		assert.Equal(t, "http://records.local", cfg.Records.BaseURL)
		assert.Equal(t, 30*time.Second, cfg.Records.CacheTTL)
		assert.Equal(t, 3*time.Second, cfg.Coordinator.DependencyTimeout)
		assert.Equal(t, 30*time.Second, cfg.Coordinator.GracePeriod)
		assert.Equal(t, 2000, cfg.Coordinator.MaxTextLength)
		assert.Equal(t, 3, cfg.Coordinator.MarkEndedAttempts)
		assert.True(t, cfg.Coordinator.MarkEndedOnExpiry)
		assert.Equal(t, int64(65536), cfg.Client.ReadLimit)
	})

	t.Run("file overrides", func(t *testing.T) {
		path := writeConfig(t, `
server_addr: ":9000"
signing_key: c29tZV9zZWNyZXQ=
store: records
allowed_origins:
  - http://localhost:3000
records:
  base_url: http://records.local
coordinator:
  grace_period: 5s
`)

		cfg, err := Load(New(), path)
		require.NoError(t, err)

		assert.Equal(t, ":9000", cfg.ServerAddr)
		assert.Equal(t, StoreRecords, cfg.Store)
		assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
		assert.Equal(t, 5*time.Second, cfg.Coordinator.GracePeriod)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("CONSULT_SIGNING_KEY", "c29tZV9zZWNyZXQ=")
		t.Setenv("CONSULT_RECORDS_BASE_URL", "http://env.local")

		cfg, err := Load(New(), "")
		require.NoError(t, err)
		assert.Equal(t, "http://env.local", cfg.Records.BaseURL)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			ServerAddr:       "localhost:8080",
			Base64SigningKey: "c29tZV9zZWNyZXQ=",
			Store:            StorePostgres,
			DatabaseDSN:      "host=localhost",
			Records:          RecordsConfig{BaseURL: "http://records.local"},
			Coordinator: CoordinatorConfig{
				DependencyTimeout: time.Second,
				GracePeriod:       time.Second,
				MaxTextLength:     100,
			},
		}
	}

	tcases := []struct {
		name   string
		modify func(c *Config)
		err    bool
	}{
		{name: "valid config", modify: func(c *Config) {}, err: false},
		{name: "empty address", modify: func(c *Config) { c.ServerAddr = "" }, err: true},
		{name: "empty signing key", modify: func(c *Config) { c.Base64SigningKey = "" }, err: true},
		{name: "invalid signing key", modify: func(c *Config) { c.Base64SigningKey = "invalid_base64" }, err: true},
		{name: "empty DSN", modify: func(c *Config) { c.DatabaseDSN = "" }, err: true},
		{name: "records store needs no DSN", modify: func(c *Config) { c.Store = StoreRecords; c.DatabaseDSN = "" }, err: false},
		{name: "unknown store", modify: func(c *Config) { c.Store = "mongo" }, err: true},
		{name: "empty records url", modify: func(c *Config) { c.Records.BaseURL = "" }, err: true},
		{name: "zero timeout", modify: func(c *Config) { c.Coordinator.DependencyTimeout = 0 }, err: true},
		{name: "zero text length", modify: func(c *Config) { c.Coordinator.MaxTextLength = 0 }, err: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.modify(&cfg)

			err := cfg.Validate()
			if tc.err {
				assert.Error(t, err, "expected error for config: %s", tc.name)
				return
			}
			assert.NoError(t, err, "expected no error for config: %s", tc.name)
			assert.NotEmpty(t, cfg.SigningKey, "expected signing key to be decoded")
			assert.Equal(t, 1, cfg.Coordinator.MarkEndedAttempts)
		})
	}
}

func Test_decodeSigningSecret(t *testing.T) {
	tcases := []struct {
		name         string
		base64Secret string
		expectedKey  []byte
		expectError  bool
	}{
		{
			name:         "valid base64 secret",
			base64Secret: "c29tZV9zZWNyZXQ=",
			expectedKey:  []byte("some_secret"),
			expectError:  false,
		},
		{
			name:         "invalid base64 secret",
			base64Secret: "invalid_base64",
			expectedKey:  nil,
			expectError:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := decodeSigningSecret(tc.base64Secret)
			if tc.expectError {
				assert.Error(t, err, "expected error for base64 secret: %s", tc.base64Secret)
			} else {
				assert.NoError(t, err, "expected no error for base64 secret: %s", tc.base64Secret)
				assert.Equal(t, tc.expectedKey, key, "expected decoded key to match for base64 secret: %s", tc.base64Secret)
			}
		})
	}
}
