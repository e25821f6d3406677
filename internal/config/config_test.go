package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "ENV", "")
	setEnv(t, "PORT", "")
	setEnv(t, "PROCESS_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultFFmpegPath, cfg.FFmpegPath)
	assert.Equal(t, DefaultProcessTimeout, cfg.ProcessTimeout)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "PROCESS_TIMEOUT", "45s")
	setEnv(t, "RATE_LIMIT_RPM", "120")
	setEnv(t, "FFMPEG_PATH", "/usr/local/bin/ffmpeg")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 45*time.Second, cfg.ProcessTimeout)
	assert.Equal(t, 120, cfg.RateLimitRPM)
	assert.Equal(t, "/usr/local/bin/ffmpeg", cfg.FFmpegPath)
}

func TestLoad_BadDurationFallsBack(t *testing.T) {
	setEnv(t, "PROCESS_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultProcessTimeout, cfg.ProcessTimeout)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "valid development config",
			config:  Config{Env: "development", ProcessTimeout: time.Minute},
			wantErr: "",
		},
		{
			name:    "production requires smtp",
			config:  Config{Env: "production", ProcessTimeout: time.Minute},
			wantErr: "SMTP_ADDR is required",
		},
		{
			name:    "zero timeout rejected",
			config:  Config{Env: "development"},
			wantErr: "PROCESS_TIMEOUT must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
