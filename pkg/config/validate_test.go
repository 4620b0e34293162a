package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/members-filter/pkg/utils"
)

func containsWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestAppConfig_Validate_Defaults(t *testing.T) {
	cfg := AppConfig{} // Zero value
	warnings, err := cfg.Validate()

	require.NoError(t, err)

	assert.Equal(t, "default", cfg.Profile)
	assert.Equal(t, "./filter_state", cfg.StateDir)
	assert.Equal(t, DefaultChannelBaseURL, cfg.ChannelBaseURL)
	assert.Equal(t, DefaultTitleCacheCapacity, cfg.TitleCacheCapacity)
	assert.Equal(t, 1*time.Second, cfg.ScanInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.NavigationDelay)
	assert.Equal(t, 4, cfg.MaxConcurrentFetches)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 10*time.Minute, cfg.DBGCInterval)

	assert.Equal(t, 15*time.Second, cfg.HTTPClientSettings.Timeout)
	assert.Equal(t, 20, cfg.HTTPClientSettings.MaxIdleConns)
	assert.Equal(t, 2, cfg.HTTPClientSettings.MaxIdleConnsPerHost)
	assert.Equal(t, 90*time.Second, cfg.HTTPClientSettings.IdleConnTimeout)
	assert.Equal(t, 10*time.Second, cfg.HTTPClientSettings.DialerTimeout)
	assert.Equal(t, 30*time.Second, cfg.HTTPClientSettings.DialerKeepAlive)

	assert.True(t, containsWarning(warnings, "state_dir is empty"))
	assert.True(t, GetEffectiveEnabled(cfg))
}

func TestAppConfig_Validate_ValidConfig(t *testing.T) {
	cfg := AppConfig{
		StateDir:           "/state",
		ChannelBaseURL:     "https://example.test/",
		TitleCacheCapacity: 50,
		ScanInterval:       2 * time.Second,
		NavigationDelay:    250 * time.Millisecond,
		MaxRetries:         2,
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "https://example.test", cfg.ChannelBaseURL, "trailing slash trimmed")
	assert.Equal(t, 50, cfg.TitleCacheCapacity)
	assert.Equal(t, 1*time.Second, cfg.InitialRetryDelay)
	assert.Equal(t, 10*time.Second, cfg.MaxRetryDelay)
}

func TestAppConfig_Validate_Warnings(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AppConfig
		warning string
	}{
		{"negative capacity", AppConfig{StateDir: "s", TitleCacheCapacity: -1}, "title_cache_capacity cannot be negative"},
		{"negative retries", AppConfig{StateDir: "s", MaxRetries: -2}, "max_retries cannot be negative"},
		{"negative fetch delay", AppConfig{StateDir: "s", ChannelFetchDelay: -time.Second}, "channel_fetch_delay cannot be negative"},
		{"delay after interval", AppConfig{StateDir: "s", ScanInterval: time.Second, NavigationDelay: 2 * time.Second}, "navigation_delay"},
		{"empty whitelist entry", AppConfig{StateDir: "s", Whitelist: []string{"@a", " "}}, "whitelist contains an empty entry"},
		{"retry delays inverted", AppConfig{StateDir: "s", MaxRetries: 1, InitialRetryDelay: 5 * time.Second, MaxRetryDelay: time.Second}, "initial_retry_delay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			warnings, err := cfg.Validate()
			require.NoError(t, err)
			assert.True(t, containsWarning(warnings, tt.warning), "warnings: %v", warnings)
		})
	}
}

func TestAppConfig_Validate_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  AppConfig
	}{
		{"relative base URL", AppConfig{ChannelBaseURL: "www.youtube.com"}},
		{"bad container selector", AppConfig{Selectors: SelectorConfig{Containers: []string{"ytd-rich-item-renderer["}}}},
		{"bad badge selector", AppConfig{Selectors: SelectorConfig{Badges: []string{".ok", ":::"}}}},
		{"empty icon signature", AppConfig{Selectors: SelectorConfig{IconSignatures: []string{"  "}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			_, err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, utils.ErrConfigValidation))
		})
	}
}

func TestAppConfig_YAML(t *testing.T) {
	raw := `
profile: work
state_dir: /tmp/state
scan_interval: 2s
navigation_delay: 300ms
enabled: false
whitelist:
  - "@SomeCreator"
  - Some Creator
selectors:
  badges:
    - .my-badge
`
	var cfg AppConfig
	require.NoError(t, yaml.Unmarshal([]byte(raw), &cfg))
	_, err := cfg.Validate()
	require.NoError(t, err)

	assert.Equal(t, "work", cfg.Profile)
	assert.Equal(t, 2*time.Second, cfg.ScanInterval)
	assert.Equal(t, 300*time.Millisecond, cfg.NavigationDelay)
	assert.False(t, GetEffectiveEnabled(cfg))
	assert.Equal(t, []string{"@SomeCreator", "Some Creator"}, cfg.Whitelist)
	assert.Equal(t, []string{".my-badge"}, cfg.Selectors.Badges)
}
