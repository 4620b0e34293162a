package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEffectiveUserAgent(t *testing.T) {
	assert.Contains(t, GetEffectiveUserAgent(AppConfig{}), "Mozilla/5.0")
	assert.Equal(t, "custom/1.0", GetEffectiveUserAgent(AppConfig{UserAgent: "custom/1.0"}))
}

func TestGetEffectiveEnabled(t *testing.T) {
	off, on := false, true
	tests := []struct {
		name    string
		enabled *bool
		want    bool
	}{
		{"unset defaults to on", nil, true},
		{"explicit off", &off, false},
		{"explicit on", &on, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetEffectiveEnabled(AppConfig{Enabled: tt.enabled}))
		})
	}
}
