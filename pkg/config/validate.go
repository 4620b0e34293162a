package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"

	"github.com/Sriram-PR/members-filter/pkg/utils"
)

const (
	DefaultTitleCacheCapacity = 1000
	DefaultChannelBaseURL     = "https://www.youtube.com"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// Profile
	if c.Profile == "" {
		c.Profile = "default"
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './filter_state'")
		c.StateDir = "./filter_state"
	}

	// ChannelBaseURL
	if c.ChannelBaseURL == "" {
		c.ChannelBaseURL = DefaultChannelBaseURL
	}
	u, parseErr := url.Parse(c.ChannelBaseURL)
	if parseErr != nil || u.Scheme == "" || u.Host == "" {
		return warnings, fmt.Errorf("%w: channel_base_url '%s' is not an absolute URL", utils.ErrConfigValidation, c.ChannelBaseURL)
	}
	c.ChannelBaseURL = strings.TrimSuffix(c.ChannelBaseURL, "/")

	// TitleCacheCapacity
	if c.TitleCacheCapacity < 0 {
		warnings = append(warnings, fmt.Sprintf("title_cache_capacity cannot be negative, defaulting to %d", DefaultTitleCacheCapacity))
		c.TitleCacheCapacity = DefaultTitleCacheCapacity
	}
	if c.TitleCacheCapacity == 0 {
		c.TitleCacheCapacity = DefaultTitleCacheCapacity
	}

	// Monitor timings
	if c.ScanInterval <= 0 {
		c.ScanInterval = 1 * time.Second
	}
	if c.NavigationDelay < 0 {
		warnings = append(warnings, "navigation_delay cannot be negative, defaulting to 500ms")
		c.NavigationDelay = 500 * time.Millisecond
	}
	if c.NavigationDelay == 0 {
		c.NavigationDelay = 500 * time.Millisecond
	}
	if c.NavigationDelay >= c.ScanInterval {
		warnings = append(warnings, fmt.Sprintf(
			"navigation_delay (%v) >= scan_interval (%v); the safety-net pass will usually run first",
			c.NavigationDelay, c.ScanInterval))
	}

	// Channel fetches
	if c.ChannelFetchDelay < 0 {
		warnings = append(warnings, "channel_fetch_delay cannot be negative, disabling delay")
		c.ChannelFetchDelay = 0
	}
	if c.MaxConcurrentFetches <= 0 {
		c.MaxConcurrentFetches = 4
	}

	// MaxRetries: channel name lookups are best-effort, no retries unless asked for
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 10 * time.Second
		}
	}
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	if c.DBGCInterval <= 0 {
		c.DBGCInterval = 10 * time.Minute
	}

	c.validateHTTPClientSettings()

	// Selector overrides must compile
	if err := c.Selectors.validate(); err != nil {
		return warnings, err
	}

	// Whitelist seed
	for _, entry := range c.Whitelist {
		if strings.TrimSpace(entry) == "" {
			warnings = append(warnings, "whitelist contains an empty entry, it will be ignored")
		}
	}

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 15 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 20
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 10 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// validate compiles every selector override so a typo fails at startup instead of matching nothing.
func (s *SelectorConfig) validate() error {
	groups := map[string][]string{
		"containers":    s.Containers,
		"badges":        s.Badges,
		"titles":        s.Titles,
		"channel_names": s.ChannelNames,
	}
	for name, list := range groups {
		for i, sel := range list {
			if _, err := cascadia.Compile(sel); err != nil {
				return fmt.Errorf("%w: selectors.%s #%d ('%s'): %v", utils.ErrConfigValidation, name, i+1, sel, err)
			}
		}
	}
	for i, sig := range s.IconSignatures {
		if strings.TrimSpace(sig) == "" {
			return fmt.Errorf("%w: selectors.icon_signatures #%d is empty", utils.ErrConfigValidation, i+1)
		}
	}
	return nil
}
