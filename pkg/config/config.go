package config

import "time"

// SelectorConfig overrides the built-in selector catalog
// Empty lists fall back to the defaults compiled into the selectors package
type SelectorConfig struct {
	Containers     []string `yaml:"containers,omitempty"`
	Badges         []string `yaml:"badges,omitempty"`
	IconSignatures []string `yaml:"icon_signatures,omitempty"` // Substrings of svg path data
	Titles         []string `yaml:"titles,omitempty"`
	ChannelNames   []string `yaml:"channel_names,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	Profile              string           `yaml:"profile"`          // Name of the state profile (one DB per profile)
	StateDir             string           `yaml:"state_dir"`        // Directory for the badger database
	ChannelBaseURL       string           `yaml:"channel_base_url"` // Where channel pages are fetched from
	UserAgent            string           `yaml:"user_agent,omitempty"`
	AcceptLanguage       string           `yaml:"accept_language,omitempty"`
	TitleCacheCapacity   int              `yaml:"title_cache_capacity,omitempty"`
	ScanInterval         time.Duration    `yaml:"scan_interval,omitempty"`    // Safety-net rescan and navigation check period
	NavigationDelay      time.Duration    `yaml:"navigation_delay,omitempty"` // Wait before rescanning a freshly navigated page
	ChannelFetchDelay    time.Duration    `yaml:"channel_fetch_delay,omitempty"`
	MaxConcurrentFetches int              `yaml:"max_concurrent_fetches,omitempty"`
	MaxRetries           int              `yaml:"max_retries,omitempty"`
	InitialRetryDelay    time.Duration    `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay        time.Duration    `yaml:"max_retry_delay,omitempty"`
	RespectRobotsTxt     bool             `yaml:"respect_robots_txt,omitempty"`
	DBGCInterval         time.Duration    `yaml:"db_gc_interval,omitempty"`
	HTTPClientSettings   HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	Selectors            SelectorConfig   `yaml:"selectors,omitempty"`
	Whitelist            []string         `yaml:"whitelist,omitempty"` // Seeds the stored whitelist when none exists yet
	Enabled              *bool            `yaml:"enabled,omitempty"`   // Seeds the stored enabled flag when none exists yet
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// GetEffectiveUserAgent returns the configured user agent or a browser-like default
func GetEffectiveUserAgent(appCfg AppConfig) string {
	if appCfg.UserAgent != "" {
		return appCfg.UserAgent
	}
	return "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
}

// GetEffectiveEnabled resolves the seed value for the enabled flag.
// Blocking is on unless explicitly disabled.
func GetEffectiveEnabled(appCfg AppConfig) bool {
	if appCfg.Enabled != nil {
		return *appCfg.Enabled
	}
	return true
}
