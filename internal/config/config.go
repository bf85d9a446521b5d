// Package config provides configuration management for the rich presence daemon.
// It loads a YAML configuration file, applies defaults and environment overrides,
// and exposes the OAuth, gateway, host integration and logging settings.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultCallbackPort       = 53134
	DefaultTickInterval       = 50 * time.Millisecond
	DefaultNegotiationTimeout = 5 * time.Minute
	DefaultAPIPort            = 53135
)

// Config represents the daemon's configuration, loaded from a YAML file.
type Config struct {
	// ApplicationID is the Discord application the presence is shown for.
	ApplicationID string `yaml:"application-id" json:"application-id"`

	// AuthorizeURL, TokenURL and IdentityURL override the Discord OAuth endpoints.
	AuthorizeURL string `yaml:"authorize-url,omitempty" json:"authorize-url,omitempty"`
	TokenURL     string `yaml:"token-url,omitempty" json:"token-url,omitempty"`
	IdentityURL  string `yaml:"identity-url,omitempty" json:"identity-url,omitempty"`

	// GatewayURL is the websocket endpoint of the presence relay.
	GatewayURL string `yaml:"gateway-url" json:"gateway-url"`

	// CallbackPort is the local port receiving the OAuth redirect. 0 picks a free port.
	CallbackPort int `yaml:"callback-port" json:"callback-port"`

	// ProxyURL is an optional http(s) or socks5 proxy for outbound requests.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// NoBrowser prints the consent URL instead of opening a browser.
	NoBrowser bool `yaml:"no-browser" json:"no-browser"`

	// TickInterval is the period of the host tick driving callbacks and presence flushes.
	TickInterval time.Duration `yaml:"tick-interval" json:"tick-interval"`

	// NegotiationTimeout bounds the handshake. 0 waits forever.
	NegotiationTimeout time.Duration `yaml:"negotiation-timeout" json:"negotiation-timeout"`

	// HostStateFile is a JSON file written by the host with its scene and run state.
	HostStateFile string `yaml:"host-state-file" json:"host-state-file"`

	// RunStateLabels overrides the presence label shown per run state.
	RunStateLabels map[string]string `yaml:"run-state-labels,omitempty" json:"run-state-labels,omitempty"`

	// API configures the local control API.
	API APIConfig `yaml:"api" json:"api"`

	// Debug enables debug level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// ClientLogLevel is the minimum severity of presence client logs (verbose, info, warning, error).
	ClientLogLevel string `yaml:"client-log-level" json:"client-log-level"`

	// LoggingToFile writes logs to rotating files in LogDir instead of stdout.
	LoggingToFile bool   `yaml:"logging-to-file" json:"logging-to-file"`
	LogDir        string `yaml:"log-dir" json:"log-dir"`
}

// APIConfig configures the local control API.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port"`
}

// Addr returns the listen address.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		ApplicationID:      "1232753553919967303",
		GatewayURL:         "ws://127.0.0.1:6463/presence",
		CallbackPort:       DefaultCallbackPort,
		TickInterval:       DefaultTickInterval,
		NegotiationTimeout: DefaultNegotiationTimeout,
		ClientLogLevel:     "info",
		LogDir:             "logs",
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    DefaultAPIPort,
		},
	}
}

// LoadConfig reads the YAML file at configFile over the defaults. An empty path
// returns the defaults.
func LoadConfig(configFile string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(configFile) == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return cfg, nil
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from PRESENCE_* variables resolved through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("PRESENCE_APPLICATION_ID", &c.ApplicationID)
	str("PRESENCE_GATEWAY_URL", &c.GatewayURL)
	str("PRESENCE_PROXY_URL", &c.ProxyURL)
	str("PRESENCE_HOST_STATE_FILE", &c.HostStateFile)
	str("PRESENCE_CLIENT_LOG_LEVEL", &c.ClientLogLevel)

	for key, dst := range map[string]*bool{
		"PRESENCE_DEBUG":           &c.Debug,
		"PRESENCE_NO_BROWSER":      &c.NoBrowser,
		"PRESENCE_LOGGING_TO_FILE": &c.LoggingToFile,
	} {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = parsed
		}
	}

	if v, ok := lookup("PRESENCE_CALLBACK_PORT"); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid PRESENCE_CALLBACK_PORT: %w", err)
		}
		c.CallbackPort = port
	}
	if v, ok := lookup("PRESENCE_NEGOTIATION_TIMEOUT"); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid PRESENCE_NEGOTIATION_TIMEOUT: %w", err)
		}
		c.NegotiationTimeout = d
	}
	return nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ApplicationID) == "" {
		return fmt.Errorf("application-id is required")
	}
	if _, err := strconv.ParseUint(c.ApplicationID, 10, 64); err != nil {
		return fmt.Errorf("application-id must be a numeric snowflake: %w", err)
	}
	gateway, err := url.Parse(c.GatewayURL)
	if err != nil || (gateway.Scheme != "ws" && gateway.Scheme != "wss") {
		return fmt.Errorf("gateway-url must be a ws:// or wss:// URL, got %q", c.GatewayURL)
	}
	if c.CallbackPort < 0 || c.CallbackPort > 65535 {
		return fmt.Errorf("callback-port %d out of range", c.CallbackPort)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick-interval must be positive")
	}
	if c.NegotiationTimeout < 0 {
		return fmt.Errorf("negotiation-timeout must not be negative")
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	return nil
}
