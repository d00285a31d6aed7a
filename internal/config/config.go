// Package config provides configuration parsing and validation for telebridge.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete bridge configuration.
type Config struct {
	Bridge  BridgeConfig  `yaml:"bridge"`
	Channel ChannelConfig `yaml:"channel"`
	Log     LogConfig     `yaml:"log"`
	Health  HealthConfig  `yaml:"health"`
}

// BridgeConfig contains the datagram forwarding settings.
type BridgeConfig struct {
	Role        string `yaml:"role"`         // initiator, responder
	ListenAddr  string `yaml:"listen_addr"`  // UDP address to receive local datagrams on
	ForwardAddr string `yaml:"forward_addr"` // UDP address remote datagrams are delivered to
}

// ChannelConfig defines how the secure channel is established.
type ChannelConfig struct {
	Mode    string        `yaml:"mode"`    // dial, listen
	Address string        `yaml:"address"` // channel peer or bind address
	Timeout time.Duration `yaml:"timeout"` // dial timeout
	TLS     TLSConfig     `yaml:"tls"`
}

// TLSConfig defines TLS settings for the channel.
type TLSConfig struct {
	Cert               string `yaml:"cert"`        // Certificate file path
	Key                string `yaml:"key"`         // Private key file path
	CA                 string `yaml:"ca"`          // CA certificate file path
	Fingerprint        string `yaml:"fingerprint"` // Peer certificate fingerprint for pinning
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"` // Skip verification (dev only)
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level    string         `yaml:"level"`  // debug, info, warn, error
	Format   string         `yaml:"format"` // text, json
	File     string         `yaml:"file"`   // optional log file path
	Rotation RotationConfig `yaml:"rotation"`
}

// RotationConfig defines log file rotation settings.
type RotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// HealthConfig defines health check server settings.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Role: "initiator",
		},
		Channel: ChannelConfig{
			Mode:    "dial",
			Timeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Rotation: RotationConfig{
				MaxSizeMB:  100,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	// Start with defaults
	cfg := Default()

	// Parse YAML
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		// Handle default values: ${VAR:-default}
		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		// Simple lookup
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match // Keep original if not found
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Validate bridge config
	if !isValidRole(c.Bridge.Role) {
		errs = append(errs, fmt.Sprintf("invalid bridge.role: %s (must be initiator or responder)", c.Bridge.Role))
	}
	if c.Bridge.ListenAddr == "" {
		errs = append(errs, "bridge.listen_addr is required")
	} else if !isValidUDPAddr(c.Bridge.ListenAddr) {
		errs = append(errs, fmt.Sprintf("invalid bridge.listen_addr: %s", c.Bridge.ListenAddr))
	}
	if c.Bridge.ForwardAddr == "" {
		errs = append(errs, "bridge.forward_addr is required")
	} else if !isValidUDPAddr(c.Bridge.ForwardAddr) {
		errs = append(errs, fmt.Sprintf("invalid bridge.forward_addr: %s", c.Bridge.ForwardAddr))
	}

	// Validate channel config
	if !isValidChannelMode(c.Channel.Mode) {
		errs = append(errs, fmt.Sprintf("invalid channel.mode: %s (must be dial or listen)", c.Channel.Mode))
	}
	if c.Channel.Address == "" {
		errs = append(errs, "channel.address is required")
	}
	if c.Channel.Mode == "listen" {
		if c.Channel.TLS.Cert == "" || c.Channel.TLS.Key == "" {
			errs = append(errs, "channel.tls.cert and channel.tls.key are required in listen mode")
		}
	}
	if c.Channel.Mode == "dial" && !c.Channel.TLS.InsecureSkipVerify {
		if c.Channel.TLS.CA == "" && c.Channel.TLS.Fingerprint == "" {
			errs = append(errs, "channel.tls requires ca or fingerprint in dial mode (or insecure_skip_verify for dev)")
		}
	}

	// Validate log config
	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}

	// Validate health
	if c.Health.Enabled && c.Health.Address == "" {
		errs = append(errs, "health.address is required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func isValidRole(role string) bool {
	switch role {
	case "initiator", "responder":
		return true
	default:
		return false
	}
}

func isValidChannelMode(mode string) bool {
	switch mode {
	case "dial", "listen":
		return true
	default:
		return false
	}
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

func isValidUDPAddr(addr string) bool {
	_, err := net.ResolveUDPAddr("udp", addr)
	return err == nil
}

// String returns a YAML representation of the config (for debugging).
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
