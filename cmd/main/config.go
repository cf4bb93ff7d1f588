package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/CTAG07/resume-generator/pkg/templating"
	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

const (
	modeHTTP = "http"
	modeCGI  = "cgi"
)

// ServerConfig holds the configuration for the HTTP server and its error handling.
type ServerConfig struct {
	ServerAddr string `json:"server_addr" yaml:"server_addr"`
	LogLevel   string `json:"log_level" yaml:"log_level"`

	// Mode is "http" to listen on ServerAddr, or "cgi" to answer a single
	// request handed over by a web server such as Apache.
	Mode string `json:"mode" yaml:"mode"`

	// BasePath mounts every route under a URL prefix. When empty it is derived
	// from ScriptName, or in cgi mode from the SCRIPT_NAME the web server passes.
	BasePath   string `json:"base_path" yaml:"base_path"`
	ScriptName string `json:"script_name" yaml:"script_name"`

	DisplayErrorDetails bool `json:"display_error_details" yaml:"display_error_details"`
	LogErrors           bool `json:"log_errors" yaml:"log_errors"`
	LogErrorDetails     bool `json:"log_error_details" yaml:"log_error_details"`

	SSL            bool     `json:"ssl" yaml:"ssl"`
	TrustedProxies []string `json:"trusted_proxies" yaml:"trusted_proxies"`

	ReadTimeoutSec  int `json:"read_timeout_sec" yaml:"read_timeout_sec"`
	WriteTimeoutSec int `json:"write_timeout_sec" yaml:"write_timeout_sec"`
	IdleTimeoutSec  int `json:"idle_timeout_sec" yaml:"idle_timeout_sec"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server    *ServerConfig              `json:"server_config" yaml:"server_config"`
	Templates *templating.TemplateConfig `json:"template_config" yaml:"template_config"`
}

// DefaultServerConfig creates a server configuration with default values.
// Error details are displayed, which suits development only.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ServerAddr:          ":8080",
		LogLevel:            "info",
		Mode:                modeHTTP,
		DisplayErrorDetails: true,
		LogErrors:           true,
		LogErrorDetails:     true,
		TrustedProxies:      []string{"127.0.0.1", "::1"},
		ReadTimeoutSec:      15,
		WriteTimeoutSec:     15,
		IdleTimeoutSec:      60,
	}
}

// DefaultConfig returns the full configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Templates: templating.DefaultConfig(),
	}
}

// LoadConfig reads the configuration from a JSON or YAML file at the given path,
// picking the format from the extension (.yaml and .yml are YAML, anything else
// is JSON). Fields missing from the file keep their defaults.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	isYAML := isYAMLPath(path)

	file, err := os.ReadFile(path)
	if err != nil {
		// If the file doesn't exist, create it with the default config.
		if os.IsNotExist(err) {
			var data []byte
			if isYAML {
				data, err = yaml.Marshal(config)
			} else {
				data, err = json.MarshalIndent(config, "", "  ")
			}
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// The server can still run with defaults.
				fmt.Fprintf(os.Stderr, "warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if isYAML {
		err = yaml.Unmarshal(file, config)
	} else {
		err = json.Unmarshal(file, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err = config.normalize(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return config, nil
}

// normalize restores sections the file set to null and checks enumerated fields.
func (c *Config) normalize() error {
	if c.Server == nil {
		c.Server = DefaultServerConfig()
	}
	if c.Templates == nil {
		c.Templates = templating.DefaultConfig()
	}
	c.Server.Mode = strings.ToLower(strings.TrimSpace(c.Server.Mode))
	switch c.Server.Mode {
	case "":
		c.Server.Mode = modeHTTP
	case modeHTTP, modeCGI:
	default:
		return fmt.Errorf("unknown server mode %q (want %q or %q)", c.Server.Mode, modeHTTP, modeCGI)
	}
	if c.Templates.TemplateDir == "" {
		return fmt.Errorf("template_dir must not be empty")
	}
	return nil
}

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// parseLogLevel maps the configured level name to a slog.Level, defaulting to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger builds the application logger. In cgi mode stdout carries the
// response, so logs go to stderr.
func newLogger(config *ServerConfig) *slog.Logger {
	out := os.Stdout
	if config.Mode == modeCGI {
		out = os.Stderr
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: parseLogLevel(config.LogLevel)}))
}
