// ABOUTME: Configuration loading for the parley reference agent
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Host    HostConfig    `toml:"host"`
	Agent   AgentConfig   `toml:"agent"`
	Logging LoggingConfig `toml:"logging"`
}

type HostConfig struct {
	URI string `toml:"uri"`
}

type AgentConfig struct {
	Source string `toml:"source"`
	Token  string `toml:"token"`
	Codec  string `toml:"codec"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// getConfigPath returns the path to the agent config file.
// Priority: PARLEY_AGENT_CONFIG env var > XDG_CONFIG_HOME/parley/agent.toml > ~/.config/parley/agent.toml
func getConfigPath() string {
	if envPath := os.Getenv("PARLEY_AGENT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "agent.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "parley", "agent.toml")
}

// Load reads config from the given path, expanding environment variables.
// Flags overlay the result, so validation happens after the overlay rather
// than here.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables (${VAR} syntax)
	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Host.URI == "" {
		return fmt.Errorf("host.uri is required (flag -uri or config file)")
	}
	u, err := url.Parse(c.Host.URI)
	if err != nil {
		return fmt.Errorf("host.uri is not a valid URI: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https", "mem":
	default:
		return fmt.Errorf("host.uri scheme %q is not one of ws, wss, http, https, mem", u.Scheme)
	}
	if c.Agent.Source == "" {
		return fmt.Errorf("agent.source is required (flag -source or config file)")
	}
	return nil
}
