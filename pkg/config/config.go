package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/konflux-ci/konflux-aggregator/pkg/logger"
)

const (
	// Default configuration values
	defaultLogDir         = ""
	defaultLogLevel       = "info"
	defaultAzureCloud     = "AzurePublicCloud"
	defaultBackendTimeout = 30 * time.Second
	defaultStaleTime      = 30 * time.Second
	defaultMaxPages       = 50
	defaultServerAddress  = ":7007"
	defaultOIDCScope      = "api://konflux/.default"

	// Environment variable prefix
	envPrefix = "KONFLUX_AGGREGATOR"
)

// LoadConfig loads configuration from a YAML or JSON file and environment variables.
// Environment variables can override config file values using the KONFLUX_AGGREGATOR_ prefix.
// For example: KONFLUX_AGGREGATOR_BACKEND_BASEURL=https://backstage.example.com/api/konflux
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	v := viper.New()
	v.SetConfigType(configType(configPath))
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file at %s: %w", configPath, err)
	}

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{"backend.baseurl", "backend.oidctoken", "agent.loglevel", "agent.logdir", "server.address", "catalog.file"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment for %s: %w", key, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

// SetDefaults sets default values for any missing configuration fields
func (c *Config) SetDefaults() {
	if c.Agent.LogLevel == "" {
		c.Agent.LogLevel = defaultLogLevel
	}
	if c.Agent.LogDir == "" {
		c.Agent.LogDir = defaultLogDir
	}

	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = defaultBackendTimeout
	}
	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")

	if c.Query.StaleTime == 0 {
		c.Query.StaleTime = defaultStaleTime
	}
	if c.Query.MaxPages == 0 {
		c.Query.MaxPages = defaultMaxPages
	}

	if c.Server.Address == "" {
		c.Server.Address = defaultServerAddress
	}

	if c.Azure.Cloud == "" {
		c.Azure.Cloud = defaultAzureCloud
	}
	if c.Azure.OIDCScope == "" {
		c.Azure.OIDCScope = defaultOIDCScope
	}
}

// validAzureClouds defines the supported Azure cloud environments
var validAzureClouds = map[string]bool{
	"AzurePublicCloud":       true,
	"AzureChinaCloud":        true,
	"AzureUSGovernmentCloud": true,
}

// Validate validates the configuration and ensures all required fields are set
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.baseUrl is required")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid backend.baseUrl: %q must be an absolute URL", c.Backend.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid backend.baseUrl scheme: %s. Valid values are: http, https", u.Scheme)
	}

	if c.Backend.Timeout < 0 {
		return fmt.Errorf("backend.timeout must not be negative")
	}
	if c.Query.StaleTime < 0 {
		return fmt.Errorf("query.staleTime must not be negative")
	}
	if c.Query.MaxPages < 0 {
		return fmt.Errorf("query.maxPages must not be negative")
	}

	if !validAzureClouds[c.Azure.Cloud] {
		return fmt.Errorf("invalid azure.cloud: %s. Valid values are: AzurePublicCloud, AzureChinaCloud, AzureUSGovernmentCloud", c.Azure.Cloud)
	}

	if err := logger.ValidateLogLevel(c.Agent.LogLevel); err != nil {
		return fmt.Errorf("invalid agent.logLevel: %w", err)
	}

	return nil
}
