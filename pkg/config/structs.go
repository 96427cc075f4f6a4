package config

import "time"

// Config represents the complete aggregator configuration structure.
// The konflux section is kept raw; it is resolved by the konflux package so
// that a malformed section degrades to defaults instead of failing the load.
type Config struct {
	Backend BackendConfig          `json:"backend"`
	Agent   AgentConfig            `json:"agent"`
	Query   QueryConfig            `json:"query"`
	Server  ServerConfig           `json:"server"`
	Catalog CatalogConfig          `json:"catalog"`
	Azure   AzureConfig            `json:"azure"`
	Konflux map[string]interface{} `json:"konflux"`
}

// BackendConfig holds settings for the Konflux backend that fans queries out to clusters.
type BackendConfig struct {
	BaseURL   string        `json:"baseUrl"`             // Discovered base URL of the backend plugin
	Timeout   time.Duration `json:"timeout"`             // Per-request timeout
	OIDCToken string        `json:"oidcToken,omitempty"` // Static identity token, used when authProvider is oidc
}

// AgentConfig holds agent-specific operational configuration.
type AgentConfig struct {
	LogLevel string `json:"logLevel"` // Logging level: debug, info, warning, error
	LogDir   string `json:"logDir"`   // Directory for log files
}

// QueryConfig tunes the paginated query cache.
type QueryConfig struct {
	StaleTime time.Duration `json:"staleTime"` // How long an aggregated result is served without a refresh
	MaxPages  int           `json:"maxPages"`  // Upper bound of pages loaded by one "load all" request
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Address        string   `json:"address"`
	AllowedOrigins []string `json:"allowedOrigins"` // CORS origins allowed to call the API; empty disables CORS
}

// CatalogConfig points at the entity descriptors used to resolve subcomponents.
type CatalogConfig struct {
	File string `json:"file"`
}

// AzureConfig holds optional Azure settings used for identity tokens and
// AKS endpoint discovery.
type AzureConfig struct {
	TenantID         string                  `json:"tenantId"`
	Cloud            string                  `json:"cloud"`
	ServicePrincipal *ServicePrincipalConfig `json:"servicePrincipal,omitempty"`
	ManagedIdentity  bool                    `json:"managedIdentity"`
	OIDCScope        string                  `json:"oidcScope"` // Scope requested for identity tokens
}

// ServicePrincipalConfig holds Azure service principal authentication configuration.
type ServicePrincipalConfig struct {
	TenantID     string `json:"tenantId"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// IsSPConfigured checks if service principal credentials are provided in the configuration
func (cfg *Config) IsSPConfigured() bool {
	return cfg.Azure.ServicePrincipal != nil &&
		cfg.Azure.ServicePrincipal.ClientID != "" &&
		cfg.Azure.ServicePrincipal.ClientSecret != "" &&
		cfg.Azure.ServicePrincipal.TenantID != ""
}

// IsAzureConfigured reports whether any Azure credential source is configured.
func (cfg *Config) IsAzureConfigured() bool {
	return cfg.IsSPConfigured() || cfg.Azure.ManagedIdentity || cfg.Azure.TenantID != ""
}
