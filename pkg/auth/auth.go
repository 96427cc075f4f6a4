package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/konflux-ci/konflux-aggregator/pkg/config"
)

// IdentityTokenProvider obtains the identity token forwarded to the backend
// when the oidc auth provider is in use.
type IdentityTokenProvider interface {
	IdentityToken(ctx context.Context) (string, error)
}

// StaticTokenProvider returns a fixed token, typically from configuration.
type StaticTokenProvider struct {
	token string
}

// NewStaticTokenProvider creates a provider for a pre-issued token
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: strings.TrimSpace(token)}
}

// IdentityToken implements IdentityTokenProvider.
func (p *StaticTokenProvider) IdentityToken(ctx context.Context) (string, error) {
	if p.token == "" {
		return "", fmt.Errorf("no identity token configured")
	}
	return p.token, nil
}

// CredentialTokenProvider obtains tokens for a scope from an Azure credential.
type CredentialTokenProvider struct {
	cred  azcore.TokenCredential
	scope string
}

// NewCredentialTokenProvider creates a provider requesting tokens for scope.
func NewCredentialTokenProvider(cred azcore.TokenCredential, scope string) *CredentialTokenProvider {
	return &CredentialTokenProvider{cred: cred, scope: scope}
}

// IdentityToken implements IdentityTokenProvider.
func (p *CredentialTokenProvider) IdentityToken(ctx context.Context) (string, error) {
	return GetAccessTokenForResource(ctx, p.cred, p.scope)
}

// CloudConfiguration maps a configured cloud name to the Azure SDK cloud
// configuration. An empty name selects the public cloud.
func CloudConfiguration(name string) (cloud.Configuration, error) {
	switch name {
	case "", "AzurePublicCloud":
		return cloud.AzurePublic, nil
	case "AzureChinaCloud":
		return cloud.AzureChina, nil
	case "AzureUSGovernmentCloud":
		return cloud.AzureGovernment, nil
	default:
		return cloud.Configuration{}, fmt.Errorf("unsupported azure cloud: %s", name)
	}
}

// ClientOptions returns the Azure SDK client options for the configured cloud.
func ClientOptions(cfg *config.Config) (azcore.ClientOptions, error) {
	cloudCfg, err := CloudConfiguration(cfg.Azure.Cloud)
	if err != nil {
		return azcore.ClientOptions{}, err
	}
	return azcore.ClientOptions{Cloud: cloudCfg}, nil
}

// CredentialFactory is a simple factory for Azure credentials
type CredentialFactory struct{}

// NewCredentialFactory creates a new credential factory
func NewCredentialFactory() *CredentialFactory {
	return &CredentialFactory{}
}

// Credential returns a credential based on config: service principal first,
// then managed identity, then the Azure CLI.
func (f *CredentialFactory) Credential(cfg *config.Config) (azcore.TokenCredential, error) {
	if cfg.IsSPConfigured() {
		return f.serviceCredential(cfg)
	}
	if cfg.Azure.ManagedIdentity {
		return f.managedIdentityCredential(cfg)
	}
	return f.cliCredential(cfg)
}

// serviceCredential creates service principal credential from config
func (f *CredentialFactory) serviceCredential(cfg *config.Config) (azcore.TokenCredential, error) {
	clientOptions, err := ClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	cred, err := azidentity.NewClientSecretCredential(
		cfg.Azure.ServicePrincipal.TenantID,
		cfg.Azure.ServicePrincipal.ClientID,
		cfg.Azure.ServicePrincipal.ClientSecret,
		&azidentity.ClientSecretCredentialOptions{ClientOptions: clientOptions},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create service principal credential: %w", err)
	}
	return cred, nil
}

// managedIdentityCredential creates a managed identity credential
func (f *CredentialFactory) managedIdentityCredential(cfg *config.Config) (azcore.TokenCredential, error) {
	clientOptions, err := ClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	cred, err := azidentity.NewManagedIdentityCredential(&azidentity.ManagedIdentityCredentialOptions{ClientOptions: clientOptions})
	if err != nil {
		return nil, fmt.Errorf("failed to create managed identity credential: %w", err)
	}
	return cred, nil
}

// cliCredential creates Azure CLI credential
func (f *CredentialFactory) cliCredential(cfg *config.Config) (azcore.TokenCredential, error) {
	opts := &azidentity.AzureCLICredentialOptions{TenantID: cfg.Azure.TenantID}
	cred, err := azidentity.NewAzureCLICredential(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create CLI credential: %w", err)
	}
	return cred, nil
}

// GetAccessTokenForResource retrieves access token for given credential and resource
func GetAccessTokenForResource(ctx context.Context, cred azcore.TokenCredential, resource string) (string, error) {
	if cred == nil {
		return "", fmt.Errorf("credential is nil")
	}
	tokenRequestOptions := policy.TokenRequestOptions{
		Scopes: []string{resource},
	}

	accessToken, err := cred.GetToken(ctx, tokenRequestOptions)
	if err != nil {
		return "", fmt.Errorf("failed to get access token: %w", err)
	}

	return accessToken.Token, nil
}

// NewIdentityTokenProvider selects the token source for oidc requests. A
// static token wins; otherwise Azure credentials are used when configured.
// It returns nil when no source is available.
func NewIdentityTokenProvider(cfg *config.Config) (IdentityTokenProvider, error) {
	if strings.TrimSpace(cfg.Backend.OIDCToken) != "" {
		return NewStaticTokenProvider(cfg.Backend.OIDCToken), nil
	}
	if !cfg.IsAzureConfigured() {
		return nil, nil
	}
	cred, err := NewCredentialFactory().Credential(cfg)
	if err != nil {
		return nil, err
	}
	return NewCredentialTokenProvider(cred, cfg.Azure.OIDCScope), nil
}
