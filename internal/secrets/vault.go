// Package secrets resolves infrastructure credentials (PostgreSQL, Redis,
// admin accounts) from HashiCorp Vault, with a local in-memory fallback when
// Vault is disabled.
package secrets

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"
)

// Config holds Vault connection settings.
type Config struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// Credentials is one named secret: arbitrary string key/value pairs such as
// {"user": ..., "password": ...}.
type Credentials map[string]string

// Client wraps the HashiCorp Vault client.
type Client struct {
	client *api.Client
	config Config

	mu    sync.RWMutex
	cache map[string]Credentials
}

// NewClient creates a Vault client. With Vault disabled the client serves
// only locally stored values, which keeps development and tests hermetic.
func NewClient(cfg Config) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg, cache: make(map[string]Credentials)}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{CACert: cfg.CACert}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg, cache: make(map[string]Credentials)}, nil
}

// IsEnabled returns whether Vault is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Store writes credentials under a name. Disabled Vault stores locally only.
func (c *Client) Store(ctx context.Context, name string, creds Credentials) error {
	c.mu.Lock()
	c.cache[name] = creds
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	data := make(map[string]interface{}, len(creds))
	for k, v := range creds {
		data[k] = v
	}
	_, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(name), map[string]interface{}{"data": data})
	if err != nil {
		return fmt.Errorf("failed to store secret %q in vault: %w", name, err)
	}
	return nil
}

// Get reads credentials by name, preferring the cache.
func (c *Client) Get(ctx context.Context, name string) (Credentials, error) {
	c.mu.RLock()
	if cached, ok := c.cache[name]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return nil, fmt.Errorf("secret %q not found and vault is disabled", name)
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %q from vault: %w", name, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret %q not found", name)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format for %q", name)
	}

	creds := make(Credentials, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			creds[k] = s
		}
	}

	c.mu.Lock()
	c.cache[name] = creds
	c.mu.Unlock()
	return creds, nil
}

// ClearCache clears the in-memory cache so the next Get hits Vault.
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]Credentials)
	c.mu.Unlock()
}

// Health checks the Vault connection.
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func (c *Client) secretPath(name string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, name)
}
