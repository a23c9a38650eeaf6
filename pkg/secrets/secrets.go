package secrets

import (
	"context"
	"os"
	"strings"
)

// Well-known secret keys read by the client
const (
	KeyRedisPassword  = "redis_password"
	KeyBootstrapToken = "bootstrap_token"
)

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// GetSecretWithDefault retrieves a secret with a default value if not found
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

// EnvManager resolves secrets from environment variables only
type EnvManager struct{}

// GetSecret reads key as an upper-case environment variable
func (EnvManager) GetSecret(_ context.Context, key string) (string, error) {
	value := os.Getenv(envKey(key))
	if value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// GetSecretWithDefault returns defaultValue when the variable is unset
func (m EnvManager) GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	value, err := m.GetSecret(ctx, key)
	if err != nil {
		return defaultValue
	}
	return value
}

// envKey converts snake_case, kebab-case or dotted keys to upper-case with underscores
func envKey(key string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
}

// Error represents a secrets management error
type Error string

// Error implements the error interface
func (e Error) Error() string {
	return string(e)
}

// Common errors
const (
	ErrSecretNotFound = Error("secret not found")
	ErrNoVaultToken   = Error("no vault token provided")
	ErrNoVaultAddress = Error("no vault address provided")
)
