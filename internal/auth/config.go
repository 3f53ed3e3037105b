package auth

import (
	"fmt"

	"github.com/rickgao/vehicle-sync/internal/config"
)

// NewProvider builds the credential source described by cfg. A private
// key path selects a KeyProvider; otherwise the static token is used,
// which may be empty.
func NewProvider(cfg config.AuthConfig) (Provider, error) {
	if cfg.PrivateKeyPath == "" {
		return NewStaticProvider(cfg.Token), nil
	}

	key, err := LoadPrivateKey(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	return NewKeyProvider(KeyProviderConfig{
		KeyID:   cfg.KeyID,
		Subject: cfg.UserID,
		Issuer:  cfg.Issuer,
		TTL:     cfg.TokenTTL,
	}, key)
}
