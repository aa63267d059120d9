package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"

	"docflow/internal/config"
	"docflow/internal/services"
)

// ResolveSecret returns the client secret from config or, failing that, the
// OS keyring entry stored under the client id.
func ResolveSecret(cfg config.Auth) (string, error) {
	if secret := strings.TrimSpace(cfg.ClientSecret); secret != "" {
		return secret, nil
	}
	service := strings.TrimSpace(cfg.KeyringService)
	clientID := strings.TrimSpace(cfg.ClientID)
	if service == "" || clientID == "" {
		return "", services.Wrap(services.ErrConfiguration, "auth", "resolve secret", "client secret not configured", nil)
	}
	secret, err := keyring.Get(service, clientID)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", services.Wrap(services.ErrConfiguration, "auth", "resolve secret",
			fmt.Sprintf("client secret not configured and no keyring entry for %s/%s", service, clientID), nil)
	}
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "auth", "resolve secret", "keyring unavailable", err)
	}
	return strings.TrimSpace(secret), nil
}

// StoreSecret saves the client secret in the OS keyring.
func StoreSecret(cfg config.Auth, secret string) error {
	service := strings.TrimSpace(cfg.KeyringService)
	clientID := strings.TrimSpace(cfg.ClientID)
	secret = strings.TrimSpace(secret)
	switch {
	case service == "":
		return errors.New("store secret: keyring service is empty")
	case clientID == "":
		return errors.New("store secret: client id is empty")
	case secret == "":
		return errors.New("store secret: secret is empty")
	}
	if err := keyring.Set(service, clientID, secret); err != nil {
		return fmt.Errorf("store secret: %w", err)
	}
	return nil
}
