package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// NewKeychain returns the platform secret store reader.
func NewKeychain() keychain {
	return keychainReader{}
}

// GetAPIToken returns the bearer token protecting management endpoints,
// generating and persisting one on first use.
func GetAPIToken(kc keychain) (string, error) {
	if tok, err := kc.Get("tasklens", "api_token"); err == nil && strings.TrimSpace(tok) != "" {
		return strings.TrimSpace(tok), nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok := hex.EncodeToString(buf)

	if err := keychainSet("tasklens", "api_token", tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}
