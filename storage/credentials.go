package storage

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Credentials holds backend secrets that should not appear in location URIs.
// URI-embedded credentials take precedence.
type Credentials struct {
	S3AccessKey string `env:"GATEWAY_S3_ACCESS_KEY"`
	S3SecretKey string `env:"GATEWAY_S3_SECRET_KEY"`
	VaultToken  string `env:"GATEWAY_VAULT_TOKEN"`
	VaultScheme string `env:"GATEWAY_VAULT_SCHEME" envDefault:"https"`
}

// CredentialsFromEnv loads Credentials from the process environment.
func CredentialsFromEnv() (Credentials, error) {
	var creds Credentials
	if err := env.Parse(&creds); err != nil {
		return Credentials{}, fmt.Errorf("parse storage credentials: %w", err)
	}
	return creds, nil
}
