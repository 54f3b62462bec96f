package repository

import (
	"time"

	credentialdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/credential/domain"
)

// CredentialRepository defines persistence for integration credentials.
type CredentialRepository interface {
	// FindByUserAndProvider returns nil, nil when no credential exists.
	FindByUserAndProvider(userID, provider string) (*credentialdomain.IntegrationCredential, error)
	// Upsert writes the credential, replacing any existing row for the same
	// (user, provider) pair in one statement.
	Upsert(cred *credentialdomain.IntegrationCredential) error
	// UpdateTokens persists refreshed token material atomically.
	UpdateTokens(id string, accessCipher, refreshCipher []byte, expiresAt time.Time) error
	// MarkRevoked flags the credential as unusable (revoked consent).
	MarkRevoked(id string) error
}
