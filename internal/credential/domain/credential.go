package domain

import "time"

// CredentialStatus tracks whether a stored credential is still usable.
type CredentialStatus string

const (
	StatusActive  CredentialStatus = "active"
	StatusRevoked CredentialStatus = "revoked"
)

// IntegrationCredential holds one user's OAuth tokens for one provider.
// Tokens are stored encrypted; plaintext never leaves the vault usecase.
// At most one row exists per (user, provider).
type IntegrationCredential struct {
	ID                 string           `json:"id" gorm:"primaryKey"`
	UserID             string           `json:"user_id" gorm:"uniqueIndex:idx_credential_user_provider;not null"`
	Provider           string           `json:"provider" gorm:"uniqueIndex:idx_credential_user_provider;not null"`
	AccessTokenCipher  []byte           `json:"-" gorm:"not null"`
	RefreshTokenCipher []byte           `json:"-"`
	ExpiresAt          time.Time        `json:"expires_at"`
	Status             CredentialStatus `json:"status" gorm:"default:active"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}
