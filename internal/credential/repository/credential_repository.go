package repository

import (
	"errors"
	"time"

	credentialdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/credential/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// credentialRepository implements CredentialRepository with gorm.
type credentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &credentialRepository{db: db}
}

func (r *credentialRepository) FindByUserAndProvider(userID, provider string) (*credentialdomain.IntegrationCredential, error) {
	var cred credentialdomain.IntegrationCredential
	err := r.db.Where("user_id = ? AND provider = ?", userID, provider).First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cred, nil
}

func (r *credentialRepository) Upsert(cred *credentialdomain.IntegrationCredential) error {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	now := time.Now()
	cred.CreatedAt = now
	cred.UpdatedAt = now

	// One row per (user, provider): conflicting inserts replace the token
	// material and reactivate the credential.
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"access_token_cipher", "refresh_token_cipher", "expires_at", "status", "updated_at",
		}),
	}).Create(cred).Error
}

func (r *credentialRepository) UpdateTokens(id string, accessCipher, refreshCipher []byte, expiresAt time.Time) error {
	updates := map[string]interface{}{
		"access_token_cipher": accessCipher,
		"expires_at":          expiresAt,
		"status":              credentialdomain.StatusActive,
		"updated_at":          time.Now(),
	}
	if len(refreshCipher) > 0 {
		updates["refresh_token_cipher"] = refreshCipher
	}
	return r.db.Model(&credentialdomain.IntegrationCredential{}).Where("id = ?", id).Updates(updates).Error
}

func (r *credentialRepository) MarkRevoked(id string) error {
	return r.db.Model(&credentialdomain.IntegrationCredential{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     credentialdomain.StatusRevoked,
			"updated_at": time.Now(),
		}).Error
}
