package usecase

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	credentialdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/credential/domain"
	"github.com/PBLIZZ/app-omnicrm-sub012/internal/credential/repository"
	"github.com/PBLIZZ/app-omnicrm-sub012/pkg/config"
	"github.com/PBLIZZ/app-omnicrm-sub012/pkg/crypto"
	"github.com/PBLIZZ/app-omnicrm-sub012/pkg/provider"
	"github.com/PBLIZZ/app-omnicrm-sub012/pkg/retry"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendarapi "google.golang.org/api/calendar/v3"
	gmailapi "google.golang.org/api/gmail/v1"
)

// AuthError marks a credential as unusable: revoked consent, missing
// connection, invalid grant. Jobs seeing it go terminal without retry.
type AuthError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error for %s: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("auth error for %s: %s", e.Provider, e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// refreshMargin is how close to expiry a token may get before the vault
// refreshes it proactively.
const refreshMargin = 2 * time.Minute

// TokenVault is the only component that sees plaintext OAuth tokens. It
// loads, decrypts, refreshes, and persists credentials per (user, provider).
type TokenVault struct {
	repo   repository.CredentialRepository
	cipher *crypto.Cipher
	cfg    *config.Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex // keyed by userID + "/" + provider
}

func NewTokenVault(repo repository.CredentialRepository, cipher *crypto.Cipher, cfg *config.Config) *TokenVault {
	return &TokenVault{
		repo:   repo,
		cipher: cipher,
		cfg:    cfg,
		locks:  make(map[string]*sync.Mutex),
	}
}

// OAuthConfig returns the oauth2 configuration for a provider, read-only
// scopes only.
func (v *TokenVault) OAuthConfig(providerName string) (*oauth2.Config, error) {
	var scope string
	switch providerName {
	case provider.Gmail:
		scope = gmailapi.GmailReadonlyScope
	case provider.Calendar:
		scope = calendarapi.CalendarReadonlyScope
	default:
		return nil, fmt.Errorf("unknown provider %q", providerName)
	}

	return &oauth2.Config{
		ClientID:     v.cfg.GoogleClientID,
		ClientSecret: v.cfg.GoogleClientSecret,
		RedirectURL:  v.cfg.GoogleRedirectURI,
		Endpoint:     google.Endpoint,
		Scopes:       []string{scope},
	}, nil
}

// keyLock returns the mutex serializing refreshes for one (user, provider).
func (v *TokenVault) keyLock(userID, providerName string) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := userID + "/" + providerName
	lock, ok := v.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		v.locks[key] = lock
	}
	return lock
}

// GetValidToken returns a usable access token, refreshing and persisting it
// first when the stored one is at or near expiry. Refresh is serialized per
// (user, provider) so concurrent jobs cannot race a rotation.
func (v *TokenVault) GetValidToken(ctx context.Context, userID, providerName string) (string, error) {
	lock := v.keyLock(userID, providerName)
	lock.Lock()
	defer lock.Unlock()

	cred, err := v.repo.FindByUserAndProvider(userID, providerName)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return "", &AuthError{Provider: providerName, Reason: "provider not connected"}
	}
	if cred.Status == credentialdomain.StatusRevoked {
		return "", &AuthError{Provider: providerName, Reason: "credential revoked, reconnect required"}
	}

	accessToken, err := v.cipher.Decrypt(cred.AccessTokenCipher)
	if err != nil {
		return "", fmt.Errorf("decrypt access token: %w", err)
	}

	if time.Until(cred.ExpiresAt) > refreshMargin {
		return accessToken, nil
	}

	return v.refresh(ctx, cred)
}

// refresh exchanges the stored refresh token for a new access token and
// persists it before returning. Callers hold the per-key lock.
func (v *TokenVault) refresh(ctx context.Context, cred *credentialdomain.IntegrationCredential) (string, error) {
	refreshToken := ""
	if len(cred.RefreshTokenCipher) > 0 {
		var err error
		refreshToken, err = v.cipher.Decrypt(cred.RefreshTokenCipher)
		if err != nil {
			return "", fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	if refreshToken == "" {
		if err := v.repo.MarkRevoked(cred.ID); err != nil {
			log.Printf("[TokenVault] Failed to mark credential %s revoked: %v", cred.ID, err)
		}
		return "", &AuthError{Provider: cred.Provider, Reason: "no refresh token, reconnect required"}
	}

	oauthCfg, err := v.OAuthConfig(cred.Provider)
	if err != nil {
		return "", err
	}

	stale := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Minute), // force refresh
	}
	fresh, err := oauthCfg.TokenSource(ctx, stale).Token()
	if err != nil {
		if retry.IsAuthError(err) {
			// Revoked consent: retrying cannot help, invalidate the row.
			if markErr := v.repo.MarkRevoked(cred.ID); markErr != nil {
				log.Printf("[TokenVault] Failed to mark credential %s revoked: %v", cred.ID, markErr)
			}
			return "", &AuthError{Provider: cred.Provider, Reason: "refresh rejected", Err: err}
		}
		return "", fmt.Errorf("refresh token for %s: %w", cred.Provider, err)
	}

	accessCipher, err := v.cipher.Encrypt(fresh.AccessToken)
	if err != nil {
		return "", fmt.Errorf("encrypt access token: %w", err)
	}
	var refreshCipher []byte
	if fresh.RefreshToken != "" && fresh.RefreshToken != refreshToken {
		refreshCipher, err = v.cipher.Encrypt(fresh.RefreshToken)
		if err != nil {
			return "", fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	if err := v.repo.UpdateTokens(cred.ID, accessCipher, refreshCipher, fresh.Expiry); err != nil {
		return "", fmt.Errorf("persist refreshed token: %w", err)
	}

	return fresh.AccessToken, nil
}

// ExchangeAndStore swaps an authorization code for tokens and writes the
// credential. Nothing is persisted when the exchange fails.
func (v *TokenVault) ExchangeAndStore(ctx context.Context, userID, providerName, code string) error {
	oauthCfg, err := v.OAuthConfig(providerName)
	if err != nil {
		return err
	}

	tok, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("token exchange failed: %w", err)
	}

	return v.StoreTokens(userID, providerName, tok)
}

// StoreTokens encrypts and upserts a freshly issued token pair.
func (v *TokenVault) StoreTokens(userID, providerName string, tok *oauth2.Token) error {
	accessCipher, err := v.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}

	var refreshCipher []byte
	if tok.RefreshToken != "" {
		refreshCipher, err = v.cipher.Encrypt(tok.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	return v.repo.Upsert(&credentialdomain.IntegrationCredential{
		UserID:             userID,
		Provider:           providerName,
		AccessTokenCipher:  accessCipher,
		RefreshTokenCipher: refreshCipher,
		ExpiresAt:          tok.Expiry,
		Status:             credentialdomain.StatusActive,
	})
}

// ConnectionStatus reports whether a provider is connected and usable,
// for the sync status surface.
func (v *TokenVault) ConnectionStatus(userID, providerName string) (connected bool, reconnectRequired bool, err error) {
	cred, err := v.repo.FindByUserAndProvider(userID, providerName)
	if err != nil {
		return false, false, err
	}
	if cred == nil {
		return false, false, nil
	}
	return true, cred.Status == credentialdomain.StatusRevoked, nil
}
