package delivery

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/PBLIZZ/app-omnicrm-sub012/internal/credential/usecase"
	"github.com/PBLIZZ/app-omnicrm-sub012/pkg/provider"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// MailWatcher registers a Gmail push watch for an access token. Optional;
// connecting works without one.
type MailWatcher interface {
	Watch(ctx context.Context, accessToken, topicName string) error
}

// OAuthHandler drives the provider consent flow. The authorize leg issues a
// signed state token; the callback leg validates it and hands the code to the
// vault for exchange.
type OAuthHandler struct {
	vault     *usecase.TokenVault
	jwtSecret string
	watcher   MailWatcher
	topicName string
}

func NewOAuthHandler(vault *usecase.TokenVault, jwtSecret string) *OAuthHandler {
	return &OAuthHandler{vault: vault, jwtSecret: jwtSecret}
}

// EnableMailWatch makes Gmail callbacks register a push watch on topicName.
func (h *OAuthHandler) EnableMailWatch(watcher MailWatcher, topicName string) {
	h.watcher = watcher
	h.topicName = topicName
}

func validProvider(name string) bool {
	return name == provider.Gmail || name == provider.Calendar
}

// Authorize returns the provider consent URL for the authenticated user.
func (h *OAuthHandler) Authorize(c *gin.Context) {
	providerName := c.Param("provider")
	if !validProvider(providerName) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider"})
		return
	}
	userID := c.GetString("userID")

	oauthCfg, err := h.vault.OAuthConfig(providerName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := h.signState(userID, providerName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create state"})
		return
	}

	url := oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	c.JSON(http.StatusOK, gin.H{"auth_url": url})
}

// Callback validates the state parameter, exchanges the authorization code,
// and stores the credential. Nothing is written when the exchange fails.
func (h *OAuthHandler) Callback(c *gin.Context) {
	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing state or code"})
		return
	}

	userID, providerName, err := h.parseState(state)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state parameter"})
		return
	}

	if err := h.vault.ExchangeAndStore(c.Request.Context(), userID, providerName, code); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	// Gmail connects also register a push watch so new mail triggers a sync
	// without waiting for the next manual run. A watch failure is logged, not
	// surfaced; the connection itself succeeded.
	if providerName == provider.Gmail && h.watcher != nil && h.topicName != "" {
		if token, err := h.vault.GetValidToken(c.Request.Context(), userID, providerName); err == nil {
			if err := h.watcher.Watch(c.Request.Context(), token, h.topicName); err != nil {
				log.Printf("[OAuth] Failed to register mail watch for user %s: %v", userID, err)
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "provider connected", "provider": providerName})
}

func (h *OAuthHandler) signState(userID, providerName string) (string, error) {
	claims := jwt.MapClaims{
		"user_id":  userID,
		"provider": providerName,
		"nonce":    uuid.New().String(),
		"exp":      time.Now().Add(10 * time.Minute).Unix(),
		"iat":      time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.jwtSecret))
}

func (h *OAuthHandler) parseState(state string) (userID, providerName string, err error) {
	token, err := jwt.Parse(state, func(token *jwt.Token) (interface{}, error) {
		return []byte(h.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return "", "", jwt.ErrTokenInvalidClaims
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", jwt.ErrTokenInvalidClaims
	}
	userID, _ = claims["user_id"].(string)
	providerName, _ = claims["provider"].(string)
	if userID == "" || !validProvider(providerName) {
		return "", "", jwt.ErrTokenInvalidClaims
	}
	return userID, providerName, nil
}
