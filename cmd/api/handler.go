package api

import (
	authUsecase "github.com/PBLIZZ/app-omnicrm-sub012/internal/auth/usecase"
	credentialDelivery "github.com/PBLIZZ/app-omnicrm-sub012/internal/credential/delivery"
	credentialUsecase "github.com/PBLIZZ/app-omnicrm-sub012/internal/credential/usecase"
	interactionDelivery "github.com/PBLIZZ/app-omnicrm-sub012/internal/interaction/delivery"
	interactionRepo "github.com/PBLIZZ/app-omnicrm-sub012/internal/interaction/repository"
	jobDelivery "github.com/PBLIZZ/app-omnicrm-sub012/internal/job/delivery"
	jobRepo "github.com/PBLIZZ/app-omnicrm-sub012/internal/job/repository"
	jobUsecase "github.com/PBLIZZ/app-omnicrm-sub012/internal/job/usecase"
	"github.com/PBLIZZ/app-omnicrm-sub012/internal/metrics"
	"github.com/PBLIZZ/app-omnicrm-sub012/pkg/config"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	authUsecase        authUsecase.AuthUsecase
	oauthHandler       *credentialDelivery.OAuthHandler
	jobHandler         *jobDelivery.JobHandler
	interactionHandler *interactionDelivery.InteractionHandler
	metrics            *metrics.Metrics
	config             *config.Config
}

func NewHandler(
	authUc authUsecase.AuthUsecase,
	vault *credentialUsecase.TokenVault,
	runner *jobUsecase.Runner,
	jobs jobRepo.JobRepository,
	interactions interactionRepo.InteractionRepository,
	mailWatcher credentialDelivery.MailWatcher,
	m *metrics.Metrics,
	cfg *config.Config,
) *Handler {
	oauthHandler := credentialDelivery.NewOAuthHandler(vault, cfg.JWTSecret)
	if mailWatcher != nil && cfg.GooglePubSubTopic != "" {
		oauthHandler.EnableMailWatch(mailWatcher, cfg.GooglePubSubTopic)
	}

	return &Handler{
		authUsecase:        authUc,
		oauthHandler:       oauthHandler,
		jobHandler:         jobDelivery.NewJobHandler(runner, jobs, vault),
		interactionHandler: interactionDelivery.NewInteractionHandler(interactions),
		metrics:            m,
		config:             cfg,
	}
}

func (h *Handler) Start(addr string) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	SetupRoutes(r, h)

	return r.Run(addr)
}
