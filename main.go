package main

import (
	"context"
	"log"
	"strings"

	api "github.com/PBLIZZ/app-omnicrm-sub012/cmd/api"
	authdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/auth/domain"
	authRepo "github.com/PBLIZZ/app-omnicrm-sub012/internal/auth/repository"
	authUsecase "github.com/PBLIZZ/app-omnicrm-sub012/internal/auth/usecase"
	credentialdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/credential/domain"
	credentialRepo "github.com/PBLIZZ/app-omnicrm-sub012/internal/credential/repository"
	credentialUsecase "github.com/PBLIZZ/app-omnicrm-sub012/internal/credential/usecase"
	ingestdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/ingest/domain"
	ingestRepo "github.com/PBLIZZ/app-omnicrm-sub012/internal/ingest/repository"
	ingestUsecase "github.com/PBLIZZ/app-omnicrm-sub012/internal/ingest/usecase"
	interactiondomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/interaction/domain"
	interactionRepo "github.com/PBLIZZ/app-omnicrm-sub012/internal/interaction/repository"
	interactionUsecase "github.com/PBLIZZ/app-omnicrm-sub012/internal/interaction/usecase"
	jobdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/job/domain"
	jobRepo "github.com/PBLIZZ/app-omnicrm-sub012/internal/job/repository"
	"github.com/PBLIZZ/app-omnicrm-sub012/internal/job/scheduler"
	jobUsecase "github.com/PBLIZZ/app-omnicrm-sub012/internal/job/usecase"
	"github.com/PBLIZZ/app-omnicrm-sub012/internal/metrics"
	"github.com/PBLIZZ/app-omnicrm-sub012/internal/notification"
	"github.com/PBLIZZ/app-omnicrm-sub012/pkg/config"
	"github.com/PBLIZZ/app-omnicrm-sub012/pkg/crypto"
	"github.com/PBLIZZ/app-omnicrm-sub012/pkg/database"
	"github.com/PBLIZZ/app-omnicrm-sub012/pkg/provider"
	"github.com/PBLIZZ/app-omnicrm-sub012/pkg/retry"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database schemas
	if err := db.AutoMigrate(
		&authdomain.User{},
		&authdomain.RefreshToken{},
		&credentialdomain.IntegrationCredential{},
		&jobdomain.Job{},
		&ingestdomain.RawEvent{},
		&interactiondomain.Interaction{},
	); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize repositories (dependency injection)
	userRepo := authRepo.NewUserRepository(db)
	credRepo := credentialRepo.NewCredentialRepository(db)
	jobs := jobRepo.NewJobRepository(db)
	rawEvents := ingestRepo.NewRawEventRepository(db)
	interactions := interactionRepo.NewInteractionRepository(db)

	// Token cipher for credentials at rest
	cipher, err := crypto.NewCipher(cfg.TokenCipherKey)
	if err != nil {
		log.Fatal("Failed to initialize token cipher:", err)
	}

	m := metrics.New("omnicrm")

	authUc := authUsecase.NewAuthUsecase(userRepo, cfg)
	vault := credentialUsecase.NewTokenVault(credRepo, cipher, cfg)

	// Provider clients share one retry policy
	providerOpts := provider.Options{
		Retry: retry.Policy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		RequestTimeout: cfg.RequestTimeout,
	}
	gmailClient := provider.NewGmailClient(providerOpts)
	calendarClient := provider.NewCalendarClient(providerOpts)

	// Job runner with all four handlers registered
	runner := jobUsecase.NewRunner(jobs, jobUsecase.Options{
		PollBatchSize: cfg.JobPollBatchSize,
		MaxAttempts:   cfg.JobMaxAttempts,
		JobTimeout:    cfg.JobTimeout,
		InterJobDelay: cfg.JobInterJobDelay,
		StaleAfter:    cfg.JobStaleAfter,
	}, m)

	syncOpts := ingestUsecase.SyncOptions{
		MaxItems:        cfg.SyncMaxItems,
		RunDeadline:     cfg.SyncRunDeadline,
		PageSize:        cfg.SyncPageSize,
		FetchBatchSize:  cfg.SyncFetchBatchSize,
		InterBatchDelay: cfg.SyncInterBatchDelay,
	}
	mailSync := ingestUsecase.NewMailSyncProcessor(vault, gmailClient, rawEvents, runner, syncOpts, m)
	calendarSync := ingestUsecase.NewCalendarSyncProcessor(vault, calendarClient, rawEvents, runner, syncOpts, m)
	normalizer := interactionUsecase.NewNormalizer(rawEvents, interactions, m)

	runner.Register(jobdomain.KindMailSync, mailSync.Handle)
	runner.Register(jobdomain.KindCalendarSync, calendarSync.Handle)
	runner.Register(jobdomain.KindNormalizeMail, normalizer.HandleMail)
	runner.Register(jobdomain.KindNormalizeCalendar, normalizer.HandleCalendar)
	if err := runner.Verify(); err != nil {
		log.Fatal("Job runner misconfigured:", err)
	}

	// Background poll loop; POST /api/jobs/run remains available for manual
	// and test-driven cycles.
	jobScheduler := scheduler.NewScheduler(runner, cfg.JobPollInterval)
	jobScheduler.Start()
	defer jobScheduler.Stop()

	// Gmail watch notifications (Pub/Sub). Only started when a project is
	// configured; everything else works without it.
	if cfg.GoogleProjectID != "" {
		topicName := cfg.GooglePubSubTopic
		if parts := strings.Split(topicName, "/"); len(parts) > 1 {
			topicName = parts[len(parts)-1]
		}

		notifier, err := notification.NewService(cfg.GoogleProjectID, topicName, userRepo, runner, cfg.GoogleCredentials)
		if err != nil {
			log.Printf("[WARN] Failed to initialize notification service: %v", err)
		} else {
			go notifier.Start(context.Background())
		}
	}

	handler := api.NewHandler(authUc, vault, runner, jobs, interactions, gmailClient, m, cfg)

	log.Printf("Server starting on port %s", cfg.Port)
	if err := handler.Start(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
