package delivery

import (
	"net/http"
	"time"

	credentialUsecase "github.com/PBLIZZ/app-omnicrm-sub012/internal/credential/usecase"
	jobdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/job/domain"
	"github.com/PBLIZZ/app-omnicrm-sub012/internal/job/repository"
	jobUsecase "github.com/PBLIZZ/app-omnicrm-sub012/internal/job/usecase"
	"github.com/PBLIZZ/app-omnicrm-sub012/pkg/provider"

	"github.com/gin-gonic/gin"
)

// JobHandler handles job queue HTTP requests
type JobHandler struct {
	runner  *jobUsecase.Runner
	jobRepo repository.JobRepository
	vault   *credentialUsecase.TokenVault
}

func NewJobHandler(runner *jobUsecase.Runner, jobRepo repository.JobRepository, vault *credentialUsecase.TokenVault) *JobHandler {
	return &JobHandler{
		runner:  runner,
		jobRepo: jobRepo,
		vault:   vault,
	}
}

// EnqueueRequest represents the request body for enqueueing a job
type EnqueueRequest struct {
	Kind    string               `json:"kind" binding:"required"`
	Payload jobdomain.JobPayload `json:"payload"`
}

// Enqueue creates a new queued job for the authenticated user
// POST /api/jobs
func (h *JobHandler) Enqueue(c *gin.Context) {
	userID := c.GetString("userID")

	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind := jobdomain.JobKind(req.Kind)
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown job kind: " + req.Kind})
		return
	}

	job, err := h.runner.Enqueue(userID, kind, req.Payload)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, job)
}

// RunOnce triggers one poll cycle of the job runner
// POST /api/jobs/run
func (h *JobHandler) RunOnce(c *gin.Context) {
	summary, err := h.runner.RunOnce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "summary": summary})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// GetJobByID returns a specific job, owner only
// GET /api/jobs/:id
func (h *JobHandler) GetJobByID(c *gin.Context) {
	userID := c.GetString("userID")
	jobID := c.Param("id")

	job, err := h.jobRepo.FindByID(jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job == nil || job.UserID != userID {
		// Hide other users' jobs the same way as missing ones.
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.JSON(http.StatusOK, job)
}

// providerStatus is one provider's connection and sync snapshot.
type providerStatus struct {
	Connected         bool   `json:"connected"`
	ReconnectRequired bool   `json:"reconnect_required"`
	LastSyncedAt      string `json:"last_synced_at,omitempty"`
}

// SyncStatus reports connection state and last completed sync per provider
// GET /api/sync/status
func (h *JobHandler) SyncStatus(c *gin.Context) {
	userID := c.GetString("userID")

	status := make(map[string]providerStatus, 2)
	for providerName, kind := range map[string]jobdomain.JobKind{
		provider.Gmail:    jobdomain.KindMailSync,
		provider.Calendar: jobdomain.KindCalendarSync,
	} {
		connected, reconnect, err := h.vault.ConnectionStatus(userID, providerName)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		entry := providerStatus{Connected: connected, ReconnectRequired: reconnect}
		if last, err := h.jobRepo.LastDone(userID, kind); err == nil && last != nil {
			entry.LastSyncedAt = last.UpdatedAt.UTC().Format(time.RFC3339)
		}
		status[providerName] = entry
	}

	c.JSON(http.StatusOK, status)
}
