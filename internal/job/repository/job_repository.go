package repository

import (
	"errors"
	"time"

	jobdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/job/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// jobRepository implements JobRepository with gorm.
type jobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) Enqueue(job *jobdomain.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now()
	if job.RunAfter.IsZero() {
		job.RunAfter = now
	}
	job.Status = jobdomain.StatusQueued
	job.CreatedAt = now
	job.UpdatedAt = now
	return r.db.Create(job).Error
}

func (r *jobRepository) FindByID(id string) (*jobdomain.Job, error) {
	var job jobdomain.Job
	err := r.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *jobRepository) FindDue(limit int, now time.Time) ([]*jobdomain.Job, error) {
	var jobs []*jobdomain.Job
	err := r.db.Where("status = ? AND run_after <= ?", jobdomain.StatusQueued, now).
		Order("created_at ASC").Limit(limit).Find(&jobs).Error
	return jobs, err
}

// Claim is the atomic queued -> processing transition. The WHERE clause
// matches id, owner, and current status in one UPDATE so two racing runners
// can never both win, and a job can never run under the wrong identity.
func (r *jobRepository) Claim(id, userID string) (bool, error) {
	res := r.db.Model(&jobdomain.Job{}).
		Where("id = ? AND user_id = ? AND status = ?", id, userID, jobdomain.StatusQueued).
		Updates(map[string]interface{}{
			"status":     jobdomain.StatusProcessing,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *jobRepository) MarkDone(id string) error {
	return r.db.Model(&jobdomain.Job{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     jobdomain.StatusDone,
			"last_error": "",
			"updated_at": time.Now(),
		}).Error
}

func (r *jobRepository) MarkError(id string, attempts int, lastError string) error {
	return r.db.Model(&jobdomain.Job{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     jobdomain.StatusError,
			"attempts":   attempts,
			"last_error": lastError,
			"updated_at": time.Now(),
		}).Error
}

func (r *jobRepository) Requeue(id string, attempts int, runAfter time.Time, lastError string) error {
	return r.db.Model(&jobdomain.Job{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     jobdomain.StatusQueued,
			"attempts":   attempts,
			"run_after":  runAfter,
			"last_error": lastError,
			"updated_at": time.Now(),
		}).Error
}

func (r *jobRepository) ReclaimStale(cutoff time.Time) (int64, error) {
	res := r.db.Model(&jobdomain.Job{}).
		Where("status = ? AND updated_at < ?", jobdomain.StatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":     jobdomain.StatusQueued,
			"run_after":  time.Now(),
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}

func (r *jobRepository) LastDone(userID string, kind jobdomain.JobKind) (*jobdomain.Job, error) {
	var job jobdomain.Job
	err := r.db.Where("user_id = ? AND kind = ? AND status = ?", userID, kind, jobdomain.StatusDone).
		Order("updated_at DESC").First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}
