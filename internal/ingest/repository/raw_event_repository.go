package repository

import (
	"time"

	ingestdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/ingest/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RawEventRepository persists the append-only raw event log.
type RawEventRepository interface {
	// CreateBatch inserts all rows in one bulk statement. Row-by-row inserts
	// are not offered on purpose.
	CreateBatch(events []*ingestdomain.RawEvent) error
	// FindByUserAndBatch loads one sync run's rows in insertion order.
	FindByUserAndBatch(userID, batchID string) ([]*ingestdomain.RawEvent, error)
	// CountByBatch reports how many rows a batch produced.
	CountByBatch(batchID string) (int64, error)
}

type rawEventRepository struct {
	db *gorm.DB
}

func NewRawEventRepository(db *gorm.DB) RawEventRepository {
	return &rawEventRepository{db: db}
}

func (r *rawEventRepository) CreateBatch(events []*ingestdomain.RawEvent) error {
	if len(events) == 0 {
		return nil
	}
	now := time.Now()
	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.New().String()
		}
		ev.CreatedAt = now
	}
	return r.db.CreateInBatches(events, 100).Error
}

func (r *rawEventRepository) FindByUserAndBatch(userID, batchID string) ([]*ingestdomain.RawEvent, error) {
	var events []*ingestdomain.RawEvent
	err := r.db.Where("user_id = ? AND batch_id = ?", userID, batchID).
		Order("created_at ASC, id ASC").Find(&events).Error
	return events, err
}

func (r *rawEventRepository) CountByBatch(batchID string) (int64, error) {
	var count int64
	err := r.db.Model(&ingestdomain.RawEvent{}).Where("batch_id = ?", batchID).Count(&count).Error
	return count, err
}
