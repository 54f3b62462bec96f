package repository

import (
	"time"

	interactiondomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/interaction/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InteractionRepository persists canonical interactions. The access pattern
// is deliberately batch-first: one existence check and one bulk insert per
// normalization run, never a per-row round trip.
type InteractionRepository interface {
	// ExistingSourceIDs returns which of the given source ids already have an
	// interaction for (user, source), in a single query.
	ExistingSourceIDs(userID, source string, sourceIDs []string) (map[string]bool, error)
	// CreateBatch bulk inserts, ignoring rows that violate the dedup key.
	CreateBatch(items []*interactiondomain.Interaction) error
	// FindByUser lists a user's interactions, newest first, for downstream
	// readers.
	FindByUser(userID string, limit, offset int) ([]*interactiondomain.Interaction, int64, error)
}

type interactionRepository struct {
	db *gorm.DB
}

func NewInteractionRepository(db *gorm.DB) InteractionRepository {
	return &interactionRepository{db: db}
}

func (r *interactionRepository) ExistingSourceIDs(userID, source string, sourceIDs []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(sourceIDs))
	if len(sourceIDs) == 0 {
		return existing, nil
	}

	var found []string
	err := r.db.Model(&interactiondomain.Interaction{}).
		Where("user_id = ? AND source = ? AND source_id IN ?", userID, source, sourceIDs).
		Pluck("source_id", &found).Error
	if err != nil {
		return nil, err
	}

	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

func (r *interactionRepository) CreateBatch(items []*interactiondomain.Interaction) error {
	if len(items) == 0 {
		return nil
	}
	now := time.Now()
	for _, it := range items {
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		it.CreatedAt = now
		it.UpdatedAt = now
	}
	// The bulk existence check runs first; ON CONFLICT DO NOTHING is the
	// backstop for concurrent normalization runs racing the same keys.
	return r.db.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(items, 100).Error
}

func (r *interactionRepository) FindByUser(userID string, limit, offset int) ([]*interactiondomain.Interaction, int64, error) {
	var items []*interactiondomain.Interaction
	var total int64

	query := r.db.Model(&interactiondomain.Interaction{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("occurred_at DESC").Limit(limit).Offset(offset).Find(&items).Error
	return items, total, err
}
