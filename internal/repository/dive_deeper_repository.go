package repository

import (
	"studypath_backend/internal/model"

	"gorm.io/gorm"
)

type DiveDeeperRepository struct {
	DB *gorm.DB
}

func NewDiveDeeperRepository(db *gorm.DB) *DiveDeeperRepository {
	return &DiveDeeperRepository{DB: db}
}

func (r *DiveDeeperRepository) Create(dd *model.DiveDeeper) error {
	return r.DB.Create(dd).Error
}

func (r *DiveDeeperRepository) ListByNote(noteID uint) ([]model.DiveDeeper, error) {
	var items []model.DiveDeeper
	err := r.DB.Where("note_id = ?", noteID).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}
