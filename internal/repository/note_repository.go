package repository

import (
	"studypath_backend/internal/model"

	"gorm.io/gorm"
)

type NoteRepository struct {
	DB *gorm.DB
}

func NewNoteRepository(db *gorm.DB) *NoteRepository {
	return &NoteRepository{DB: db}
}

// FindByTitle 同名行取最近更新的一行
func (r *NoteRepository) FindByTitle(subtopicID uint, title string) (*model.Note, error) {
	var note model.Note
	err := r.DB.Where("subtopic_id = ? AND title = ?", subtopicID, title).
		Order("updated_at DESC, created_at DESC").
		First(&note).Error
	if err != nil {
		return nil, err
	}
	return &note, nil
}

func (r *NoteRepository) Create(note *model.Note) error {
	return r.DB.Create(note).Error
}

func (r *NoteRepository) FindByID(id uint) (*model.Note, error) {
	var note model.Note
	err := r.DB.First(&note, id).Error
	if err != nil {
		return nil, err
	}
	return &note, nil
}

func (r *NoteRepository) ListBySubtopic(subtopicID uint) ([]model.Note, error) {
	var notes []model.Note
	err := r.DB.Where("subtopic_id = ?", subtopicID).
		Order("created_at ASC").
		Find(&notes).Error
	return notes, err
}

func (r *NoteRepository) UpdateContent(id uint, html string) error {
	return r.DB.Model(&model.Note{}).Where("id = ?", id).
		Update("html_content", html).Error
}
