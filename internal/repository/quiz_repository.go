package repository

import (
	"studypath_backend/internal/model"

	"gorm.io/gorm"
)

type QuizRepository struct {
	DB *gorm.DB
}

func NewQuizRepository(db *gorm.DB) *QuizRepository {
	return &QuizRepository{DB: db}
}

// Latest 重新生成会产生多行，最新一行视为当前测验
func (r *QuizRepository) Latest(noteID uint) (*model.Quiz, error) {
	var quiz model.Quiz
	err := r.DB.Where("note_id = ?", noteID).
		Order("created_at DESC").
		First(&quiz).Error
	if err != nil {
		return nil, err
	}
	return &quiz, nil
}

func (r *QuizRepository) Create(quiz *model.Quiz) error {
	return r.DB.Create(quiz).Error
}

func (r *QuizRepository) FindByID(id uint) (*model.Quiz, error) {
	var quiz model.Quiz
	err := r.DB.First(&quiz, id).Error
	if err != nil {
		return nil, err
	}
	return &quiz, nil
}

func (r *QuizRepository) UpdateScore(id uint, score int) error {
	return r.DB.Model(&model.Quiz{}).Where("id = ?", id).
		Update("last_score", score).Error
}
