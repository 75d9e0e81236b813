package repository

import (
	"time"

	"studypath_backend/internal/model"

	"gorm.io/gorm"
)

type SubtopicRepository struct {
	DB *gorm.DB
}

func NewSubtopicRepository(db *gorm.DB) *SubtopicRepository {
	return &SubtopicRepository{DB: db}
}

// FindByTitle 同名行取最近访问的一行
func (r *SubtopicRepository) FindByTitle(topicID uint, title string) (*model.Subtopic, error) {
	var sub model.Subtopic
	err := r.DB.Where("topic_id = ? AND title = ?", topicID, title).
		Order("last_accessed_at DESC, created_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *SubtopicRepository) Create(sub *model.Subtopic) error {
	if sub.LastAccessedAt.IsZero() {
		sub.LastAccessedAt = time.Now()
	}
	return r.DB.Create(sub).Error
}

func (r *SubtopicRepository) FindByID(id uint) (*model.Subtopic, error) {
	var sub model.Subtopic
	err := r.DB.First(&sub, id).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *SubtopicRepository) ListByTopic(topicID uint) ([]model.Subtopic, error) {
	var subs []model.Subtopic
	err := r.DB.Where("topic_id = ?", topicID).
		Order("created_at ASC").
		Find(&subs).Error
	return subs, err
}

func (r *SubtopicRepository) UpdateContent(id uint, html string) error {
	return r.DB.Model(&model.Subtopic{}).Where("id = ?", id).
		Update("html_content", html).Error
}

func (r *SubtopicRepository) TouchLastAccessed(id uint) error {
	return r.DB.Model(&model.Subtopic{}).Where("id = ?", id).
		Update("last_accessed_at", time.Now()).Error
}
