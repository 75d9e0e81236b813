package repository

import (
	"time"

	"studypath_backend/internal/model"

	"gorm.io/gorm"
)

type TopicRepository struct {
	DB *gorm.DB
}

func NewTopicRepository(db *gorm.DB) *TopicRepository {
	return &TopicRepository{DB: db}
}

// FindByTitle 按 (用户, 标题) 精确查找。库里不保证标题唯一，
// 命中多行时取最近访问的一行。
func (r *TopicRepository) FindByTitle(userID uint, title string) (*model.Topic, error) {
	var topic model.Topic
	err := r.DB.Where("user_id = ? AND title = ?", userID, title).
		Order("last_accessed_at DESC, created_at DESC").
		First(&topic).Error
	if err != nil {
		return nil, err
	}
	return &topic, nil
}

func (r *TopicRepository) Create(topic *model.Topic) error {
	if topic.LastAccessedAt.IsZero() {
		topic.LastAccessedAt = time.Now()
	}
	return r.DB.Create(topic).Error
}

func (r *TopicRepository) FindByID(id uint) (*model.Topic, error) {
	var topic model.Topic
	err := r.DB.First(&topic, id).Error
	if err != nil {
		return nil, err
	}
	return &topic, nil
}

func (r *TopicRepository) ListByUser(userID uint) ([]model.Topic, error) {
	var topics []model.Topic
	err := r.DB.Where("user_id = ?", userID).
		Order("last_accessed_at DESC").
		Find(&topics).Error
	return topics, err
}

func (r *TopicRepository) UpdateOutline(id uint, html string) error {
	return r.DB.Model(&model.Topic{}).Where("id = ?", id).
		Update("html_outline", html).Error
}

func (r *TopicRepository) TouchLastAccessed(id uint) error {
	return r.DB.Model(&model.Topic{}).Where("id = ?", id).
		Update("last_accessed_at", time.Now()).Error
}

// BumpProgress 进度只增不减，封顶 100
func (r *TopicRepository) BumpProgress(id uint, delta int) error {
	return r.DB.Model(&model.Topic{}).Where("id = ?", id).
		Update("progress", gorm.Expr("LEAST(progress + ?, 100)", delta)).Error
}

func (r *TopicRepository) AddStudyTime(id uint, minutes int) error {
	return r.DB.Model(&model.Topic{}).Where("id = ?", id).
		Update("total_study_time_minutes", gorm.Expr("total_study_time_minutes + ?", minutes)).Error
}
