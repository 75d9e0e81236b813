package model

import (
	"time"
)

// Subtopic 章节节点，点击大纲中的章节后生成。唯一性按 (topic_id, title) 约定。
type Subtopic struct {
	BaseModel
	TopicID        uint      `gorm:"index;not null" json:"topicId"`
	Title          string    `gorm:"size:255;index;not null" json:"title"`
	HTMLContent    string    `gorm:"type:longtext" json:"htmlContent"`
	LastAccessedAt time.Time `gorm:"index;default:CURRENT_TIMESTAMP(3)" json:"lastAccessedAt"`
}

func (Subtopic) TableName() string {
	return "subtopics"
}
