package model

import (
	"time"
)

// Topic 内容树的根节点，首次大纲生成成功后创建。
// (user_id, title) 意图上唯一，但库里不强制，可能存在同名行，
// 读取时按 last_accessed_at 最近优先。
type Topic struct {
	BaseModel
	UserID                uint      `gorm:"index;not null" json:"userId"`
	Title                 string    `gorm:"size:255;index;not null" json:"title"`
	HTMLOutline           string    `gorm:"type:longtext" json:"htmlOutline"`
	Progress              int       `gorm:"default:0" json:"progress"` // 0..100，会话内单调不减
	Category              string    `gorm:"size:100" json:"category"`
	LastAccessedAt        time.Time `gorm:"index;default:CURRENT_TIMESTAMP(3)" json:"lastAccessedAt"`
	TotalStudyTimeMinutes int       `gorm:"default:0" json:"totalStudyTimeMinutes"`
}

func (Topic) TableName() string {
	return "topics"
}
