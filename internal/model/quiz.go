package model

// Quiz 笔记下的测验。重新生成会插入新行，最新一行视为当前测验。
type Quiz struct {
	BaseModel
	NoteID      uint   `gorm:"index;not null" json:"noteId"`
	HTMLContent string `gorm:"type:longtext" json:"htmlContent"`
	LastScore   int    `gorm:"default:0" json:"lastScore"` // 0..100
}

func (Quiz) TableName() string {
	return "quizzes"
}
