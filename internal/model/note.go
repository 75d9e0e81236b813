package model

// Note 叶子内容页，点击章节下的小主题后生成。唯一性按 (subtopic_id, title) 约定。
type Note struct {
	BaseModel
	SubtopicID  uint   `gorm:"index;not null" json:"subtopicId"`
	Title       string `gorm:"size:255;index;not null" json:"title"`
	HTMLContent string `gorm:"type:longtext" json:"htmlContent"`
}

func (Note) TableName() string {
	return "notes"
}
