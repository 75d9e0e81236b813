package model

// DiveDeeper 笔记下的追问记录，只追加不修改。
type DiveDeeper struct {
	BaseModel
	NoteID      uint   `gorm:"index;not null" json:"noteId"`
	Question    string `gorm:"type:text;not null" json:"question"`
	HTMLContent string `gorm:"type:longtext" json:"htmlContent"`
}

func (DiveDeeper) TableName() string {
	return "dive_deeper"
}
