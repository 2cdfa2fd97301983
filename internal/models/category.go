package models

// CategoryModel groups stories.
type CategoryModel struct {
	Base
	Name string `json:"name" gorm:"uniqueIndex;size:100;not null"`
}

func (CategoryModel) TableName() string { return "categories" }
