package models

import (
	"time"
)

// Base is the base model for all entities.
type Base struct {
	ID        uint      `json:"id"       gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time `json:"created"`
	UpdatedAt time.Time `json:"modified"`
}

// Author is embedded by content written by a staff user.
type Author struct {
	AuthorID *uint      `json:"author_id"        gorm:"index"`
	Author   *UserModel `json:"author,omitempty" gorm:"foreignKey:AuthorID"`
}
