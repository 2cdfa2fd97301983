package models

// UserModel is a staff account that authors content. Credentials and sessions
// live outside this service; only the identity used for ownership is kept.
type UserModel struct {
	Base
	Username string `json:"username" gorm:"uniqueIndex;size:150;not null"`
	Name     string `json:"name"`
	Mail     string `json:"mail"`
	Roles    string `json:"roles"`
}

func (UserModel) TableName() string { return "users" }
