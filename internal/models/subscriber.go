package models

import "time"

// SubscriberModel is a newsletter recipient. Only verified and active rows
// receive publish notifications.
type SubscriberModel struct {
	ID                uint       `json:"id"            gorm:"primaryKey;autoIncrement"`
	Email             string     `json:"email"         gorm:"uniqueIndex;size:254;not null"`
	Name              string     `json:"name"          gorm:"size:100"`
	VerificationToken string     `json:"-"             gorm:"index;size:50"`
	IsVerified        bool       `json:"is_verified"   gorm:"default:false;index:idx_subscriber_eligible,priority:2"`
	IsActive          bool       `json:"is_active"     gorm:"default:false;index:idx_subscriber_eligible,priority:1"`
	SubscribedAt      time.Time  `json:"subscribed_at" gorm:"autoCreateTime"`
	VerifiedAt        *time.Time `json:"verified_at"`
}

func (SubscriberModel) TableName() string { return "subscribers" }

// Eligible reports whether the subscriber should receive notifications.
func (s SubscriberModel) Eligible() bool {
	return s.IsActive && s.IsVerified
}
