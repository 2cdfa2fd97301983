package models

import "time"

type NoticeCategory string

const (
	NoticeEvent        NoticeCategory = "EVENT"
	NoticeTender       NoticeCategory = "TENDER"
	NoticeAnnouncement NoticeCategory = "ANNOUNCEMENT"
)

func (c NoticeCategory) Valid() bool {
	switch c {
	case NoticeEvent, NoticeTender, NoticeAnnouncement:
		return true
	}
	return false
}

// NoticeModel is a board announcement.
type NoticeModel struct {
	Base
	Author
	Headline       string         `json:"headline"        gorm:"size:200;not null"`
	Overview       string         `json:"overview"        gorm:"size:500"`
	Description    string         `json:"description"     gorm:"type:longtext"`
	ContactDetails string         `json:"contact_details" gorm:"type:longtext"`
	Organization   string         `json:"organization"    gorm:"size:200"`
	Category       NoticeCategory `json:"category"        gorm:"size:20;default:ANNOUNCEMENT;index"`
	PublishDate    time.Time      `json:"publish_date"`
	ExpirationDate *time.Time     `json:"expiration_date"`
	IsActive       bool           `json:"is_active"       gorm:"default:true;index"`
	IsImportant    bool           `json:"is_important"    gorm:"default:false"`
}

func (NoticeModel) TableName() string { return "notices" }

func (n NoticeModel) IsExpired(now time.Time) bool {
	return expiredAt(n.ExpirationDate, now)
}

// CategoryColor maps the category to a badge color name.
func (n NoticeModel) CategoryColor() string {
	switch n.Category {
	case NoticeEvent:
		return "success"
	case NoticeTender:
		return "warning"
	case NoticeAnnouncement:
		return "info"
	default:
		return "secondary"
	}
}
