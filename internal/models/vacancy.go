package models

import "time"

type JobType string

const (
	JobFullTime JobType = "FULL_TIME"
	JobPartTime JobType = "PART_TIME"
	JobContract JobType = "CONTRACT"
)

// Valid reports whether t is one of the supported job types.
func (t JobType) Valid() bool {
	switch t {
	case JobFullTime, JobPartTime, JobContract:
		return true
	}
	return false
}

// VacancyModel is a job posting.
type VacancyModel struct {
	Base
	Author
	Title               string     `json:"title"                gorm:"size:200;not null"`
	Organization        string     `json:"organization"         gorm:"size:200"`
	OrganizationDetails string     `json:"organization_details" gorm:"size:200"`
	HowToApply          string     `json:"how_to_apply"         gorm:"type:longtext"`
	Description         string     `json:"description"          gorm:"type:longtext"`
	Location            string     `json:"location"             gorm:"size:100"`
	JobType             JobType    `json:"job_type"             gorm:"size:20;default:FULL_TIME"`
	ApplicationDeadline time.Time  `json:"application_deadline"`
	ApplicationLink     string     `json:"application_link"`
	IsActive            bool       `json:"is_active"            gorm:"default:true;index"`
	IsFeatured          bool       `json:"is_featured"          gorm:"default:false"`
	ExpirationDate      *time.Time `json:"expiration_date"`
}

func (VacancyModel) TableName() string { return "vacancies" }

// IsExpired compares the expiration date against now at day granularity.
func (v VacancyModel) IsExpired(now time.Time) bool {
	return expiredAt(v.ExpirationDate, now)
}

// DaysUntilDeadline is negative once the deadline has passed.
func (v VacancyModel) DaysUntilDeadline(now time.Time) int {
	return int(truncateDay(v.ApplicationDeadline).Sub(truncateDay(now)).Hours() / 24)
}

func expiredAt(expiration *time.Time, now time.Time) bool {
	if expiration == nil {
		return false
	}
	return truncateDay(*expiration).Before(truncateDay(now))
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
