package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// StoryStatus is the publication state of a story.
type StoryStatus string

const (
	StoryDraft     StoryStatus = "DRAFT"
	StoryPublished StoryStatus = "PUBLISHED"
)

const DefaultStoryThumbnail = "/static/default-story.jpg"

var firstImagePattern = regexp.MustCompile(`<img[^>]+src="([^">]+)"`)

// StoryModel is a news story. Content is Markdown.
type StoryModel struct {
	Base
	Author
	Headline    string         `json:"headline"     gorm:"size:200;not null"`
	Snippet     string         `json:"snippet"      gorm:"size:500"`
	Content     string         `json:"content"      gorm:"type:longtext"`
	ReadTime    string         `json:"read_time"    gorm:"size:20"`
	Status      StoryStatus    `json:"status"       gorm:"size:10;default:DRAFT;index"`
	PublishedAt *time.Time     `json:"published_at" gorm:"index"`
	Thumbnail   string         `json:"thumbnail"`
	CategoryID  *uint          `json:"category_id"  gorm:"index"`
	Category    *CategoryModel `json:"category,omitempty" gorm:"foreignKey:CategoryID"`
}

func (StoryModel) TableName() string { return "stories" }

// IsPublished reports whether the story is visible to readers.
func (s StoryModel) IsPublished() bool {
	return s.Status == StoryPublished
}

// SystemID is the human-facing reference, e.g. A-000042.
func (s StoryModel) SystemID() string {
	return fmt.Sprintf("A-%06d", s.ID)
}

// FirstImage returns the first <img src> found in html, or "".
func FirstImage(html string) string {
	m := firstImagePattern.FindStringSubmatch(html)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// ThumbnailURL prefers the uploaded thumbnail, then the first image of the
// rendered content, then the site default.
func (s StoryModel) ThumbnailURL(renderedHTML string) string {
	if v := strings.TrimSpace(s.Thumbnail); v != "" {
		return v
	}
	if img := FirstImage(renderedHTML); img != "" {
		return img
	}
	return DefaultStoryThumbnail
}
