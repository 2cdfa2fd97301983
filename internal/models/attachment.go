package models

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

var (
	imageExtensions    = []string{"jpg", "jpeg", "png", "gif", "bmp", "webp", "svg"}
	documentExtensions = []string{"doc", "docx", "txt", "rtf", "odt"}
)

// AttachmentModel is a file attached to a story, vacancy or notice.
type AttachmentModel struct {
	ID          uint      `json:"id"           gorm:"primaryKey;autoIncrement"`
	OwnerKind   OwnerKind `json:"owner_kind"   gorm:"size:20;not null;index:idx_attachment_owner,priority:1"`
	OwnerID     uint      `json:"owner_id"     gorm:"not null;index:idx_attachment_owner,priority:2"`
	FilePath    string    `json:"file_path"    gorm:"size:500;not null"`
	FileName    string    `json:"file_name"    gorm:"size:255;not null"`
	FileSize    int64     `json:"file_size"`
	FileType    string    `json:"file_type"    gorm:"size:50"`
	ContentType string    `json:"content_type" gorm:"size:100"`
	Order       int       `json:"order"        gorm:"column:order;default:0"`
	UploadedAt  time.Time `json:"uploaded_at"  gorm:"autoCreateTime"`
}

func (AttachmentModel) TableName() string { return "attachments" }

func (a AttachmentModel) Owner() OwnerRef {
	return OwnerRef{Kind: a.OwnerKind, ID: a.OwnerID}
}

func (a AttachmentModel) IsImage() bool    { return contains(imageExtensions, a.FileType) }
func (a AttachmentModel) IsPDF() bool      { return a.FileType == "pdf" }
func (a AttachmentModel) IsDocument() bool { return contains(documentExtensions, a.FileType) }

// SizeDisplay renders the size for humans, e.g. "1.5 MiB".
func (a AttachmentModel) SizeDisplay() string {
	if a.FileSize < 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(a.FileSize))
}

// FileTypeOf returns the lowercase extension of name without the dot.
func FileTypeOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
