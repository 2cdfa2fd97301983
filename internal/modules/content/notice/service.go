package notice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/newsdigest/core/internal/models"
	"github.com/newsdigest/core/internal/modules/content"
	"github.com/newsdigest/core/internal/modules/storage/attachment"
	"github.com/newsdigest/core/internal/pkg/pagination"
	"github.com/newsdigest/core/internal/pkg/response"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound         = errors.New("notice not found")
	ErrHeadlineRequired = errors.New("headline is required")
	ErrInvalidCategory  = errors.New("invalid notice category")
)

type CreateNoticeDTO struct {
	Headline       string  `json:"headline"        form:"headline"`
	Overview       string  `json:"overview"        form:"overview"`
	Description    string  `json:"description"     form:"description"`
	ContactDetails string  `json:"contact_details" form:"contact_details"`
	Organization   string  `json:"organization"    form:"organization"`
	Category       string  `json:"category"        form:"category"`
	PublishDate    *string `json:"publish_date"    form:"publish_date"`
	ExpirationDate *string `json:"expiration_date" form:"expiration_date"`
	IsImportant    bool    `json:"is_important"    form:"is_important"`
}

type ListQuery struct {
	Category  string `form:"category"`
	Important *bool  `form:"important"`
	Search    string `form:"q"`
}

// Flags toggles visibility switches. Nil fields are left alone.
type Flags struct {
	IsActive    *bool `json:"is_active"`
	IsImportant *bool `json:"is_important"`
}

type Service struct {
	db          *gorm.DB
	attachments *attachment.Store
	logger      *zap.Logger
	now         func() time.Time
}

func NewService(db *gorm.DB, attachments *attachment.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, attachments: attachments, logger: logger.Named("notice"), now: time.Now}
}

func parseCategory(raw string) (models.NoticeCategory, error) {
	c := models.NoticeCategory(strings.ToUpper(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
	}
	return c, nil
}

// Create inserts a notice. The publish date defaults to now.
func (s *Service) Create(ctx context.Context, authorID *uint, dto *CreateNoticeDTO) (*models.NoticeModel, error) {
	headline := strings.TrimSpace(dto.Headline)
	if headline == "" {
		return nil, ErrHeadlineRequired
	}
	category := models.NoticeAnnouncement
	if strings.TrimSpace(dto.Category) != "" {
		var err error
		if category, err = parseCategory(dto.Category); err != nil {
			return nil, err
		}
	}
	published, err := content.ParseOptionalDate(dto.PublishDate)
	if err != nil {
		return nil, err
	}
	if published == nil {
		now := s.now().UTC()
		published = &now
	}
	expires, err := content.ParseOptionalDate(dto.ExpirationDate)
	if err != nil {
		return nil, err
	}

	n := models.NoticeModel{
		Author:         models.Author{AuthorID: authorID},
		Headline:       headline,
		Overview:       strings.TrimSpace(dto.Overview),
		Description:    dto.Description,
		ContactDetails: dto.ContactDetails,
		Organization:   strings.TrimSpace(dto.Organization),
		Category:       category,
		PublishDate:    *published,
		ExpirationDate: expires,
		IsActive:       true,
		IsImportant:    dto.IsImportant,
	}
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		return nil, fmt.Errorf("create notice: %w", err)
	}
	return &n, nil
}

func (s *Service) live(tx *gorm.DB) *gorm.DB {
	return tx.Where("is_active = ?", true).
		Where("expiration_date IS NULL OR expiration_date >= ?", content.StartOfDay(s.now()))
}

func (s *Service) Get(ctx context.Context, id uint, includeHidden bool) (*models.NoticeModel, error) {
	var n models.NoticeModel
	tx := s.db.WithContext(ctx).Where("id = ?", id)
	if !includeHidden {
		tx = s.live(tx)
	}
	if err := tx.First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

// List returns important notices first, then by publish date.
func (s *Service) List(ctx context.Context, q pagination.Query, lq ListQuery, includeHidden bool) ([]models.NoticeModel, response.Pagination, error) {
	tx := s.db.WithContext(ctx).Model(&models.NoticeModel{}).
		Order("is_important DESC, publish_date DESC, id DESC")
	if !includeHidden {
		tx = s.live(tx)
	}
	if strings.TrimSpace(lq.Category) != "" {
		c, err := parseCategory(lq.Category)
		if err != nil {
			return nil, response.Pagination{}, err
		}
		tx = tx.Where("category = ?", c)
	}
	if lq.Important != nil {
		tx = tx.Where("is_important = ?", *lq.Important)
	}
	if term := strings.TrimSpace(lq.Search); term != "" {
		like := "%" + term + "%"
		tx = tx.Where("headline LIKE ? OR overview LIKE ? OR organization LIKE ?", like, like, like)
	}

	out := []models.NoticeModel{}
	p, err := pagination.Paginate(tx, q, &out)
	return out, p, err
}

// SetFlags updates the active and important switches.
func (s *Service) SetFlags(ctx context.Context, id uint, f Flags) (*models.NoticeModel, error) {
	updates := map[string]any{}
	if f.IsActive != nil {
		updates["is_active"] = *f.IsActive
	}
	if f.IsImportant != nil {
		updates["is_important"] = *f.IsImportant
	}
	if _, err := s.Get(ctx, id, true); err != nil {
		return nil, err
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&models.NoticeModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update notice %d: %w", id, err)
		}
	}
	return s.Get(ctx, id, true)
}

// Visible returns every notice readers can currently see, newest first.
func (s *Service) Visible(ctx context.Context, limit int) ([]models.NoticeModel, error) {
	out := []models.NoticeModel{}
	err := s.live(s.db.WithContext(ctx)).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Delete removes the notice together with its attachments.
func (s *Service) Delete(ctx context.Context, id uint) error {
	if _, err := s.Get(ctx, id, true); err != nil {
		return err
	}
	deleteRow := func(tx *gorm.DB) error {
		return tx.Delete(&models.NoticeModel{}, id).Error
	}
	if s.attachments == nil {
		return deleteRow(s.db.WithContext(ctx))
	}
	return s.attachments.DeleteFor(ctx, models.OwnerRef{Kind: models.OwnerNotice, ID: id}, deleteRow)
}

func (s *Service) DeactivateExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.NoticeModel{}).
		Where("is_active = ? AND expiration_date IS NOT NULL AND expiration_date < ?", true, content.StartOfDay(s.now())).
		Update("is_active", false)
	if res.Error != nil {
		return 0, fmt.Errorf("deactivate expired notices: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("expired notices deactivated", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// Resolve is the attachment owner resolver for notices.
func (s *Service) Resolve(ctx context.Context, id uint) (attachment.Entity, error) {
	n, err := s.Get(ctx, id, true)
	if errors.Is(err, ErrNotFound) {
		return attachment.Entity{}, attachment.ErrOwnerNotFound
	}
	if err != nil {
		return attachment.Entity{}, err
	}
	return attachment.Entity{
		Owner: models.OwnerRef{Kind: models.OwnerNotice, ID: n.ID},
		Title: n.Headline,
	}, nil
}
