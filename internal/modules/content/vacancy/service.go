package vacancy

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
	ErrNotFound         = errors.New("vacancy not found")
	ErrTitleRequired    = errors.New("title is required")
	ErrDeadlineRequired = errors.New("application deadline is required")
	ErrInvalidJobType   = errors.New("invalid job type")
)

type CreateVacancyDTO struct {
	Title               string  `json:"title"                form:"title"`
	Organization        string  `json:"organization"         form:"organization"`
	OrganizationDetails string  `json:"organization_details" form:"organization_details"`
	HowToApply          string  `json:"how_to_apply"         form:"how_to_apply"`
	Description         string  `json:"description"          form:"description"`
	Location            string  `json:"location"             form:"location"`
	JobType             string  `json:"job_type"             form:"job_type"`
	ApplicationDeadline string  `json:"application_deadline" form:"application_deadline"`
	ApplicationLink     string  `json:"application_link"     form:"application_link"`
	IsFeatured          bool    `json:"is_featured"          form:"is_featured"`
	ExpirationDate      *string `json:"expiration_date"      form:"expiration_date"`
}

type ListQuery struct {
	Location string `form:"location"`
	JobType  string `form:"job_type"`
	Featured *bool  `form:"featured"`
	Search   string `form:"q"`
}

// Flags toggles visibility switches. Nil fields are left alone.
type Flags struct {
	IsActive   *bool `json:"is_active"`
	IsFeatured *bool `json:"is_featured"`
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
	return &Service{db: db, attachments: attachments, logger: logger.Named("vacancy"), now: time.Now}
}

func (s *Service) Create(ctx context.Context, authorID *uint, dto *CreateVacancyDTO) (*models.VacancyModel, error) {
	title := strings.TrimSpace(dto.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	jobType := models.JobFullTime
	if v := strings.TrimSpace(dto.JobType); v != "" {
		jobType = models.JobType(strings.ToUpper(v))
		if !jobType.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidJobType, dto.JobType)
		}
	}
	if strings.TrimSpace(dto.ApplicationDeadline) == "" {
		return nil, ErrDeadlineRequired
	}
	deadline, err := content.ParseDate(dto.ApplicationDeadline)
	if err != nil {
		return nil, err
	}
	expires, err := content.ParseOptionalDate(dto.ExpirationDate)
	if err != nil {
		return nil, err
	}

	v := models.VacancyModel{
		Author:              models.Author{AuthorID: authorID},
		Title:               title,
		Organization:        strings.TrimSpace(dto.Organization),
		OrganizationDetails: strings.TrimSpace(dto.OrganizationDetails),
		HowToApply:          dto.HowToApply,
		Description:         dto.Description,
		Location:            strings.TrimSpace(dto.Location),
		JobType:             jobType,
		ApplicationDeadline: deadline,
		ApplicationLink:     strings.TrimSpace(dto.ApplicationLink),
		IsActive:            true,
		IsFeatured:          dto.IsFeatured,
		ExpirationDate:      expires,
	}
	if err := s.db.WithContext(ctx).Create(&v).Error; err != nil {
		return nil, fmt.Errorf("create vacancy: %w", err)
	}
	return &v, nil
}

// live restricts tx to vacancies readers may see.
func (s *Service) live(tx *gorm.DB) *gorm.DB {
	return tx.Where("is_active = ?", true).
		Where("expiration_date IS NULL OR expiration_date >= ?", content.StartOfDay(s.now()))
}

// Get fetches a vacancy. Inactive and expired ones need includeHidden.
func (s *Service) Get(ctx context.Context, id uint, includeHidden bool) (*models.VacancyModel, error) {
	var v models.VacancyModel
	tx := s.db.WithContext(ctx).Where("id = ?", id)
	if !includeHidden {
		tx = s.live(tx)
	}
	if err := tx.First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

// List returns featured vacancies first, then the newest.
func (s *Service) List(ctx context.Context, q pagination.Query, lq ListQuery, includeHidden bool) ([]models.VacancyModel, response.Pagination, error) {
	tx := s.db.WithContext(ctx).Model(&models.VacancyModel{}).
		Order("is_featured DESC, created_at DESC, id DESC")
	if !includeHidden {
		tx = s.live(tx)
	}
	if v := strings.TrimSpace(lq.Location); v != "" {
		tx = tx.Where("location LIKE ?", "%"+v+"%")
	}
	if v := strings.TrimSpace(lq.JobType); v != "" {
		jt := models.JobType(strings.ToUpper(v))
		if !jt.Valid() {
			return nil, response.Pagination{}, fmt.Errorf("%w: %q", ErrInvalidJobType, lq.JobType)
		}
		tx = tx.Where("job_type = ?", jt)
	}
	if lq.Featured != nil {
		tx = tx.Where("is_featured = ?", *lq.Featured)
	}
	if term := strings.TrimSpace(lq.Search); term != "" {
		like := "%" + term + "%"
		tx = tx.Where("title LIKE ? OR organization LIKE ? OR description LIKE ?", like, like, like)
	}

	out := []models.VacancyModel{}
	p, err := pagination.Paginate(tx, q, &out)
	return out, p, err
}

// SetFlags updates the active and featured switches.
func (s *Service) SetFlags(ctx context.Context, id uint, f Flags) (*models.VacancyModel, error) {
	updates := map[string]any{}
	if f.IsActive != nil {
		updates["is_active"] = *f.IsActive
	}
	if f.IsFeatured != nil {
		updates["is_featured"] = *f.IsFeatured
	}
	if _, err := s.Get(ctx, id, true); err != nil {
		return nil, err
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&models.VacancyModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update vacancy %d: %w", id, err)
		}
	}
	return s.Get(ctx, id, true)
}

// Visible returns every vacancy readers can currently see, newest first.
func (s *Service) Visible(ctx context.Context, limit int) ([]models.VacancyModel, error) {
	out := []models.VacancyModel{}
	err := s.live(s.db.WithContext(ctx)).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Delete removes the vacancy together with its attachments.
func (s *Service) Delete(ctx context.Context, id uint) error {
	if _, err := s.Get(ctx, id, true); err != nil {
		return err
	}
	deleteRow := func(tx *gorm.DB) error {
		return tx.Delete(&models.VacancyModel{}, id).Error
	}
	if s.attachments == nil {
		return deleteRow(s.db.WithContext(ctx))
	}
	return s.attachments.DeleteFor(ctx, models.OwnerRef{Kind: models.OwnerVacancy, ID: id}, deleteRow)
}

// DeactivateExpired switches off active vacancies whose expiration date has
// passed and reports how many changed.
func (s *Service) DeactivateExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.VacancyModel{}).
		Where("is_active = ? AND expiration_date IS NOT NULL AND expiration_date < ?", true, content.StartOfDay(s.now())).
		Update("is_active", false)
	if res.Error != nil {
		return 0, fmt.Errorf("deactivate expired vacancies: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("expired vacancies deactivated", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// Resolve is the attachment owner resolver for vacancies.
func (s *Service) Resolve(ctx context.Context, id uint) (attachment.Entity, error) {
	v, err := s.Get(ctx, id, true)
	if errors.Is(err, ErrNotFound) {
		return attachment.Entity{}, attachment.ErrOwnerNotFound
	}
	if err != nil {
		return attachment.Entity{}, err
	}
	return attachment.Entity{
		Owner: models.OwnerRef{Kind: models.OwnerVacancy, ID: v.ID},
		Title: v.Title,
	}, nil
}
