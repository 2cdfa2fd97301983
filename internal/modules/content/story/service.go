package story

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/newsdigest/core/internal/models"
	"github.com/newsdigest/core/internal/modules/gateway/notify"
	"github.com/newsdigest/core/internal/modules/processing/markdown"
	"github.com/newsdigest/core/internal/modules/storage/attachment"
	"github.com/newsdigest/core/internal/pkg/pagination"
	"github.com/newsdigest/core/internal/pkg/response"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound         = errors.New("story not found")
	ErrHeadlineRequired = errors.New("headline is required")
	ErrCategoryNotFound = errors.New("category not found")
	ErrInvalidStatus    = errors.New("invalid status")
)

// Publisher announces a published story to subscribers.
type Publisher interface {
	NotifySubscribers(ctx context.Context, storyID uint) (*notify.Report, error)
}

type CreateStoryDTO struct {
	Headline   string `json:"headline"    form:"headline"`
	Snippet    string `json:"snippet"     form:"snippet"`
	Content    string `json:"content"     form:"content"`
	Thumbnail  string `json:"thumbnail"   form:"thumbnail"`
	CategoryID *uint  `json:"category_id" form:"category_id"`
	Publish    bool   `json:"publish"     form:"publish"`
}

type ListQuery struct {
	Status   string `form:"status"`
	Category *uint  `form:"category"`
	Search   string `form:"q"`
}

type Service struct {
	db          *gorm.DB
	attachments *attachment.Store
	publisher   Publisher
	logger      *zap.Logger
	now         func() time.Time
}

func NewService(db *gorm.DB, attachments *attachment.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, attachments: attachments, logger: logger.Named("story"), now: time.Now}
}

// SetPublisher wires up subscriber notification (optional).
func (s *Service) SetPublisher(p Publisher) { s.publisher = p }

// Create inserts a story. With dto.Publish the story goes out immediately
// and subscribers are notified.
func (s *Service) Create(ctx context.Context, authorID *uint, dto *CreateStoryDTO) (*models.StoryModel, *notify.Report, error) {
	headline := strings.TrimSpace(dto.Headline)
	if headline == "" {
		return nil, nil, ErrHeadlineRequired
	}
	if err := s.checkCategory(ctx, dto.CategoryID); err != nil {
		return nil, nil, err
	}

	story := models.StoryModel{
		Author:     models.Author{AuthorID: authorID},
		Headline:   headline,
		Snippet:    strings.TrimSpace(dto.Snippet),
		Content:    dto.Content,
		ReadTime:   markdown.ReadTime(dto.Content),
		Status:     models.StoryDraft,
		Thumbnail:  strings.TrimSpace(dto.Thumbnail),
		CategoryID: dto.CategoryID,
	}
	if dto.Publish {
		now := s.now()
		story.Status = models.StoryPublished
		story.PublishedAt = &now
	}
	if err := s.db.WithContext(ctx).Create(&story).Error; err != nil {
		return nil, nil, fmt.Errorf("create story: %w", err)
	}

	var report *notify.Report
	if story.IsPublished() {
		report = s.announce(ctx, story.ID)
	}
	return &story, report, nil
}

// Publish marks a draft as published and notifies subscribers. Publishing a
// story that is already published changes nothing and sends no mail.
func (s *Service) Publish(ctx context.Context, id uint) (*models.StoryModel, *notify.Report, error) {
	story, err := s.Get(ctx, id, true)
	if err != nil {
		return nil, nil, err
	}
	if story.IsPublished() {
		return story, nil, nil
	}

	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.StoryModel{}).
		Where("id = ? AND status = ?", id, models.StoryDraft).
		Updates(map[string]any{"status": models.StoryPublished, "published_at": now})
	if res.Error != nil {
		return nil, nil, fmt.Errorf("publish story %d: %w", id, res.Error)
	}
	story.Status = models.StoryPublished
	story.PublishedAt = &now
	if res.RowsAffected == 0 {
		// A concurrent publish got there first and owns the notification.
		return story, nil, nil
	}
	return story, s.announce(ctx, id), nil
}

// Unpublish returns a story to draft. Readers stop seeing it immediately;
// mail already sent is not recalled.
func (s *Service) Unpublish(ctx context.Context, id uint) (*models.StoryModel, error) {
	story, err := s.Get(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if !story.IsPublished() {
		return story, nil
	}
	if err := s.db.WithContext(ctx).Model(&models.StoryModel{}).
		Where("id = ?", id).
		Update("status", models.StoryDraft).Error; err != nil {
		return nil, fmt.Errorf("unpublish story %d: %w", id, err)
	}
	story.Status = models.StoryDraft
	return story, nil
}

// Latest returns up to limit published stories, newest first.
func (s *Service) Latest(ctx context.Context, limit int) ([]models.StoryModel, error) {
	stories := []models.StoryModel{}
	err := s.db.WithContext(ctx).
		Where("status = ?", models.StoryPublished).
		Order("published_at DESC, id DESC").
		Limit(limit).
		Find(&stories).Error
	return stories, err
}

func (s *Service) announce(ctx context.Context, id uint) *notify.Report {
	if s.publisher == nil {
		return nil
	}
	report, err := s.publisher.NotifySubscribers(ctx, id)
	if err != nil {
		s.logger.Error("subscriber notification failed", zap.Uint("story", id), zap.Error(err))
		return nil
	}
	return report
}

// Get fetches a story. Drafts are only returned with includeDrafts.
func (s *Service) Get(ctx context.Context, id uint, includeDrafts bool) (*models.StoryModel, error) {
	var story models.StoryModel
	tx := s.db.WithContext(ctx).Preload("Category").Preload("Author").Where("id = ?", id)
	if !includeDrafts {
		tx = tx.Where("status = ?", models.StoryPublished)
	}
	if err := tx.First(&story).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &story, nil
}

// Story implements notify.StorySource.
func (s *Service) Story(ctx context.Context, id uint) (*models.StoryModel, error) {
	story, err := s.Get(ctx, id, true)
	if errors.Is(err, ErrNotFound) {
		return nil, notify.ErrStoryNotFound
	}
	return story, err
}

// List returns stories newest first. Readers only ever see published ones.
func (s *Service) List(ctx context.Context, q pagination.Query, lq ListQuery, includeDrafts bool) ([]models.StoryModel, response.Pagination, error) {
	tx := s.db.WithContext(ctx).Model(&models.StoryModel{}).
		Preload("Category").
		Preload("Author").
		Order("published_at DESC, created_at DESC, id DESC")

	status := models.StoryStatus(strings.ToUpper(strings.TrimSpace(lq.Status)))
	switch {
	case !includeDrafts:
		tx = tx.Where("status = ?", models.StoryPublished)
	case status == "":
	case status == models.StoryDraft || status == models.StoryPublished:
		tx = tx.Where("status = ?", status)
	default:
		return nil, response.Pagination{}, fmt.Errorf("%w: %q", ErrInvalidStatus, lq.Status)
	}
	if lq.Category != nil {
		tx = tx.Where("category_id = ?", *lq.Category)
	}
	if term := strings.TrimSpace(lq.Search); term != "" {
		like := "%" + term + "%"
		tx = tx.Where("headline LIKE ? OR snippet LIKE ? OR content LIKE ?", like, like, like)
	}

	stories := []models.StoryModel{}
	p, err := pagination.Paginate(tx, q, &stories)
	return stories, p, err
}

// Delete removes the story together with its attachments.
func (s *Service) Delete(ctx context.Context, id uint) error {
	if _, err := s.Get(ctx, id, true); err != nil {
		return err
	}
	deleteRow := func(tx *gorm.DB) error {
		return tx.Delete(&models.StoryModel{}, id).Error
	}
	if s.attachments == nil {
		return deleteRow(s.db.WithContext(ctx))
	}
	return s.attachments.DeleteFor(ctx, models.OwnerRef{Kind: models.OwnerStory, ID: id}, deleteRow)
}

// Resolve is the attachment owner resolver for stories.
func (s *Service) Resolve(ctx context.Context, id uint) (attachment.Entity, error) {
	story, err := s.Get(ctx, id, true)
	if errors.Is(err, ErrNotFound) {
		return attachment.Entity{}, attachment.ErrOwnerNotFound
	}
	if err != nil {
		return attachment.Entity{}, err
	}
	return attachment.Entity{
		Owner: models.OwnerRef{Kind: models.OwnerStory, ID: story.ID},
		Title: story.Headline,
	}, nil
}

func (s *Service) checkCategory(ctx context.Context, id *uint) error {
	if id == nil {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.CategoryModel{}).Where("id = ?", *id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrCategoryNotFound
	}
	return nil
}
