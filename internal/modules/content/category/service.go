package category

import (
	"context"
	"errors"
	"strings"

	"github.com/newsdigest/core/internal/models"
	"gorm.io/gorm"
)

var (
	ErrNameRequired = errors.New("name is required")
	ErrNameTaken    = errors.New("category name already exists")
	ErrNotFound     = errors.New("category not found")
)

type CreateCategoryDTO struct {
	Name string `json:"name" binding:"required"`
}

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) List(ctx context.Context) ([]models.CategoryModel, error) {
	cats := []models.CategoryModel{}
	return cats, s.db.WithContext(ctx).Order("name ASC").Find(&cats).Error
}

func (s *Service) Get(ctx context.Context, id uint) (*models.CategoryModel, error) {
	var cat models.CategoryModel
	if err := s.db.WithContext(ctx).First(&cat, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cat, nil
}

func (s *Service) Create(ctx context.Context, dto *CreateCategoryDTO) (*models.CategoryModel, error) {
	name := strings.TrimSpace(dto.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.CategoryModel{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrNameTaken
	}

	cat := models.CategoryModel{Name: name}
	return &cat, s.db.WithContext(ctx).Create(&cat).Error
}

// Delete removes the category and detaches its stories.
func (s *Service) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.StoryModel{}).Where("category_id = ?", id).Update("category_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&models.CategoryModel{}, id).Error
	})
}
