package subscribe

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/newsdigest/core/internal/models"
	"github.com/newsdigest/core/internal/pkg/mail"
	"github.com/newsdigest/core/internal/pkg/pagination"
	"github.com/newsdigest/core/internal/pkg/response"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const DefaultAdminPageSize = 50

var (
	ErrNameRequired = errors.New("name is required")
	ErrInvalidEmail = errors.New("enter a valid email address")
	ErrInvalidToken = errors.New("invalid verification token")
	ErrEmailTaken   = errors.New("email is already used by another subscriber")
	ErrNotFound     = errors.New("subscriber not found")
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Site identifies the public site in outgoing mail.
type Site struct {
	URL  string
	Name string
}

type Service struct {
	db     *gorm.DB
	mailer mail.Mailer
	site   Site
	logger *zap.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB, mailer mail.Mailer, site Site, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	site.URL = strings.TrimRight(site.URL, "/")
	return &Service{db: db, mailer: mailer, site: site, logger: logger, now: time.Now}
}

// NormalizeEmail trims and lowercases, then validates the address.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if !emailPattern.MatchString(email) {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// SubscribeResult reports the stored row and whether the verification mail
// went out.
type SubscribeResult struct {
	Subscriber *models.SubscriberModel
	MailSent   bool
	Renewed    bool
}

// Subscribe records name and email as an unverified, inactive subscriber and
// mails a fresh verification link. An existing row for the email is reset
// rather than duplicated.
func (s *Service) Subscribe(ctx context.Context, name, email string) (*SubscribeResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()
	sub, renewed, err := s.upsert(ctx, name, email, token)
	if err != nil {
		return nil, err
	}

	res := &SubscribeResult{Subscriber: sub, Renewed: renewed}
	if err := s.sendVerification(ctx, sub); err != nil {
		s.logger.Warn("verification mail failed", zap.String("email", email), zap.Error(err))
		return res, nil
	}
	res.MailSent = true
	return res, nil
}

func (s *Service) upsert(ctx context.Context, name, email, token string) (*models.SubscriberModel, bool, error) {
	var (
		sub     models.SubscriberModel
		renewed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("email = ?", email).First(&sub).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			sub = models.SubscriberModel{
				Email:             email,
				Name:              name,
				VerificationToken: token,
				SubscribedAt:      s.now(),
			}
			return tx.Create(&sub).Error
		}
		if err != nil {
			return err
		}

		renewed = true
		sub.Name = name
		sub.VerificationToken = token
		sub.IsVerified = false
		sub.IsActive = false
		sub.VerifiedAt = nil
		return tx.Model(&sub).Updates(map[string]any{
			"name":               name,
			"verification_token": token,
			"is_verified":        false,
			"is_active":          false,
			"verified_at":        nil,
		}).Error
	})
	if err != nil {
		return nil, false, fmt.Errorf("save subscriber: %w", err)
	}
	return &sub, renewed, nil
}

func (s *Service) sendVerification(ctx context.Context, sub *models.SubscriberModel) error {
	msg, err := mail.RenderVerify(sub.Email, mail.VerifyData{
		SiteName:  s.site.Name,
		Name:      sub.Name,
		VerifyURL: s.VerifyURL(sub.VerificationToken),
	})
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, msg)
}

func (s *Service) VerifyURL(token string) string {
	return s.site.URL + "/api/v1/subscribe/verify/" + url.PathEscape(token)
}

// UnsubscribeURL is the shared link placed in every newsletter.
func (s *Service) UnsubscribeURL() string {
	return s.site.URL + "/api/v1/subscribe/unsubscribe"
}

type VerifyOutcome int

const (
	Verified VerifyOutcome = iota + 1
	AlreadyVerified
)

// Verify activates the subscriber holding token.
func (s *Service) Verify(ctx context.Context, token string) (VerifyOutcome, *models.SubscriberModel, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, nil, ErrInvalidToken
	}

	var sub models.SubscriberModel
	err := s.db.WithContext(ctx).Where("verification_token = ?", token).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil, ErrInvalidToken
	}
	if err != nil {
		return 0, nil, err
	}
	if sub.IsVerified {
		return AlreadyVerified, &sub, nil
	}

	now := s.now()
	sub.IsVerified = true
	sub.IsActive = true
	sub.VerifiedAt = &now
	if err := s.db.WithContext(ctx).Model(&sub).Updates(map[string]any{
		"is_verified": true,
		"is_active":   true,
		"verified_at": now,
	}).Error; err != nil {
		return 0, nil, err
	}
	return Verified, &sub, nil
}

// Unsubscribe deactivates email. found is false for an unknown address.
func (s *Service) Unsubscribe(ctx context.Context, email string) (found bool, err error) {
	email, err = NormalizeEmail(email)
	if err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).Model(&models.SubscriberModel{}).
		Where("email = ?", email).
		Update("is_active", false)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	// MySQL reports zero affected rows when the value did not change.
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.SubscriberModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Eligible returns the addresses of active, verified subscribers in id order.
func (s *Service) Eligible(ctx context.Context) ([]string, error) {
	var emails []string
	err := s.db.WithContext(ctx).Model(&models.SubscriberModel{}).
		Where("is_active = ? AND is_verified = ?", true, true).
		Order("id").
		Pluck("email", &emails).Error
	return emails, err
}

// List searches email and name, newest first.
func (s *Service) List(ctx context.Context, search string, q pagination.Query) ([]models.SubscriberModel, response.Pagination, error) {
	db := s.db.WithContext(ctx).Model(&models.SubscriberModel{})
	if search = strings.TrimSpace(search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		db = db.Where("LOWER(email) LIKE ? OR LOWER(name) LIKE ?", like, like)
	}
	var subs []models.SubscriberModel
	p, err := pagination.Paginate(db.Order("subscribed_at DESC, id DESC"), q, &subs)
	return subs, p, err
}

type Stats struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Verified int64 `json:"verified"`
	Eligible int64 `json:"eligible"`
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx).Model(&models.SubscriberModel{})
	if err := db.Session(&gorm.Session{}).Count(&st.Total).Error; err != nil {
		return st, err
	}
	if err := db.Session(&gorm.Session{}).Where("is_active = ?", true).Count(&st.Active).Error; err != nil {
		return st, err
	}
	if err := db.Session(&gorm.Session{}).Where("is_verified = ?", true).Count(&st.Verified).Error; err != nil {
		return st, err
	}
	err := db.Session(&gorm.Session{}).Where("is_active = ? AND is_verified = ?", true, true).Count(&st.Eligible).Error
	return st, err
}

func (s *Service) Get(ctx context.Context, id uint) (*models.SubscriberModel, error) {
	var sub models.SubscriberModel
	err := s.db.WithContext(ctx).First(&sub, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpdateInput is the admin edit form.
type UpdateInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	IsVerified bool   `json:"is_verified"`
	IsActive   bool   `json:"is_active"`
}

func (s *Service) Update(ctx context.Context, id uint, in UpdateInput) (*models.SubscriberModel, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}

	var sub models.SubscriberModel
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&sub, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		var taken int64
		if err := tx.Model(&models.SubscriberModel{}).
			Where("email = ? AND id <> ?", email, id).
			Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return ErrEmailTaken
		}

		updates := map[string]any{
			"name":        name,
			"email":       email,
			"is_verified": in.IsVerified,
			"is_active":   in.IsActive,
		}
		switch {
		case in.IsVerified && sub.VerifiedAt == nil:
			updates["verified_at"] = s.now()
		case !in.IsVerified:
			updates["verified_at"] = nil
		}
		return tx.Model(&sub).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes the row. An unknown id is not an error.
func (s *Service) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&models.SubscriberModel{}, id).Error
}
