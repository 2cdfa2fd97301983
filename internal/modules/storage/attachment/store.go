package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/newsdigest/core/internal/models"
	"github.com/newsdigest/core/internal/modules/storage/blob"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrOwnerNotFound = errors.New("attachment owner not found")
	ErrNotFound      = errors.New("attachment not found")
	ErrEmptyName     = errors.New("attachment file name is empty")
)

// Entity is what a Locator resolves an owner reference to.
type Entity struct {
	Owner models.OwnerRef
	Title string
}

// Locator resolves owners. It returns ErrOwnerNotFound for an unknown id.
type Locator interface {
	Locate(ctx context.Context, kind models.OwnerKind, id uint) (Entity, error)
}

// Upload describes one incoming file.
type Upload struct {
	Name        string
	Size        int64
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// Store keeps attachment rows in the database and their bytes in blob
// storage. A file name is unique per owner; re-uploading it replaces the
// bytes of the existing row.
type Store struct {
	db      *gorm.DB
	blobs   blob.Storage
	locator Locator
	logger  *zap.Logger
	now     func() time.Time

	locks sync.Map // models.OwnerRef -> *sync.Mutex
}

func NewStore(db *gorm.DB, blobs blob.Storage, locator Locator, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:      db,
		blobs:   blobs,
		locator: locator,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Store) lock(owner models.OwnerRef) func() {
	v, _ := s.locks.LoadOrStore(owner, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Attach stores f for owner, overwriting an existing attachment of the same
// file name.
func (s *Store) Attach(ctx context.Context, owner models.OwnerRef, f Upload) (*models.AttachmentModel, error) {
	if err := s.resolve(ctx, owner); err != nil {
		return nil, err
	}
	name := baseName(f.Name)
	if name == "" {
		return nil, ErrEmptyName
	}
	if f.Open == nil {
		return nil, fmt.Errorf("attachment %q has no content", name)
	}

	unlock := s.lock(owner)
	defer unlock()

	key, size, contentType, err := s.write(ctx, name, f)
	if err != nil {
		return nil, err
	}

	var (
		row    models.AttachmentModel
		oldKey string
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("owner_kind = ? AND owner_id = ? AND file_name = ?", owner.Kind, owner.ID, name).
			First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = models.AttachmentModel{
				OwnerKind:   owner.Kind,
				OwnerID:     owner.ID,
				FilePath:    key,
				FileName:    name,
				FileSize:    size,
				FileType:    models.FileTypeOf(name),
				ContentType: contentType,
				UploadedAt:  s.now(),
			}
			return tx.Create(&row).Error
		case err != nil:
			return err
		}

		oldKey = row.FilePath
		row.FilePath = key
		row.FileSize = size
		row.FileType = models.FileTypeOf(name)
		row.ContentType = contentType
		return tx.Model(&row).Select("file_path", "file_size", "file_type", "content_type").Updates(&row).Error
	})
	if err != nil {
		s.removeBlob(ctx, key)
		return nil, fmt.Errorf("save attachment %q: %w", name, err)
	}

	if oldKey != "" {
		s.logger.Info("attachment replaced",
			zap.Stringer("owner", owner),
			zap.String("file", name),
			zap.Uint("id", row.ID),
		)
		s.removeBlob(ctx, oldKey)
	}
	return &row, nil
}

// AttachMany attaches files in order. Repeated names collapse onto one row
// holding the last file's bytes.
func (s *Store) AttachMany(ctx context.Context, owner models.OwnerRef, files []Upload) ([]models.AttachmentModel, error) {
	out := make([]models.AttachmentModel, 0, len(files))
	index := make(map[uint]int, len(files))
	for _, f := range files {
		row, err := s.Attach(ctx, owner, f)
		if err != nil {
			return out, err
		}
		if i, ok := index[row.ID]; ok {
			out[i] = *row
			continue
		}
		index[row.ID] = len(out)
		out = append(out, *row)
	}
	return out, nil
}

// ListFor returns an owner's attachments by order, then upload time.
func (s *Store) ListFor(ctx context.Context, owner models.OwnerRef) ([]models.AttachmentModel, error) {
	if !owner.Kind.Valid() {
		return nil, models.ErrInvalidOwnerKind
	}
	var rows []models.AttachmentModel
	err := s.db.WithContext(ctx).
		Where("owner_kind = ? AND owner_id = ?", owner.Kind, owner.ID).
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: clause.Column{Name: "order"}},
			{Column: clause.Column{Name: "uploaded_at"}},
			{Column: clause.Column{Name: "id"}},
		}}).
		Find(&rows).Error
	return rows, err
}

func (s *Store) Get(ctx context.Context, id uint) (*models.AttachmentModel, error) {
	var row models.AttachmentModel
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Open returns the attachment row and a reader over its bytes.
func (s *Store) Open(ctx context.Context, id uint) (*models.AttachmentModel, io.ReadCloser, error) {
	row, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.blobs.Open(ctx, row.FilePath)
	if errors.Is(err, blob.ErrNotExist) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return row, rc, nil
}

// URL is the public address of the stored bytes.
func (s *Store) URL(row models.AttachmentModel) string {
	return s.blobs.URL(row.FilePath)
}

// Delete removes the row and its bytes. An unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id uint) error {
	row, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&models.AttachmentModel{}, row.ID).Error; err != nil {
		return fmt.Errorf("delete attachment %d: %w", id, err)
	}
	s.removeBlob(ctx, row.FilePath)
	return nil
}

// DeleteFor removes every attachment of owner. The extra steps run inside
// the same transaction as the row deletes, so an owner row and its
// attachments go away together; blobs are removed only after commit.
func (s *Store) DeleteFor(ctx context.Context, owner models.OwnerRef, with ...func(tx *gorm.DB) error) error {
	unlock := s.lock(owner)
	defer unlock()

	var rows []models.AttachmentModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, step := range with {
			if err := step(tx); err != nil {
				return err
			}
		}
		if err := tx.Where("owner_kind = ? AND owner_id = ?", owner.Kind, owner.ID).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Where("owner_kind = ? AND owner_id = ?", owner.Kind, owner.ID).
			Delete(&models.AttachmentModel{}).Error; err != nil {
			return fmt.Errorf("delete attachments of %s: %w", owner, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		s.removeBlob(ctx, row.FilePath)
	}
	s.logger.Info("attachments removed with owner", zap.Stringer("owner", owner), zap.Int("count", len(rows)))
	return nil
}

func (s *Store) resolve(ctx context.Context, owner models.OwnerRef) error {
	if !owner.Kind.Valid() {
		return fmt.Errorf("%w: %q", models.ErrInvalidOwnerKind, owner.Kind)
	}
	if _, err := s.locator.Locate(ctx, owner.Kind, owner.ID); err != nil {
		if errors.Is(err, ErrOwnerNotFound) {
			return fmt.Errorf("%w: %s", ErrOwnerNotFound, owner)
		}
		return err
	}
	return nil
}

func (s *Store) write(ctx context.Context, name string, f Upload) (string, int64, string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", 0, "", fmt.Errorf("open upload %q: %w", name, err)
	}
	defer rc.Close()

	key := blob.NewKey(name, s.now())
	contentType := blob.DetectContentType(name, f.ContentType)

	// Seekable uploads with a known size go straight through so S3 can sign
	// the payload; anything else is counted while streaming.
	if rs, ok := rc.(io.ReadSeeker); ok && f.Size >= 0 {
		if err := s.blobs.Save(ctx, key, rs, f.Size, contentType); err != nil {
			return "", 0, "", fmt.Errorf("store upload %q: %w", name, err)
		}
		return key, f.Size, contentType, nil
	}
	cr := &countingReader{r: rc}
	if err := s.blobs.Save(ctx, key, cr, -1, contentType); err != nil {
		return "", 0, "", fmt.Errorf("store upload %q: %w", name, err)
	}
	return key, cr.n, contentType, nil
}

func (s *Store) removeBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("blob delete failed", zap.String("key", key), zap.Error(err))
	}
}

func baseName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
