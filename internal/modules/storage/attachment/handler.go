package attachment

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newsdigest/core/internal/models"
	"github.com/newsdigest/core/internal/pkg/response"
)

// View is the public shape of an attachment.
type View struct {
	ID          uint      `json:"id"`
	OwnerKind   string    `json:"owner_kind"`
	OwnerID     uint      `json:"owner_id"`
	FileName    string    `json:"file_name"`
	FileType    string    `json:"file_type"`
	ContentType string    `json:"content_type"`
	FileSize    int64     `json:"file_size"`
	SizeDisplay string    `json:"size_display"`
	IsImage     bool      `json:"is_image"`
	IsPDF       bool      `json:"is_pdf"`
	IsDocument  bool      `json:"is_document"`
	Order       int       `json:"order"`
	URL         string    `json:"url"`
	DownloadURL string    `json:"download_url"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

func (s *Store) view(a models.AttachmentModel) View {
	return View{
		ID:          a.ID,
		OwnerKind:   string(a.OwnerKind),
		OwnerID:     a.OwnerID,
		FileName:    a.FileName,
		FileType:    a.FileType,
		ContentType: a.ContentType,
		FileSize:    a.FileSize,
		SizeDisplay: a.SizeDisplay(),
		IsImage:     a.IsImage(),
		IsPDF:       a.IsPDF(),
		IsDocument:  a.IsDocument(),
		Order:       a.Order,
		URL:         s.URL(a),
		DownloadURL: fmt.Sprintf("/api/v1/attachments/file/%d", a.ID),
		UploadedAt:  a.UploadedAt,
	}
}

// Views maps rows to their public shape.
func (s *Store) Views(rows []models.AttachmentModel) []View {
	out := make([]View, 0, len(rows))
	for _, r := range rows {
		out = append(out, s.view(r))
	}
	return out
}

// Handler exposes attachments over HTTP.
type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/attachments")
	g.GET("/file/:attachmentID", h.download)
	g.GET("/:kind/:id", h.list)
	g.POST("/:kind/:id", authMW, h.upload)
	g.DELETE("/:attachmentID", authMW, h.delete)
}

func parseOwner(c *gin.Context) (models.OwnerRef, bool) {
	kind, err := models.ParseOwnerKind(c.Param("kind"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return models.OwnerRef{}, false
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid owner id")
		return models.OwnerRef{}, false
	}
	return models.OwnerRef{Kind: kind, ID: uint(id)}, true
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid attachment id")
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) list(c *gin.Context) {
	owner, ok := parseOwner(c)
	if !ok {
		return
	}
	rows, err := h.store.ListFor(c.Request.Context(), owner)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, h.store.Views(rows))
}

func (h *Handler) upload(c *gin.Context) {
	owner, ok := parseOwner(c)
	if !ok {
		return
	}
	uploads := FormUploads(c)
	if len(uploads) == 0 {
		response.BadRequest(c, "no files uploaded")
		return
	}

	rows, err := h.store.AttachMany(c.Request.Context(), owner, uploads)
	switch {
	case errors.Is(err, ErrOwnerNotFound):
		response.NotFoundMsg(c, err.Error())
		return
	case errors.Is(err, models.ErrInvalidOwnerKind), errors.Is(err, ErrEmptyName):
		response.BadRequest(c, err.Error())
		return
	case err != nil:
		response.InternalError(c, err)
		return
	}
	response.Created(c, gin.H{"data": h.store.Views(rows)})
}

func (h *Handler) download(c *gin.Context) {
	id, ok := parseID(c, "attachmentID")
	if !ok {
		return
	}
	row, rc, err := h.store.Open(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c)
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	defer rc.Close()

	disposition := "attachment"
	if row.IsImage() || row.IsPDF() {
		disposition = "inline"
	}
	c.DataFromReader(http.StatusOK, row.FileSize, row.ContentType, rc, map[string]string{
		"Content-Disposition": fmt.Sprintf("%s; filename*=UTF-8''%s", disposition, url.PathEscape(row.FileName)),
		"Cache-Control":       "public, max-age=3600",
	})
}

func (h *Handler) delete(c *gin.Context) {
	id, ok := parseID(c, "attachmentID")
	if !ok {
		return
	}
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}

// FormUploads collects the files of a multipart request, sent as "files" or
// "file". It returns nil when the request carries none.
func FormUploads(c *gin.Context) []Upload {
	form, err := c.MultipartForm()
	if err != nil || form == nil {
		return nil
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		headers = form.File["file"]
	}
	uploads := make([]Upload, 0, len(headers))
	for _, fh := range headers {
		uploads = append(uploads, fromFileHeader(fh))
	}
	return uploads
}

func fromFileHeader(fh *multipart.FileHeader) Upload {
	return Upload{
		Name:        fh.Filename,
		Size:        fh.Size,
		ContentType: fh.Header.Get("Content-Type"),
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}
