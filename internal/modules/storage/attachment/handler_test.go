package attachment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/newsdigest/core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(f.store).RegisterRoutes(r.Group("/api/v1"), func(c *gin.Context) { c.Next() })
	return r
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, body := range files {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestHandlerUploadListDownloadDelete(t *testing.T) {
	vacancy := models.OwnerRef{Kind: models.OwnerVacancy, ID: 5}
	f := newFixture(t, vacancy)
	r := newRouter(f)

	body, ct := multipartBody(t, map[string]string{"report.pdf": "%PDF-1.4"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attachments/vacancy/5", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/attachments/vacancies/5", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []View `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	got := list.Data[0]
	assert.Equal(t, "report.pdf", got.FileName)
	assert.True(t, got.IsPDF)
	assert.Equal(t, "8 B", got.SizeDisplay)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/attachments/file/%d", got.ID), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-1.4", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "inline")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/v1/attachments/%d", got.ID), nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/attachments/999", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestHandlerRejects(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/attachments/users/1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, ct := multipartBody(t, map[string]string{"a.txt": "x"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attachments/story/77", body)
	req.Header.Set("Content-Type", ct)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/attachments/file/31", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
