package sitemap

import (
	"context"
	"encoding/xml"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newsdigest/core/internal/models"
	"github.com/newsdigest/core/internal/pkg/response"
)

const perKindLimit = 1000

type StorySource interface {
	Latest(ctx context.Context, limit int) ([]models.StoryModel, error)
}

type VacancySource interface {
	Visible(ctx context.Context, limit int) ([]models.VacancyModel, error)
}

type NoticeSource interface {
	Visible(ctx context.Context, limit int) ([]models.NoticeModel, error)
}

type Handler struct {
	siteURL   string
	stories   StorySource
	vacancies VacancySource
	notices   NoticeSource
	now       func() time.Time
}

func NewHandler(siteURL string, stories StorySource, vacancies VacancySource, notices NoticeSource) *Handler {
	return &Handler{siteURL: siteURL, stories: stories, vacancies: vacancies, notices: notices, now: time.Now}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/sitemap.xml", h.render)
	rg.GET("/sitemap", h.render)
}

func (h *Handler) render(c *gin.Context) {
	set, err := h.Build(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	body, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		response.InternalError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", append([]byte(xml.Header), body...))
}

type URLSet struct {
	XMLName xml.Name `xml:"http://www.sitemaps.org/schemas/sitemap/0.9 urlset"`
	URLs    []URL    `xml:"url"`
}

type URL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod"`
	ChangeFreq string `xml:"changefreq"`
	Priority   string `xml:"priority"`
}

func entry(loc string, mod time.Time, freq, priority string) URL {
	return URL{Loc: loc, LastMod: mod.Format(time.DateOnly), ChangeFreq: freq, Priority: priority}
}

// Build lists the home page and everything readers can currently open.
func (h *Handler) Build(ctx context.Context) (URLSet, error) {
	set := URLSet{URLs: []URL{entry(h.siteURL+"/", h.now(), "daily", "1.0")}}

	stories, err := h.stories.Latest(ctx, perKindLimit)
	if err != nil {
		return set, err
	}
	for _, s := range stories {
		set.URLs = append(set.URLs, entry(h.siteURL+models.StoryPagePath(s.ID), s.UpdatedAt, "weekly", "0.8"))
	}

	vacancies, err := h.vacancies.Visible(ctx, perKindLimit)
	if err != nil {
		return set, err
	}
	for _, v := range vacancies {
		set.URLs = append(set.URLs, entry(h.siteURL+models.VacancyPagePath(v.ID), v.UpdatedAt, "daily", "0.6"))
	}

	notices, err := h.notices.Visible(ctx, perKindLimit)
	if err != nil {
		return set, err
	}
	for _, n := range notices {
		set.URLs = append(set.URLs, entry(h.siteURL+models.NoticePagePath(n.ID), n.UpdatedAt, "daily", "0.5"))
	}
	return set, nil
}
