package feed

import (
	"context"
	"encoding/xml"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newsdigest/core/internal/models"
	"github.com/newsdigest/core/internal/modules/processing/markdown"
	"github.com/newsdigest/core/internal/pkg/response"
)

const itemLimit = 20

// StorySource lists the newest published stories.
type StorySource interface {
	Latest(ctx context.Context, limit int) ([]models.StoryModel, error)
}

type Site struct {
	URL         string
	Name        string
	Description string
}

type Handler struct {
	stories StorySource
	site    Site
	now     func() time.Time
}

func NewHandler(stories StorySource, site Site) *Handler {
	return &Handler{stories: stories, site: site, now: time.Now}
}

// RegisterRoutes mounts RSS and Atom feed endpoints.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/feed", func(c *gin.Context) {
		h.render(c, c.DefaultQuery("type", "rss"))
	})
	rg.GET("/feed.xml", func(c *gin.Context) { h.render(c, "rss") })
	rg.GET("/atom.xml", func(c *gin.Context) { h.render(c, "atom") })
}

type item struct {
	Title   string
	Link    string
	GUID    string
	PubDate time.Time
	Summary string
	Content string
}

func (h *Handler) items(ctx context.Context) ([]item, error) {
	stories, err := h.stories.Latest(ctx, itemLimit)
	if err != nil {
		return nil, err
	}
	out := make([]item, 0, len(stories))
	for _, s := range stories {
		published := s.CreatedAt
		if s.PublishedAt != nil {
			published = *s.PublishedAt
		}
		html := markdown.Render(s.Content)
		summary := s.Snippet
		if summary == "" {
			summary = markdown.PlainExcerpt(s.Content, 200)
		}
		out = append(out, item{
			Title:   s.Headline,
			Link:    h.site.URL + models.StoryPagePath(s.ID),
			GUID:    s.SystemID(),
			PubDate: published,
			Summary: summary,
			Content: html,
		})
	}
	return out, nil
}

func (h *Handler) render(c *gin.Context, kind string) {
	items, err := h.items(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}

	var (
		doc         any
		contentType string
	)
	switch kind {
	case "atom":
		doc, contentType = buildAtom(h.site, items, h.now()), "application/atom+xml; charset=utf-8"
	default:
		doc, contentType = buildRSS(h.site, items, h.now()), "application/rss+xml; charset=utf-8"
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		response.InternalError(c, err)
		return
	}
	c.Data(http.StatusOK, contentType, append([]byte(xml.Header), body...))
}

type cdata struct {
	Text string `xml:",cdata"`
}

type rssDoc struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	LastBuildDate string    `xml:"lastBuildDate"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string  `xml:"title"`
	Link        string  `xml:"link"`
	GUID        rssGUID `xml:"guid"`
	PubDate     string  `xml:"pubDate"`
	Description cdata   `xml:"description"`
}

type rssGUID struct {
	IsPermaLink bool   `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

func buildRSS(site Site, items []item, now time.Time) rssDoc {
	doc := rssDoc{
		Version: "2.0",
		Channel: rssChannel{
			Title:         site.Name,
			Link:          site.URL,
			Description:   site.Description,
			LastBuildDate: now.Format(time.RFC1123Z),
		},
	}
	for _, it := range items {
		doc.Channel.Items = append(doc.Channel.Items, rssItem{
			Title:       it.Title,
			Link:        it.Link,
			GUID:        rssGUID{Value: it.GUID},
			PubDate:     it.PubDate.Format(time.RFC1123Z),
			Description: cdata{Text: it.Summary},
		})
	}
	return doc
}

type atomDoc struct {
	XMLName  xml.Name    `xml:"http://www.w3.org/2005/Atom feed"`
	Title    string      `xml:"title"`
	Subtitle string      `xml:"subtitle,omitempty"`
	Link     atomLink    `xml:"link"`
	Updated  string      `xml:"updated"`
	ID       string      `xml:"id"`
	Entries  []atomEntry `xml:"entry"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
}

type atomEntry struct {
	Title   string      `xml:"title"`
	Link    atomLink    `xml:"link"`
	ID      string      `xml:"id"`
	Updated string      `xml:"updated"`
	Summary string      `xml:"summary,omitempty"`
	Content atomContent `xml:"content"`
}

type atomContent struct {
	Type string `xml:"type,attr"`
	Body string `xml:",cdata"`
}

func buildAtom(site Site, items []item, now time.Time) atomDoc {
	doc := atomDoc{
		Title:    site.Name,
		Subtitle: site.Description,
		Link:     atomLink{Href: site.URL},
		Updated:  now.Format(time.RFC3339),
		ID:       site.URL + "/",
	}
	for _, it := range items {
		doc.Entries = append(doc.Entries, atomEntry{
			Title:   it.Title,
			Link:    atomLink{Href: it.Link},
			ID:      it.Link,
			Updated: it.PubDate.Format(time.RFC3339),
			Summary: it.Summary,
			Content: atomContent{Type: "html", Body: it.Content},
		})
	}
	return doc
}
