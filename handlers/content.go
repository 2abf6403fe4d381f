package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mosaic-api/cms"
	"mosaic-api/content"
	"mosaic-api/models"
	"mosaic-api/repository"
	"mosaic-api/types"
)

type ContentHandler struct {
	cache *content.Cache
	repo  *repository.ContentRepository
	cms   *cms.Client
}

func NewContentHandler(cache *content.Cache, repo *repository.ContentRepository, cmsClient *cms.Client) *ContentHandler {
	return &ContentHandler{cache: cache, repo: repo, cms: cmsClient}
}

// List returns every published entry, straight from Postgres.
func (h *ContentHandler) List(c *gin.Context) {
	entries, err := h.repo.ListPublished()
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.ErrorCodeInternal, err.Error()))
		return
	}
	c.JSON(http.StatusOK, types.NewSuccessResponse(entries))
}

// Get serves a single page through the content cache.
func (h *ContentHandler) Get(c *gin.Context) {
	slug := c.Param("slug")
	entry, err := h.cache.Get(slug)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.ErrorCodeInternal, err.Error()))
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.ErrorCodeNotFound, "Page not found"))
		return
	}
	c.JSON(http.StatusOK, types.NewSuccessResponse(entry))
}

// Sync pulls every entry from the CMS read API and mirrors it into
// Postgres, then flushes the cache so reads pick up the new versions.
func (h *ContentHandler) Sync(c *gin.Context) {
	entries, err := h.cms.ListEntries(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, types.NewErrorResponse(types.ErrorCodeUpstreamUnavailable, "CMS sync failed"))
		return
	}

	synced := 0
	for _, e := range entries {
		entry := &models.ContentEntry{
			Slug:   e.Slug,
			Title:  e.Title,
			Body:   e.Body,
			Status: e.Status,
		}
		if e.PublishedAt != "" {
			if t, err := time.Parse(time.RFC3339, e.PublishedAt); err == nil {
				entry.PublishedAt = &t
			}
		}
		if err := h.repo.Upsert(entry); err != nil {
			c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.ErrorCodeInternal, err.Error()))
			return
		}
		synced++
	}
	h.cache.Flush()

	c.JSON(http.StatusOK, types.NewSuccessResponse(gin.H{"synced": synced}))
}
