package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mosaic-api/cms"
	"mosaic-api/models"
	"mosaic-api/pkg/events"
	"mosaic-api/pkg/notify"
	"mosaic-api/repository"
)

// Revalidator drops cached content for a site path. Satisfied by
// content.Cache.
type Revalidator interface {
	Revalidate(path string) error
}

// ContentStore is the write side the webhook needs; satisfied by
// repository.ContentRepository.
type ContentStore interface {
	Upsert(e *models.ContentEntry) error
	SetStatus(slug, status string) error
}

// WebhookHandler authenticates CMS deliveries and dispatches them to
// side-effecting handlers. All side effects are isolated: a failing one
// is logged and never fails the delivery or its siblings.
type WebhookHandler struct {
	secret            string
	revalidator       Revalidator
	contentStore      ContentStore
	notificationsRepo *repository.NotificationsRepository
	usersRepo         *repository.UsersRepository
	notifier          notify.Notifier
	deployHookURL     string
	notifyWebhookURL  string
	httpClient        *http.Client
}

func NewWebhookHandler(secret string, revalidator Revalidator, store ContentStore) *WebhookHandler {
	return &WebhookHandler{
		secret:       secret,
		revalidator:  revalidator,
		contentStore: store,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

// WithDeployHook configures the optional deployment-trigger URL.
func (h *WebhookHandler) WithDeployHook(url string) *WebhookHandler {
	h.deployHookURL = url
	return h
}

// WithChatNotification configures the optional chat-notification URL.
func (h *WebhookHandler) WithChatNotification(url string) *WebhookHandler {
	h.notifyWebhookURL = url
	return h
}

// WithNotifier wires realtime and persisted dashboard notifications.
func (h *WebhookHandler) WithNotifier(n notify.Notifier, notifs *repository.NotificationsRepository, users *repository.UsersRepository) *WebhookHandler {
	h.notifier = n
	h.notificationsRepo = notifs
	h.usersRepo = users
	return h
}

// Handle verifies the delivery signature against the raw body before
// any parsing, then routes on the event type. Unknown types are
// acknowledged without dispatch.
func (h *WebhookHandler) Handle(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read body"})
		return
	}

	sig := c.GetHeader(cms.SignatureHeader)
	if !cms.VerifySignature(raw, sig, h.secret) {
		slog.Warn("webhook signature rejected",
			"requestId", c.GetString("requestId"), "hasHeader", sig != "")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var ev cms.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		slog.Error("webhook payload unparsable", "requestId", c.GetString("requestId"), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid payload"})
		return
	}

	switch ev.Type {
	case cms.EventContentPublished:
		var data cms.ContentData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			slog.Error("content.published data unparsable", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid payload"})
			return
		}
		h.handlePublished(data)
	case cms.EventContentUnpublished:
		var data cms.ContentData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			slog.Error("content.unpublished data unparsable", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid payload"})
			return
		}
		h.setStatusAndRevalidate(data, models.ContentStatusDraft)
	case cms.EventContentArchived:
		var data cms.ContentData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			slog.Error("content.archived data unparsable", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid payload"})
			return
		}
		h.setStatusAndRevalidate(data, models.ContentStatusArchived)
	case cms.EventModelUpdated:
		slog.Info("cms model updated, nothing to mirror", "requestId", c.GetString("requestId"))
	default:
		slog.Info("unhandled webhook event", "type", ev.Type)
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handlePublished runs the three content.published side effects. They
// are order-insensitive and individually isolated.
func (h *WebhookHandler) handlePublished(data cms.ContentData) {
	h.revalidate(data)
	h.triggerDeploy(data)
	h.notifyChat(data)
}

func (h *WebhookHandler) revalidate(data cms.ContentData) {
	if h.contentStore != nil {
		now := time.Now().UTC()
		entry := &models.ContentEntry{
			Slug:        data.Slug,
			Title:       data.Title,
			Body:        data.Body,
			Status:      models.ContentStatusPublished,
			PublishedAt: &now,
		}
		if err := h.contentStore.Upsert(entry); err != nil {
			slog.Error("content upsert failed", "slug", data.Slug, "err", err)
		}
	}
	if h.revalidator != nil {
		if err := h.revalidator.Revalidate(data.Path()); err != nil {
			slog.Error("revalidation failed", "path", data.Path(), "err", err)
		}
	}
}

func (h *WebhookHandler) setStatusAndRevalidate(data cms.ContentData, status string) {
	if h.contentStore != nil {
		if err := h.contentStore.SetStatus(data.Slug, status); err != nil {
			slog.Error("content status update failed", "slug", data.Slug, "err", err)
		}
	}
	if h.revalidator != nil {
		if err := h.revalidator.Revalidate(data.Path()); err != nil {
			slog.Error("revalidation failed", "path", data.Path(), "err", err)
		}
	}
}

func (h *WebhookHandler) triggerDeploy(data cms.ContentData) {
	if h.deployHookURL == "" {
		return
	}
	resp, err := h.httpClient.Post(h.deployHookURL, "application/json", bytes.NewReader([]byte("{}")))
	if err != nil {
		slog.Error("deploy hook failed", "err", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		slog.Error("deploy hook rejected", "status", resp.StatusCode)
		return
	}
	slog.Info("deploy triggered", "slug", data.Slug)
}

func (h *WebhookHandler) notifyChat(data cms.ContentData) {
	if h.notifyWebhookURL != "" {
		body, _ := json.Marshal(map[string]string{
			"text": "Published: " + data.Title + " (" + data.Path() + ")",
		})
		resp, err := h.httpClient.Post(h.notifyWebhookURL, "application/json", bytes.NewReader(body))
		if err != nil {
			slog.Error("chat notification failed", "err", err)
		} else {
			resp.Body.Close()
		}
	}

	if h.notifier == nil {
		return
	}
	event := events.NewContentPublished(data.Slug, data.Title, data.Path())
	h.notifier.BroadcastEvent(event)
	if h.notificationsRepo != nil && h.usersRepo != nil {
		ids, err := h.usersRepo.ListUserIDs()
		if err != nil {
			slog.Error("notification fan-out failed", "err", err)
			return
		}
		payload, _ := json.Marshal(event)
		for _, id := range ids {
			if err := h.notificationsRepo.Create(id, "content.published", payload); err != nil {
				slog.Error("notification insert failed", "user", id, "err", err)
			}
		}
	}
}
