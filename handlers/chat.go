package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mosaic-api/llm"
	"mosaic-api/ratelimit"
	"mosaic-api/types"
)

// ChatHandler proxies the public marketing-site chat widget to the
// hosted completion API, behind a per-client window quota.
type ChatHandler struct {
	llm     *llm.Client
	limiter ratelimit.Store
}

func NewChatHandler(client *llm.Client, limiter ratelimit.Store) *ChatHandler {
	return &ChatHandler{llm: client, limiter: limiter}
}

// The widget is embedded on arbitrary pages, so /chat answers with
// wildcard CORS instead of the dashboard allowlist.
func setChatCORS(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type")
}

// Options answers the widget's preflight with 200.
func (h *ChatHandler) Options(c *gin.Context) {
	setChatCORS(c)
	c.Status(http.StatusOK)
}

// clientIdentifier derives the quota key from the forwarded-address
// header. Clients with no detectable address all share the "unknown"
// bucket; that pooling is a known weakness, kept as-is.
func clientIdentifier(c *gin.Context) string {
	fwd := c.GetHeader("X-Forwarded-For")
	if fwd == "" {
		return "unknown"
	}
	if i := strings.IndexByte(fwd, ','); i >= 0 {
		fwd = fwd[:i]
	}
	return strings.TrimSpace(fwd)
}

// Chat validates the conversation, charges the client's quota, resolves
// the persona and forwards to the completion API.
func (h *ChatHandler) Chat(c *gin.Context) {
	setChatCORS(c)

	var req types.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Messages == nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.ErrorCodeInvalidRequest, "messages array is required"))
		return
	}

	res, err := h.limiter.Allow(c.Request.Context(), clientIdentifier(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.ErrorCodeInternal, "rate limit check failed"))
		return
	}
	if !res.Allowed {
		retry := int(time.Until(res.ResetAt).Seconds())
		if retry < 1 {
			retry = 1
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		c.JSON(http.StatusTooManyRequests, types.NewErrorResponse(types.ErrorCodeRateLimited, "Rate limit exceeded. Please try again later."))
		return
	}

	persona := llm.ResolvePersona(req.Personality)
	messages := append([]types.Message{{Role: "system", Content: persona.SystemPrompt}}, req.Messages...)

	completion, err := h.llm.Complete(c.Request.Context(), messages)
	if err != nil {
		switch {
		case errors.Is(err, llm.ErrNoAPIKey):
			c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.ErrorCodeUpstreamUnavailable, "Chat service is not configured"))
		case errors.Is(err, llm.ErrRateLimited):
			c.JSON(http.StatusTooManyRequests, types.NewErrorResponse(types.ErrorCodeUpstreamRateLimited, "Chat service is busy, please retry shortly"))
		default:
			// Provider error text is never echoed to the caller.
			c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.ErrorCodeUpstreamUnavailable, "Chat service is temporarily unavailable"))
		}
		return
	}

	c.JSON(http.StatusOK, types.ChatResponse{
		Response:   completion.Content,
		TokensUsed: completion.TokensUsed,
		Remaining:  res.Remaining,
	})
}
