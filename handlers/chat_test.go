package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"mosaic-api/llm"
	"mosaic-api/ratelimit"
	"mosaic-api/types"
)

func newChatRouter(upstream string, apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewChatHandler(
		llm.NewClient(apiKey, upstream, "test-model"),
		ratelimit.NewMemoryStore(ratelimit.DefaultConfig()),
	)
	r := gin.New()
	r.POST("/chat", h.Chat)
	r.OPTIONS("/chat", h.Options)
	return r
}

// fakeProvider mimics the completion API: one choice, fixed usage.
func fakeProvider(t *testing.T, status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req struct {
			Messages    []types.Message `json:"messages"`
			MaxTokens   int             `json:"max_tokens"`
			Temperature float64         `json:"temperature"`
			Stream      bool            `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, 500, req.MaxTokens)
		assert.InDelta(t, 0.7, req.Temperature, 1e-9)
		assert.False(t, req.Stream)
		assert.Equal(t, "system", req.Messages[0].Role, "persona prompt must come first")

		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"secret provider detail"}}`)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"hello there"}}],"usage":{"total_tokens":42}}`)
	}))
}

func postChat(r *gin.Engine, body, forwardedFor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestChatRejectsMissingMessages(t *testing.T) {
	provider := fakeProvider(t, http.StatusOK)
	defer provider.Close()
	r := newChatRouter(provider.URL, "key")

	for _, body := range []string{`{}`, `{"messages":"nope"}`, `not json`} {
		w := postChat(r, body, "9.9.9.9")
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
	}
}

func TestChatSuccess(t *testing.T) {
	provider := fakeProvider(t, http.StatusOK)
	defer provider.Close()
	r := newChatRouter(provider.URL, "key")

	w := postChat(r, `{"messages":[{"role":"user","content":"hi"}],"personality":"engineer"}`, "1.2.3.4")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	var resp types.ChatResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "hello there", resp.Response)
	assert.Equal(t, 42, resp.TokensUsed)
	assert.Equal(t, 19, resp.Remaining)
}

func TestChatQuotaDecrementsAndExhausts(t *testing.T) {
	provider := fakeProvider(t, http.StatusOK)
	defer provider.Close()
	r := newChatRouter(provider.URL, "key")

	body := `{"messages":[{"role":"user","content":"hi"}]}`
	for i := 0; i < 20; i++ {
		w := postChat(r, body, "1.2.3.4")
		assert.Equal(t, http.StatusOK, w.Code)
		var resp types.ChatResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 19-i, resp.Remaining)
	}

	w := postChat(r, body, "1.2.3.4")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "Rate limit exceeded")
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// A different identifier still has a full budget.
	w = postChat(r, body, "5.6.7.8")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChatUnknownClientsShareBucket(t *testing.T) {
	provider := fakeProvider(t, http.StatusOK)
	defer provider.Close()
	r := newChatRouter(provider.URL, "key")

	body := `{"messages":[{"role":"user","content":"hi"}]}`
	for i := 0; i < 20; i++ {
		w := postChat(r, body, "")
		assert.Equal(t, http.StatusOK, w.Code)
	}
	w := postChat(r, body, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestChatMissingAPIKey(t *testing.T) {
	provider := fakeProvider(t, http.StatusOK)
	defer provider.Close()
	r := newChatRouter(provider.URL, "")

	w := postChat(r, `{"messages":[{"role":"user","content":"hi"}]}`, "1.2.3.4")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), types.ErrorCodeUpstreamUnavailable)
}

func TestChatUpstreamRateLimited(t *testing.T) {
	provider := fakeProvider(t, http.StatusTooManyRequests)
	defer provider.Close()
	r := newChatRouter(provider.URL, "key")

	w := postChat(r, `{"messages":[{"role":"user","content":"hi"}]}`, "1.2.3.4")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), types.ErrorCodeUpstreamRateLimited)
}

func TestChatNeverLeaksProviderErrors(t *testing.T) {
	provider := fakeProvider(t, http.StatusBadGateway)
	defer provider.Close()
	r := newChatRouter(provider.URL, "key")

	w := postChat(r, `{"messages":[{"role":"user","content":"hi"}]}`, "1.2.3.4")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "secret provider detail")
}

func TestChatOptionsPreflight(t *testing.T) {
	r := newChatRouter("http://unused", "key")

	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
}

func TestChatRetryAfterIsPositive(t *testing.T) {
	provider := fakeProvider(t, http.StatusOK)
	defer provider.Close()

	gin.SetMode(gin.TestMode)
	h := NewChatHandler(
		llm.NewClient("key", provider.URL, "test-model"),
		ratelimit.NewMemoryStore(ratelimit.Config{Window: 2 * time.Second, Max: 1}),
	)
	r := gin.New()
	r.POST("/chat", h.Chat)

	body := `{"messages":[{"role":"user","content":"hi"}]}`
	w := postChat(r, body, "1.2.3.4")
	assert.Equal(t, http.StatusOK, w.Code)
	w = postChat(r, body, "1.2.3.4")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEqual(t, "0", w.Header().Get("Retry-After"))
}
