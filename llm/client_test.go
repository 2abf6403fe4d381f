package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"mosaic-api/types"
)

func TestCompleteRequiresAPIKey(t *testing.T) {
	c := NewClient("", "http://unused", "")
	_, err := c.Complete(context.Background(), []types.Message{{Role: "user", Content: "hi"}})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestCompleteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"hey"}}],"usage":{"total_tokens":7}}`)
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL, "test-model")
	out, err := c.Complete(context.Background(), []types.Message{{Role: "user", Content: "hi"}})
	assert.NoError(t, err)
	assert.Equal(t, "hey", out.Content)
	assert.Equal(t, 7, out.TokensUsed)
}

func TestCompleteMapsProviderThrottling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL, "")
	_, err := c.Complete(context.Background(), []types.Message{{Role: "user", Content: "hi"}})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestCompleteHidesProviderErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"internal provider detail"}}`)
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL, "")
	_, err := c.Complete(context.Background(), []types.Message{{Role: "user", Content: "hi"}})
	assert.Error(t, err)
	assert.NotContains(t, err.Error(), "internal provider detail")
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[],"usage":{"total_tokens":0}}`)
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL, "")
	_, err := c.Complete(context.Background(), []types.Message{{Role: "user", Content: "hi"}})
	assert.Error(t, err)
}

func TestResolvePersona(t *testing.T) {
	assert.Equal(t, "engineer", ResolvePersona("engineer").Name)
	assert.Equal(t, "default", ResolvePersona("").Name)
	assert.Equal(t, "default", ResolvePersona("nonexistent").Name)
	assert.NotEmpty(t, ResolvePersona("nonexistent").SystemPrompt)
}
