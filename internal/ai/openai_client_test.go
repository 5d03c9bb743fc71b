package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateOrderSummaryWithoutKeyReturnsMock(t *testing.T) {
	c := NewOpenAIClient(Config{}, nil)

	s := c.GenerateOrderSummary(context.Background(), "Lamp", "a@example.com")
	assert.Equal(t, "Analyze order: Lamp for a@example.com", s.Prompt)
	assert.JSONEq(t, `{"mock":true}`, s.Raw)
	assert.Equal(t, "Mock summary: Order for Lamp received. Standard shipping recommended.", s.Text)
	assert.Equal(t, DefaultModel, c.Model())
}

func TestGenerateOrderSummaryCallsChatCompletions(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cmpl-1","choices":[{"message":{"role":"assistant","content":"Ship it ground."}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{APIKey: "sk-test", Model: "gpt-4o", BaseURL: srv.URL + "/"}, nil)
	s := c.GenerateOrderSummary(context.Background(), "Lamp", "a@example.com")

	assert.Equal(t, "Ship it ground.", s.Text)
	assert.Contains(t, s.Raw, `"cmpl-1"`)
	assert.Contains(t, s.Prompt, "- Product: Lamp\n- Email: a@example.com\n")

	assert.Equal(t, "gpt-4o", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "Return short, structured results.", got.Messages[0].Content)
	assert.Equal(t, s.Prompt, got.Messages[1].Content)
}

func TestGenerateOrderSummaryFoldsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{APIKey: "bad", BaseURL: srv.URL}, nil)
	s := c.GenerateOrderSummary(context.Background(), "Lamp", "a@example.com")

	assert.Contains(t, s.Text, "Error generating summary: openai api error: Incorrect API key")

	var raw map[string]string
	require.NoError(t, json.Unmarshal([]byte(s.Raw), &raw))
	assert.Contains(t, raw["error"], "Incorrect API key")
}

func TestGenerateOrderSummaryEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	s := c.GenerateOrderSummary(context.Background(), "Lamp", "a@example.com")
	assert.Equal(t, "", s.Text)
}
