package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultModel   = "gpt-4o-mini"
	DefaultBaseURL = "https://api.openai.com/v1"

	systemPrompt = "Return short, structured results."
)

type OpenAIClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Summary is what an order analysis produced. Raw is the JSON response body,
// or a small JSON object describing the mock or the error.
type Summary struct {
	Prompt string
	Raw    string
	Text   string
}

type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

type APIError struct {
	StatusCode int
	Message    string
	Type       string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("openai api error: %s", http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("openai api error: %s (type: %s, status: %d)", e.Message, e.Type, e.StatusCode)
}

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

func NewOpenAIClient(cfg Config, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	c := &OpenAIClient{
		apiKey:  cfg.APIKey,
		model:   DefaultModel,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
	if cfg.Model != "" {
		c.model = cfg.Model
	}
	if cfg.BaseURL != "" {
		c.baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		c.httpClient.Timeout = cfg.Timeout
	}
	return c
}

// GenerateOrderSummary asks the model for an order summary and a shipping
// recommendation. It never fails: without an API key it returns a canned
// summary, and API errors are folded into the summary text.
func (c *OpenAIClient) GenerateOrderSummary(ctx context.Context, productName, customerEmail string) Summary {
	if !c.IsConfigured() {
		c.logger.Warn("openai api key not configured, returning mock summary")
		return Summary{
			Prompt: fmt.Sprintf("Analyze order: %s for %s", productName, customerEmail),
			Raw:    `{"mock":true}`,
			Text:   fmt.Sprintf("Mock summary: Order for %s received. Standard shipping recommended.", productName),
		}
	}

	prompt := buildPrompt(productName, customerEmail)

	raw, text, err := c.complete(ctx, prompt)
	if err != nil {
		c.logger.Error("openai request failed", slog.String("error", err.Error()))
		errRaw, _ := json.Marshal(map[string]string{"error": err.Error()})
		return Summary{
			Prompt: prompt,
			Raw:    string(errRaw),
			Text:   "Error generating summary: " + err.Error(),
		}
	}

	return Summary{Prompt: prompt, Raw: raw, Text: text}
}

func (c *OpenAIClient) complete(ctx context.Context, prompt string) (string, string, error) {
	body, err := json.Marshal(&ChatRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to read response: %w", err)
	}

	var chatResp ChatResponse
	parseErr := json.Unmarshal(respBody, &chatResp)

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if parseErr == nil && chatResp.Error != nil {
			apiErr.Message = chatResp.Error.Message
			apiErr.Type = chatResp.Error.Type
		}
		return "", "", apiErr
	}
	if parseErr != nil {
		return "", "", fmt.Errorf("failed to parse response: %w", parseErr)
	}

	var text string
	if len(chatResp.Choices) > 0 {
		text = chatResp.Choices[0].Message.Content
	}
	return string(respBody), text, nil
}

func buildPrompt(productName, customerEmail string) string {
	b := &strings.Builder{}
	b.WriteString("\nAnalyze this order:\n\n")
	fmt.Fprintf(b, "- Product: %s\n", productName)
	fmt.Fprintf(b, "- Email: %s\n", customerEmail)
	b.WriteString("\nReturn:\n- Order summary\n- Shipping recommendation\n")
	return b.String()
}

func (c *OpenAIClient) Model() string {
	return c.model
}

func (c *OpenAIClient) IsConfigured() bool {
	return c.apiKey != ""
}
