// Package email sends transactional mail through the Resend HTTP API.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.resend.com"

type Config struct {
	APIKey  string
	From    string
	BaseURL string
	Timeout time.Duration
}

type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Result is Resend's reply. Mock is set when nothing was sent because the
// client is not configured.
type Result struct {
	ID   string `json:"id,omitempty"`
	Mock bool   `json:"mock,omitempty"`
}

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("resend api error: %s", http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("resend api error: %s (status: %d)", e.Message, e.StatusCode)
}

type Client struct {
	apiKey     string
	from       string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		apiKey:  cfg.APIKey,
		from:    cfg.From,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
	if cfg.BaseURL != "" {
		c.baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		c.httpClient.Timeout = cfg.Timeout
	}
	return c
}

func (c *Client) IsConfigured() bool {
	return c.apiKey != "" && c.from != ""
}

func (c *Client) Send(ctx context.Context, msg Message) (*Result, error) {
	if !c.IsConfigured() {
		c.logger.Warn("resend api key or from address not set, skipping email send",
			slog.String("subject", msg.Subject),
		)
		return &Result{Mock: true}, nil
	}

	body, err := json.Marshal(map[string]string{
		"from":    c.from,
		"to":      msg.To,
		"subject": msg.Subject,
		"html":    msg.HTML,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		json.Unmarshal(respBody, &apiErr)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: apiErr.Message}
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	c.logger.Debug("email sent", slog.String("id", result.ID), slog.String("subject", msg.Subject))
	return &result, nil
}

func (c *Client) SendOrderReceived(ctx context.Context, to, orderID, productName string) error {
	_, err := c.Send(ctx, Message{
		To:      to,
		Subject: "Order received: " + productName,
		HTML:    fmt.Sprintf("<h2>Order Received</h2><p>Order ID: %s</p>", html.EscapeString(orderID)),
	})
	return err
}

func (c *Client) SendOrderProcessed(ctx context.Context, to, productName, summary string) error {
	_, err := c.Send(ctx, Message{
		To:      to,
		Subject: "Order processed: " + productName,
		HTML:    fmt.Sprintf("<h2>Order Processed</h2><pre>%s</pre>", html.EscapeString(summary)),
	})
	return err
}

func (c *Client) SendMagicLink(ctx context.Context, to, link string) error {
	escaped := html.EscapeString(link)
	_, err := c.Send(ctx, Message{
		To:      to,
		Subject: "Your sign-in link",
		HTML: fmt.Sprintf(`<h2>Sign in</h2><p><a href="%s">%s</a></p><p>This link expires in 15 minutes and works once.</p>`,
			escaped, escaped),
	})
	return err
}
