package db

import (
	"time"
)

type OrderStatus string

const (
	OrderStatusReceived  OrderStatus = "RECEIVED"
	OrderStatusProcessed OrderStatus = "PROCESSED"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// MagicLink stores only a digest of the emailed token.
type MagicLink struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	TokenHash string     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type Order struct {
	ID            string      `json:"id"`
	CustomerEmail string      `json:"customer_email"`
	ProductName   string      `json:"product_name"`
	Status        OrderStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

type AIRequest struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"order_id"`
	Prompt        string    `json:"prompt"`
	OpenAIRaw     string    `json:"openai_raw"`
	OpenAISummary string    `json:"openai_summary"`
	CreatedAt     time.Time `json:"created_at"`
}

type OrderFilter struct {
	CustomerEmail string
	Limit         int
	Offset        int
}

func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
