package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("record not found")

// Repositories groups the table operations over one database handle.
type Repositories struct {
	Users      *UserOperations
	MagicLinks *MagicLinkOperations
	Orders     *OrderOperations
	AIRequests *AIRequestOperations
}

func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Users:      &UserOperations{db: db},
		MagicLinks: &MagicLinkOperations{db: db},
		Orders:     &OrderOperations{db: db},
		AIRequests: &AIRequestOperations{db: db},
	}
}

type UserOperations struct {
	db *sql.DB
}

// GetOrCreate returns the user with the given email, creating it first if
// needed. Concurrent calls for the same email yield the same user.
func (o *UserOperations) GetOrCreate(ctx context.Context, email string) (*User, error) {
	if _, err := o.db.ExecContext(ctx, InsertUserIgnore, uuid.NewString(), email, toUnix(time.Now())); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return o.scan(o.db.QueryRowContext(ctx, GetUserByEmail, email))
}

func (o *UserOperations) GetByID(ctx context.Context, id string) (*User, error) {
	return o.scan(o.db.QueryRowContext(ctx, GetUserByID, id))
}

func (o *UserOperations) scan(row *sql.Row) (*User, error) {
	u := &User{}
	var created int64
	if err := row.Scan(&u.ID, &u.Email, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.CreatedAt = fromUnix(created)
	return u, nil
}

type MagicLinkOperations struct {
	db *sql.DB
}

func (o *MagicLinkOperations) Create(ctx context.Context, link *MagicLink) error {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	_, err := o.db.ExecContext(ctx, InsertMagicLink,
		link.ID, link.UserID, link.TokenHash, toUnix(link.ExpiresAt), toUnix(link.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create magic link: %w", err)
	}
	return nil
}

func (o *MagicLinkOperations) GetByTokenHash(ctx context.Context, tokenHash string) (*MagicLink, error) {
	l := &MagicLink{}
	var expires, created int64
	var used sql.NullInt64
	err := o.db.QueryRowContext(ctx, GetMagicLinkByTokenHash, tokenHash).Scan(
		&l.ID, &l.UserID, &l.TokenHash, &expires, &used, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get magic link: %w", err)
	}
	l.ExpiresAt = fromUnix(expires)
	l.CreatedAt = fromUnix(created)
	if used.Valid {
		t := fromUnix(used.Int64)
		l.UsedAt = &t
	}
	return l, nil
}

// MarkUsed stamps used_at if the link is still unused and reports whether it
// did. Only one caller can win for a given link.
func (o *MagicLinkOperations) MarkUsed(ctx context.Context, id string, usedAt time.Time) (bool, error) {
	result, err := o.db.ExecContext(ctx, MarkMagicLinkUsed, toUnix(usedAt), id)
	if err != nil {
		return false, fmt.Errorf("failed to mark magic link used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark magic link used: %w", err)
	}
	return n == 1, nil
}

type OrderOperations struct {
	db *sql.DB
}

func (o *OrderOperations) Create(ctx context.Context, order *Order) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now
	if order.Status == "" {
		order.Status = OrderStatusReceived
	}

	_, err := o.db.ExecContext(ctx, InsertOrder,
		order.ID, order.CustomerEmail, order.ProductName, string(order.Status),
		toUnix(order.CreatedAt), toUnix(order.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (o *OrderOperations) GetByID(ctx context.Context, id string) (*Order, error) {
	order, err := scanOrder(o.db.QueryRowContext(ctx, GetOrderByID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

func (o *OrderOperations) UpdateStatus(ctx context.Context, id string, status OrderStatus) error {
	result, err := o.db.ExecContext(ctx, UpdateOrderStatus, string(status), toUnix(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (o *OrderOperations) List(ctx context.Context, filter OrderFilter) ([]*Order, error) {
	var conditions []string
	var args []interface{}

	if filter.CustomerEmail != "" {
		conditions = append(conditions, "customer_email = ?")
		args = append(args, filter.CustomerEmail)
	}

	query := ListOrders
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := 100
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := o.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*Order, error) {
	order := &Order{}
	var status string
	var created, updated int64
	if err := row.Scan(&order.ID, &order.CustomerEmail, &order.ProductName, &status, &created, &updated); err != nil {
		return nil, err
	}
	order.Status = OrderStatus(status)
	order.CreatedAt = fromUnix(created)
	order.UpdatedAt = fromUnix(updated)
	return order, nil
}

type AIRequestOperations struct {
	db *sql.DB
}

func (o *AIRequestOperations) Create(ctx context.Context, r *AIRequest) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := o.db.ExecContext(ctx, InsertAIRequest,
		r.ID, r.OrderID, r.Prompt, r.OpenAIRaw, r.OpenAISummary, toUnix(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create ai request: %w", err)
	}
	return nil
}

func (o *AIRequestOperations) ListByOrder(ctx context.Context, orderID string) ([]*AIRequest, error) {
	rows, err := o.db.QueryContext(ctx, ListAIRequestsByOrder, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ai requests: %w", err)
	}
	defer rows.Close()

	var requests []*AIRequest
	for rows.Next() {
		r := &AIRequest{}
		var created int64
		if err := rows.Scan(&r.ID, &r.OrderID, &r.Prompt, &r.OpenAIRaw, &r.OpenAISummary, &created); err != nil {
			return nil, fmt.Errorf("failed to scan ai request: %w", err)
		}
		r.CreatedAt = fromUnix(created)
		requests = append(requests, r)
	}
	return requests, rows.Err()
}
