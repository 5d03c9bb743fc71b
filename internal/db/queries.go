package db

const (
	InsertUserIgnore = `
		INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)
		ON CONFLICT(email) DO NOTHING
	`

	GetUserByEmail = `SELECT id, email, created_at FROM users WHERE email = ?`

	GetUserByID = `SELECT id, email, created_at FROM users WHERE id = ?`
)

const (
	InsertMagicLink = `
		INSERT INTO magic_links (id, user_id, token_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	GetMagicLinkByTokenHash = `
		SELECT id, user_id, token_hash, expires_at, used_at, created_at
		FROM magic_links WHERE token_hash = ?
	`

	MarkMagicLinkUsed = `UPDATE magic_links SET used_at = ? WHERE id = ? AND used_at IS NULL`
)

const (
	InsertOrder = `
		INSERT INTO orders (id, customer_email, product_name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	GetOrderByID = `
		SELECT id, customer_email, product_name, status, created_at, updated_at
		FROM orders WHERE id = ?
	`

	UpdateOrderStatus = `UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`

	ListOrders = `
		SELECT id, customer_email, product_name, status, created_at, updated_at
		FROM orders
	`
)

const (
	InsertAIRequest = `
		INSERT INTO ai_requests (id, order_id, prompt, openai_raw, openai_summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	ListAIRequestsByOrder = `
		SELECT id, order_id, prompt, openai_raw, openai_summary, created_at
		FROM ai_requests WHERE order_id = ? ORDER BY created_at ASC
	`
)
