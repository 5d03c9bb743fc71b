package handlers

import (
	"bytes"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orderflow/backend/internal/api/middleware"
	"github.com/orderflow/backend/internal/auth"
)

var loginSuccessPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Login Success</title></head>
<body>
<h2>Login Success</h2>
<p>Email: {{.Email}}</p>
<p>JWT Token:</p>
<pre>{{.Token}}</pre>
</body>
</html>
`))

type MagicLinkRequest struct {
	Email string `json:"email" binding:"required"`
}

type MagicLinkResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
}

type AuthHandler struct {
	service    *auth.Service
	authMW     *middleware.AuthMiddleware
	exposeLink bool
	logger     *slog.Logger
}

// NewAuthHandler builds the login handlers. With exposeLink set the magic
// link is also returned in the response body, for setups without email
// delivery.
func NewAuthHandler(service *auth.Service, authMW *middleware.AuthMiddleware, exposeLink bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: service, authMW: authMW, exposeLink: exposeLink, logger: logger}
}

func (h *AuthHandler) RequestMagicLink(c *gin.Context) {
	var req MagicLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}

	url, err := h.service.CreateMagicLink(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidEmail) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
			return
		}
		h.logger.Error("failed to create magic link", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create magic link"})
		return
	}

	resp := MagicLinkResponse{
		Status:  "sent",
		Message: "Check your email",
	}
	if h.exposeLink {
		resp.URL = url
	}
	c.JSON(http.StatusOK, resp)
}

// VerifyMagicLink answers with a small HTML page showing the session token,
// which is also set as a cookie. Every failure reads "Invalid token".
func (h *AuthHandler) VerifyMagicLink(c *gin.Context) {
	token, email, err := h.service.VerifyMagicLink(c.Request.Context(), c.Query("token"))
	if err != nil {
		h.logger.Info("magic link rejected", slog.String("reason", err.Error()))
		c.String(http.StatusBadRequest, "Invalid token")
		return
	}

	var buf bytes.Buffer
	if err := loginSuccessPage.Execute(&buf, struct{ Email, Token string }{email, token}); err != nil {
		h.logger.Error("failed to render login page", slog.String("error", err.Error()))
		c.String(http.StatusInternalServerError, "Server error")
		return
	}

	h.authMW.SetAuthCookie(c, token)
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": claims.Email, "userId": claims.UserID})
}
