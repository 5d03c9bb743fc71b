package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/orderflow/backend/internal/auth"
)

const (
	CookieName = "orderflow_auth"
	claimsKey  = "claims"
)

type AuthMiddleware struct {
	signer    *auth.Signer
	secure    bool
	operators map[string]bool
}

// NewAuthMiddleware checks session tokens issued by signer. secure marks
// the session cookie Secure. operators lists the emails allowed on
// operator routes.
func NewAuthMiddleware(signer *auth.Signer, secure bool, operators []string) *AuthMiddleware {
	set := make(map[string]bool, len(operators))
	for _, email := range operators {
		if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
			set[email] = true
		}
	}
	return &AuthMiddleware{signer: signer, secure: secure, operators: set}
}

// getTokenFromRequest prefers the Authorization header. A header that is
// present but not a Bearer token yields no token.
func (a *AuthMiddleware) getTokenFromRequest(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || scheme != "Bearer" {
			return ""
		}
		return strings.TrimSpace(token)
	}

	if cookie, err := c.Cookie(CookieName); err == nil && cookie != "" {
		return cookie
	}

	return ""
}

func (a *AuthMiddleware) SetAuthCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, token, int(a.signer.TTL().Seconds()), "/", "", a.secure, true)
}

func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := a.getTokenFromRequest(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		claims, err := a.signer.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// IsOperator reports whether claims belong to an operator account.
func (a *AuthMiddleware) IsOperator(claims *auth.Claims) bool {
	return claims != nil && a.operators[strings.ToLower(claims.Email)]
}

// RequireOperator must run after RequireAuth.
func (a *AuthMiddleware) RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, _ := ClaimsFromContext(c)
		if !a.IsOperator(claims) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		c.Next()
	}
}

// ClaimsFromContext returns the claims RequireAuth stored on c.
func ClaimsFromContext(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}
