package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pkgerrors "codelab/pkg/errors"
	"codelab/pkg/utils/contextkey"
	"codelab/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleStudent = "STUDENT"
	RoleTeacher = "TEACHER"
	RoleAdmin   = "ADMIN"

	userIDContextKey   = "user_id"
	userRoleContextKey = "user_role"
)

// Principal is the verified caller of a request.
type Principal struct {
	UserID string
	Role   string
}

// TokenVerifier validates HS256 access tokens issued by the identity service.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

type tokenClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Verify parses raw and returns the caller it names.
func (v *TokenVerifier) Verify(raw string) (Principal, error) {
	if raw == "" || len(v.secret) == 0 {
		return Principal{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return Principal{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return Principal{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return Principal{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.TokenType != "access" || claims.Subject == "" {
		return Principal{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return Principal{UserID: claims.Subject, Role: strings.ToUpper(claims.Role)}, nil
}

// AuthMiddleware verifies the bearer token and stores the caller in the
// gin and request contexts.
func AuthMiddleware(verifier *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			response.AbortWithErrorCode(c, pkgerrors.ServiceUnavailable, "auth unavailable")
			return
		}
		principal, err := verifier.Verify(extractBearerToken(c.GetHeader("Authorization")))
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		c.Set(userIDContextKey, principal.UserID)
		c.Set(userRoleContextKey, principal.Role)
		ctx := context.WithValue(c.Request.Context(), contextkey.UserID, principal.UserID)
		ctx = context.WithValue(ctx, contextkey.UserRole, principal.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireRoles rejects callers whose role is not listed. Admins pass every
// check.
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := CurrentPrincipal(c)
		if !ok {
			response.AbortWithErrorCode(c, pkgerrors.Unauthorized, "")
			return
		}
		if principal.Role != RoleAdmin && !hasRole(principal.Role, roles) {
			response.AbortWithErrorCode(c, pkgerrors.Forbidden, "insufficient role")
			return
		}
		c.Next()
	}
}

// CurrentPrincipal returns the caller stored by AuthMiddleware.
func CurrentPrincipal(c *gin.Context) (Principal, bool) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		return Principal{}, false
	}
	return Principal{UserID: userID, Role: c.GetString(userRoleContextKey)}, true
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func hasRole(role string, allowed []string) bool {
	for _, item := range allowed {
		if strings.EqualFold(role, item) {
			return true
		}
	}
	return false
}
