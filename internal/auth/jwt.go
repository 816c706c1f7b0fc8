// Package auth verifies and mints the bearer JWTs used by the admin surface
// (scopes platform_admin, tenant_operator) per spec §8.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	claimSubject  = "sub"
	claimTenantID = "tenant_id"
	claimScopes   = "scopes"

	// ScopePlatformAdmin grants access to every tenant's admin surface.
	ScopePlatformAdmin = "platform_admin"
	// ScopeTenantOperator grants access scoped to the claim's own tenant_id.
	ScopeTenantOperator = "tenant_operator"
)

// JWTMiddleware returns a JWT auth middleware configured for HS256 tokens.
func JWTMiddleware(secret string, skipper middleware.Skipper) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: "HS256",
		TokenLookup:   "header:Authorization:Bearer ,query:token",
		Skipper:       skipper,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return jwt.MapClaims{}
		},
	})
}

// Claims is the resolved identity of an admin-surface caller.
type Claims struct {
	Subject  string
	TenantID string
	Scopes   []string
}

// HasScope reports whether the caller carries the given scope.
func (c Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// FromContext extracts Claims from the JWT middleware's parsed token.
func FromContext(c echo.Context) (Claims, error) {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok || token == nil || !token.Valid {
		return Claims{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
	}
	claims := Claims{
		Subject:  claimString(mapClaims, claimSubject),
		TenantID: claimString(mapClaims, claimTenantID),
	}
	if raw, ok := mapClaims[claimScopes]; ok {
		switch v := raw.(type) {
		case []any:
			for _, s := range v {
				if str, ok := s.(string); ok {
					claims.Scopes = append(claims.Scopes, str)
				}
			}
		case string:
			claims.Scopes = strings.Fields(v)
		}
	}
	return claims, nil
}

// RequireScope returns an echo middleware that 403s any caller whose Claims
// lack scope.
func RequireScope(scope string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := FromContext(c)
			if err != nil {
				return err
			}
			if !claims.HasScope(scope) && !claims.HasScope(ScopePlatformAdmin) {
				return echo.NewHTTPError(http.StatusForbidden, "missing required scope "+scope)
			}
			return next(c)
		}
	}
}

// GenerateToken mints a signed admin JWT carrying subject, tenant_id (empty
// for platform_admin tokens not scoped to one tenant), and scopes.
func GenerateToken(subject, tenantID string, scopes []string, secret string, expiresIn time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, fmt.Errorf("subject is required")
	}
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, fmt.Errorf("jwt secret is required")
	}
	if expiresIn <= 0 {
		return "", time.Time{}, fmt.Errorf("jwt expires in must be positive")
	}

	now := time.Now().UTC()
	expiresAt := now.Add(expiresIn)
	claims := jwt.MapClaims{
		claimSubject:  subject,
		claimTenantID: tenantID,
		claimScopes:   scopes,
		"iat":         now.Unix(),
		"exp":         expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	raw, ok := claims[key]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(raw)
	}
}
