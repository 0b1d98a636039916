// Package middleware holds the echo middleware of the HTTP surface:
// identity from access tokens, role checks, the Redis token bucket, the
// availability cache and request logging with metrics.
package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-booking/internal/model"
)

// JWTAuth validates an HS256 Bearer token issued by the auth collaborator
// and stores the resulting model.Actor in the context.  The token must carry
// sub (member id), studio_id and role claims.
func JWTAuth(secret string) echo.MiddlewareFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyFunc := func(*jwt.Token) (interface{}, error) { return []byte(secret), nil }

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			claims := jwt.MapClaims{}
			tok, err := parser.ParseWithClaims(raw, claims, keyFunc)
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			actor, ok := actorFromClaims(claims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}
			SetActor(c, actor)
			return next(c)
		}
	}
}

func actorFromClaims(claims jwt.MapClaims) (model.Actor, bool) {
	member, ok := claimUint(claims["sub"])
	if !ok || member == 0 {
		return model.Actor{}, false
	}
	studio, ok := claimUint(claims["studio_id"])
	if !ok || studio == 0 {
		return model.Actor{}, false
	}
	role, _ := claims["role"].(string)
	role = strings.ToUpper(role)
	if role != model.RoleMember && role != model.RoleStaff {
		return model.Actor{}, false
	}
	return model.Actor{MemberID: member, StudioID: studio, Role: role}, true
}

// claimUint accepts ids encoded as JSON numbers or decimal strings.
func claimUint(v interface{}) (uint64, bool) {
	switch t := v.(type) {
	case float64:
		if t < 0 || t != float64(uint64(t)) {
			return 0, false
		}
		return uint64(t), true
	case json.Number:
		n, err := strconv.ParseUint(t.String(), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseUint(t, 10, 64)
		return n, err == nil
	}
	return 0, false
}
