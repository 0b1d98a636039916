// Package utils mints access tokens in the format the JWT middleware
// accepts.  Production tokens come from the auth service; this is used by
// tests and by cmd/devtoken for local work.
package utils

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/studio-booking/internal/model"
)

// AccessToken is a signed HS256 JWT and its expiry.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// NewAccessToken signs a token for actor.  sub is the member id as a
// decimal string, studio_id a number.
func NewAccessToken(secret string, a model.Actor, ttl time.Duration) (AccessToken, error) {
	if secret == "" {
		return AccessToken{}, errors.New("empty signing secret")
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":       strconv.FormatUint(a.MemberID, 10),
		"studio_id": a.StudioID,
		"role":      a.Role,
		"exp":       exp.Unix(),
		"iat":       now.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}
