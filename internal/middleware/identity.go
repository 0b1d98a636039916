package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-booking/internal/model"
)

// actorKey is the echo context key holding the authenticated model.Actor.
const actorKey = "actor"

// SetActor stores a in the request context.
func SetActor(c echo.Context, a model.Actor) {
	c.Set(actorKey, a)
}

// ActorFrom returns the actor stored by JWTAuth.
func ActorFrom(c echo.Context) (model.Actor, bool) {
	a, ok := c.Get(actorKey).(model.Actor)
	return a, ok
}

// memberID returns the authenticated member id as a string, or "anon".
func memberID(c echo.Context) string {
	a, ok := ActorFrom(c)
	if !ok || a.MemberID == 0 {
		return "anon"
	}
	return strconv.FormatUint(a.MemberID, 10)
}
