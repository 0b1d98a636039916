package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/studio-booking/internal/config"
	"github.com/iliyamo/studio-booking/internal/metrics"
	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/utils"
)

const testSecret = "test-secret"

func token(t *testing.T, a model.Actor) string {
	t.Helper()
	tok, err := utils.NewAccessToken(testSecret, a, time.Hour)
	require.NoError(t, err)
	return tok.Token
}

func do(e *echo.Echo, method, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func whoami(c echo.Context) error {
	a, _ := ActorFrom(c)
	return c.JSON(http.StatusOK, a)
}

func TestJWTAuth(t *testing.T) {
	e := echo.New()
	e.GET("/me", whoami, JWTAuth(testSecret))

	member := model.Actor{MemberID: 7, StudioID: 3, Role: model.RoleMember}
	rec := do(e, http.MethodGet, "/me", token(t, member))
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Actor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, member, got)

	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/me", "not-a-jwt").Code)

	other, err := utils.NewAccessToken("another-secret", member, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/me", other.Token).Code)
}

func TestJWTAuth_RejectsIncompleteClaims(t *testing.T) {
	e := echo.New()
	e.GET("/me", whoami, JWTAuth(testSecret))

	sign := func(claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		return s
	}
	exp := time.Now().Add(time.Hour).Unix()
	cases := map[string]jwt.MapClaims{
		"no studio":    {"sub": "7", "role": "MEMBER", "exp": exp},
		"unknown role": {"sub": "7", "studio_id": 3, "role": "OWNER", "exp": exp},
		"zero member":  {"sub": "0", "studio_id": 3, "role": "MEMBER", "exp": exp},
		"expired":      {"sub": "7", "studio_id": 3, "role": "MEMBER", "exp": time.Now().Add(-time.Minute).Unix()},
	}
	for name, claims := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/me", sign(claims)).Code)
		})
	}

	// Lower-case roles and numeric subjects are accepted.
	rec := do(e, http.MethodGet, "/me", sign(jwt.MapClaims{"sub": 7, "studio_id": "3", "role": "staff", "exp": exp}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Role":"STAFF"`)
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	e.GET("/staff", whoami, JWTAuth(testSecret), RequireRole(model.RoleStaff))

	member := token(t, model.Actor{MemberID: 7, StudioID: 3, Role: model.RoleMember})
	staff := token(t, model.Actor{MemberID: 8, StudioID: 3, Role: model.RoleStaff})

	assert.Equal(t, http.StatusForbidden, do(e, http.MethodGet, "/staff", member).Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/staff", staff).Code)
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestTokenBucket_LimitsPerMember(t *testing.T) {
	rdb := newRedis(t)
	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Minute,
		TTL:            10 * time.Minute,
		KeyStrategy:    "member",
		Prefix:         "rl",
	}
	e := echo.New()
	e.GET("/ping", whoami, JWTAuth(testSecret), NewTokenBucket(cfg, rdb, nil))

	alice := token(t, model.Actor{MemberID: 1, StudioID: 1, Role: model.RoleMember})
	bob := token(t, model.Actor{MemberID: 2, StudioID: 1, Role: model.RoleMember})

	first := do(e, http.MethodGet, "/ping", alice)
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/ping", alice).Code)

	limited := do(e, http.MethodGet, "/ping", alice)
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))
	assert.Contains(t, limited.Body.String(), "too_many_requests")

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/ping", bob).Code, "buckets are per member")
}

func TestTokenBucket_DisabledOrNoRedisPassesThrough(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, Prefix: "rl"}
	e := echo.New()
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, NewTokenBucket(cfg, nil, nil))
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusNoContent, do(e, http.MethodGet, "/ping", "").Code)
	}
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/classes/4/reservations", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.9")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/classes/:id/reservations")
	SetActor(c, model.Actor{MemberID: 42, StudioID: 1, Role: model.RoleMember})

	cfg := config.RateLimitConfig{Prefix: "rl"}
	assert.Equal(t, "rl:ip:10.0.0.9:member:42:route:POST /v1/classes/:id/reservations", buildRateKey(cfg, c))
	cfg.KeyStrategy = "ip"
	assert.Equal(t, "rl:ip:10.0.0.9", buildRateKey(cfg, c))
	cfg.KeyStrategy = "member"
	assert.Equal(t, "rl:member:42", buildRateKey(cfg, c))
}

func TestAvailabilityCache(t *testing.T) {
	rdb := newRedis(t)
	cache := NewAvailabilityCache(config.CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "cache", MaxBodyBytes: 1 << 16}, rdb, nil)
	require.NotNil(t, cache)

	calls := 0
	e := echo.New()
	e.GET("/classes/:id/availability", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, echo.Map{"calls": calls})
	}, JWTAuth(testSecret), cache.Middleware())

	studio1 := token(t, model.Actor{MemberID: 1, StudioID: 1, Role: model.RoleMember})
	studio2 := token(t, model.Actor{MemberID: 2, StudioID: 2, Role: model.RoleMember})

	miss := do(e, http.MethodGet, "/classes/5/availability", studio1)
	require.Equal(t, http.StatusOK, miss.Code)
	assert.Equal(t, "MISS", miss.Header().Get("X-Cache"))

	hit := do(e, http.MethodGet, "/classes/5/availability", studio1)
	require.Equal(t, http.StatusOK, hit.Code)
	assert.Equal(t, "HIT", hit.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"calls":1}`, hit.Body.String())
	assert.Contains(t, hit.Header().Get(echo.HeaderContentType), "application/json")

	other := do(e, http.MethodGet, "/classes/5/availability", studio2)
	assert.Equal(t, "MISS", other.Header().Get("X-Cache"), "entries are per studio")

	cache.Invalidate(context.Background(), 1, 5)
	after := do(e, http.MethodGet, "/classes/5/availability", studio1)
	assert.Equal(t, "MISS", after.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"calls":3}`, after.Body.String())
}

func TestAvailabilityCache_KeysOnParsedClassID(t *testing.T) {
	rdb := newRedis(t)
	cache := NewAvailabilityCache(config.CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "cache", MaxBodyBytes: 1 << 16}, rdb, nil)

	calls := 0
	e := echo.New()
	e.GET("/classes/:id/availability", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, echo.Map{"calls": calls})
	}, JWTAuth(testSecret), cache.Middleware())
	tok := token(t, model.Actor{MemberID: 1, StudioID: 1, Role: model.RoleMember})

	first := do(e, http.MethodGet, "/classes/007/availability", tok)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	n, err := rdb.Exists(context.Background(), "cache:availability:1:7").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Equal(t, "HIT", do(e, http.MethodGet, "/classes/7/availability", tok).Header().Get("X-Cache"))

	cache.Invalidate(context.Background(), 1, 7)
	after := do(e, http.MethodGet, "/classes/007/availability", tok)
	assert.Equal(t, "MISS", after.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"calls":2}`, after.Body.String())

	bad := do(e, http.MethodGet, "/classes/abc/availability", tok)
	assert.Empty(t, bad.Header().Get("X-Cache"))
	assert.Equal(t, 3, calls)
}

func TestAvailabilityCache_SkipsErrors(t *testing.T) {
	rdb := newRedis(t)
	cache := NewAvailabilityCache(config.CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "cache"}, rdb, nil)

	e := echo.New()
	e.GET("/classes/:id/availability", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found"})
	}, JWTAuth(testSecret), cache.Middleware())

	tok := token(t, model.Actor{MemberID: 1, StudioID: 1, Role: model.RoleMember})
	do(e, http.MethodGet, "/classes/9/availability", tok)
	rec := do(e, http.MethodGet, "/classes/9/availability", tok)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))

	n, err := rdb.Exists(context.Background(), "cache:availability:1:9").Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAvailabilityCache_NilIsNoop(t *testing.T) {
	var cache *AvailabilityCache
	assert.Nil(t, NewAvailabilityCache(config.CacheConfig{Enabled: false}, nil, nil))
	cache.Invalidate(context.Background(), 1, 1)

	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.String(http.StatusOK, "x") }, cache.Middleware())
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/x", "").Code)
}

func TestPayloadRoundTrip(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"a":1}`))
	require.NoError(t, err)
	status, gotHdr, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "application/json", gotHdr.Get("Content-Type"))
	assert.Equal(t, `{"a":1}`, string(body))

	_, _, _, ok = decodePayload([]byte{0, 1})
	assert.False(t, ok)
}

func TestObserve_RecordsRouteMetrics(t *testing.T) {
	m := metrics.New()
	e := echo.New()
	e.Use(Observe(nil, m))
	e.GET("/items/:id", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	e.GET("/teapot", func(c echo.Context) error { return echo.NewHTTPError(http.StatusTeapot) })

	do(e, http.MethodGet, "/items/1", "")
	do(e, http.MethodGet, "/items/2", "")
	assert.Equal(t, http.StatusTeapot, do(e, http.MethodGet, "/teapot", "").Code)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(body)
	assert.True(t, strings.Contains(out, `method="GET",path="/items/:id",status_code="204"} 2`), out)
	assert.True(t, strings.Contains(out, `method="GET",path="/teapot",status_code="418"} 1`), out)
}
