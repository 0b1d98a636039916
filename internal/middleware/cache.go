package middleware

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/config"
)

// captureWriter copies the response body (up to limit bytes) while
// forwarding it to the client.
type captureWriter struct {
	http.ResponseWriter
	status    int
	buf       bytes.Buffer
	size      int64
	limit     int64
	truncated bool
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.limit > 0 && cw.size+int64(len(b)) > cw.limit {
		cw.truncated = true
	} else {
		cw.buf.Write(b)
	}
	cw.size += int64(len(b))
	return cw.ResponseWriter.Write(b)
}

// encodePayload packs [4 bytes status][4 bytes header length][header JSON][body].
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	hdrJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(hdrJSON)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
	copy(out[8:], hdrJSON)
	copy(out[8+len(hdrJSON):], body)
	return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
	if len(bs) < 8 {
		return 0, nil, nil, false
	}
	status = int(binary.BigEndian.Uint32(bs[0:4]))
	hlen := int(binary.BigEndian.Uint32(bs[4:8]))
	if 8+hlen > len(bs) {
		return 0, nil, nil, false
	}
	header = make(http.Header)
	if hlen > 0 {
		if err := json.Unmarshal(bs[8:8+hlen], &header); err != nil {
			return 0, nil, nil, false
		}
	}
	return status, header, bs[8+hlen:], true
}

// AvailabilityCache caches class availability responses in Redis per
// studio and class.  Writes that move seats call Invalidate.  A nil
// *AvailabilityCache is valid and caches nothing.
type AvailabilityCache struct {
	cfg config.CacheConfig
	rdb *redis.Client
	log *zap.Logger
}

// NewAvailabilityCache returns nil when caching is disabled or Redis is
// unavailable.
func NewAvailabilityCache(cfg config.CacheConfig, rdb *redis.Client, log *zap.Logger) *AvailabilityCache {
	if !cfg.Enabled || rdb == nil {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AvailabilityCache{cfg: cfg, rdb: rdb, log: log.Named("cache")}
}

func (a *AvailabilityCache) key(studioID, classID uint64) string {
	return fmt.Sprintf("%s:availability:%d:%d", a.cfg.Prefix, studioID, classID)
}

// Middleware serves cached 200 responses for GET requests on a route with
// an :id class parameter, and stores fresh ones.  The key includes the
// actor's studio so tenants never see each other's entries.
func (a *AvailabilityCache) Middleware() echo.MiddlewareFunc {
	if a == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := ActorFrom(c)
			if !ok || c.Request().Method != http.MethodGet {
				return next(c)
			}
			// Keyed on the parsed id so "007" and "7" share the entry
			// Invalidate drops.
			classID, err := strconv.ParseUint(c.Param("id"), 10, 64)
			if err != nil {
				return next(c)
			}
			ctx := c.Request().Context()
			key := a.key(actor.StudioID, classID)

			if bs, err := a.rdb.Get(ctx, key).Bytes(); err == nil {
				if status, hdr, body, ok := decodePayload(bs); ok {
					for k, vals := range hdr {
						if strings.EqualFold(k, echo.HeaderContentLength) {
							continue
						}
						for _, v := range vals {
							c.Response().Header().Add(k, v)
						}
					}
					c.Response().Header().Set("X-Cache", "HIT")
					c.Response().WriteHeader(status)
					_, err := c.Response().Write(body)
					return err
				}
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: int64(a.cfg.MaxBodyBytes)}
			c.Response().Writer = cw
			c.Response().Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			if cw.status != http.StatusOK || cw.truncated {
				return nil
			}
			hdr := c.Response().Header().Clone()
			hdr.Del("X-Cache")
			payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes())
			if err != nil {
				return nil
			}
			if err := a.rdb.Set(context.WithoutCancel(ctx), key, payload, a.cfg.TTL).Err(); err != nil {
				a.log.Warn("cache store failed", zap.String("key", key), zap.Error(err))
			}
			return nil
		}
	}
}

// Invalidate drops the cached availability of a class.
func (a *AvailabilityCache) Invalidate(ctx context.Context, studioID, classID uint64) {
	if a == nil {
		return
	}
	key := a.key(studioID, classID)
	if err := a.rdb.Del(ctx, key).Err(); err != nil {
		a.log.Warn("cache invalidate failed", zap.String("key", key), zap.Error(err))
	}
}
