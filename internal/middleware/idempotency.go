package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

const (
	// HeaderIdempotencyKey names the client-chosen key of a retryable POST.
	HeaderIdempotencyKey = "Idempotency-Key"

	idempotencyPending = "PROCESSING"
	idempotencyLockTTL = 30 * time.Second
	idempotencyKeepTTL = 24 * time.Hour
	idempotencyMaxBody = 64 << 10
)

// Idempotency makes POST handlers safe to retry.  The first request with
// a given Idempotency-Key runs the handler and its response (anything
// below 500) is stored for a day; later requests with the same key get
// that response replayed with Idempotent-Replayed: true.  A retry that
// arrives while the first is still running is answered with 409.  Keys
// are scoped to the requester, and reusing a key with a different body
// is answered with 422.  Without a key, or without Redis, requests pass
// through.
func Idempotency(rdb redis.Cmdable, prefix string) echo.MiddlewareFunc {
	if rdb == nil {
		return passThrough
	}
	if prefix == "" {
		prefix = "idempotency"
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method != http.MethodPost {
				return next(c)
			}
			key := c.Request().Header.Get(HeaderIdempotencyKey)
			if key == "" {
				return next(c)
			}
			if len(key) > 128 {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "Idempotency-Key too long"})
			}
			ctx := c.Request().Context()
			rkey := prefix + ":" + c.Path() + ":" + requester(c) + ":" + key
			digest, err := bodyDigest(c.Request())
			if err != nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable request body"})
			}

			val, err := rdb.Get(ctx, rkey).Result()
			switch {
			case err == nil && val == idempotencyPending:
				return c.JSON(http.StatusConflict, echo.Map{"error": "request with this Idempotency-Key is in progress"})
			case err == nil:
				if s, ok := decodeResponse([]byte(val)); ok {
					if s.BodyHash != "" && s.BodyHash != digest {
						return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "Idempotency-Key was already used with a different request body"})
					}
					return replay(c, s, "Idempotent-Replayed", "true")
				}
				return next(c)
			case !errors.Is(err, redis.Nil):
				c.Logger().Warnf("idempotency: redis get %s: %v", rkey, err)
				return next(c)
			}

			acquired, err := rdb.SetNX(ctx, rkey, idempotencyPending, idempotencyLockTTL).Result()
			if err != nil {
				c.Logger().Warnf("idempotency: redis setnx %s: %v", rkey, err)
				return next(c)
			}
			if !acquired {
				return c.JSON(http.StatusConflict, echo.Map{"error": "request with this Idempotency-Key is in progress"})
			}

			cw := capture(c, idempotencyMaxBody)
			herr := next(c)
			bg := context.WithoutCancel(ctx)
			if herr != nil || cw.status >= http.StatusInternalServerError || cw.truncated {
				_ = rdb.Del(bg, rkey).Err()
				return herr
			}
			stored := snapshot(c, cw)
			stored.BodyHash = digest
			if payload, err := json.Marshal(stored); err == nil {
				_ = rdb.Set(bg, rkey, payload, idempotencyKeepTTL).Err()
			}
			return nil
		}
	}
}

// bodyDigest hashes the request body and puts it back for the handler.
func bodyDigest(req *http.Request) (string, error) {
	h := sha256.New()
	if req.Body == nil || req.Body == http.NoBody {
		return hex.EncodeToString(h.Sum(nil)), nil
	}
	raw, err := io.ReadAll(io.LimitReader(req.Body, idempotencyMaxBody))
	if err != nil {
		return "", err
	}
	req.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(raw), req.Body), req.Body}
	h.Write(raw)
	return hex.EncodeToString(h.Sum(nil)), nil
}
