package middleware

import (
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-booking/internal/config"
	"github.com/iliyamo/bus-seat-booking/internal/utils"
)

func anyArgs(_, _ []interface{}) error { return nil }

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestIdempotencyStoresAndReplays(t *testing.T) {
	db, mock := redismock.NewClientMock()
	e := echo.New()
	calls := 0
	e.POST("/v1/bookings", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusCreated, echo.Map{"bookingId": "b-1"})
	}, Idempotency(db, "idem"))

	key := "idem:/v1/bookings:anon:k-1"
	mock.ExpectGet(key).RedisNil()
	mock.ExpectSetNX(key, idempotencyPending, idempotencyLockTTL).SetVal(true)
	mock.CustomMatch(anyArgs).ExpectSet(key, "", idempotencyKeepTTL).SetVal("OK")

	req := httptest.NewRequest(http.MethodPost, "/v1/bookings", nil)
	req.Header.Set(HeaderIdempotencyKey, "k-1")
	rec := serve(e, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())

	stored, err := json.Marshal(storedResponse{Status: http.StatusCreated, ContentType: echo.MIMEApplicationJSON, Body: rec.Body.Bytes()})
	require.NoError(t, err)
	mock.ExpectGet(key).SetVal(string(stored))

	req = httptest.NewRequest(http.MethodPost, "/v1/bookings", nil)
	req.Header.Set(HeaderIdempotencyKey, "k-1")
	replayed := serve(e, req)
	assert.Equal(t, http.StatusCreated, replayed.Code)
	assert.Equal(t, "true", replayed.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, rec.Body.String(), replayed.Body.String())
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyInProgressConflicts(t *testing.T) {
	db, mock := redismock.NewClientMock()
	e := echo.New()
	e.POST("/v1/payments", func(c echo.Context) error {
		t.Fatal("handler must not run")
		return nil
	}, Idempotency(db, "idem"))

	mock.ExpectGet("idem:/v1/payments:anon:k-2").SetVal(idempotencyPending)
	req := httptest.NewRequest(http.MethodPost, "/v1/payments", nil)
	req.Header.Set(HeaderIdempotencyKey, "k-2")
	assert.Equal(t, http.StatusConflict, serve(e, req).Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyForgetsServerErrors(t *testing.T) {
	db, mock := redismock.NewClientMock()
	e := echo.New()
	e.POST("/v1/bookings", func(c echo.Context) error {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}, Idempotency(db, "idem"))

	key := "idem:/v1/bookings:anon:k-3"
	mock.ExpectGet(key).RedisNil()
	mock.ExpectSetNX(key, idempotencyPending, idempotencyLockTTL).SetVal(true)
	mock.ExpectDel(key).SetVal(1)

	req := httptest.NewRequest(http.MethodPost, "/v1/bookings", nil)
	req.Header.Set(HeaderIdempotencyKey, "k-3")
	assert.Equal(t, http.StatusInternalServerError, serve(e, req).Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRejectsReusedKeyWithDifferentBody(t *testing.T) {
	db, mock := redismock.NewClientMock()
	e := echo.New()
	var seen []string
	e.POST("/v1/bookings", func(c echo.Context) error {
		raw, _ := io.ReadAll(c.Request().Body)
		seen = append(seen, string(raw))
		return c.JSON(http.StatusCreated, echo.Map{"bookingId": "b-1"})
	}, Idempotency(db, "idem"))

	key := "idem:/v1/bookings:s:sess-1:k-4"
	first := `{"tripId":"T","seats":["A1"]}`
	mock.ExpectGet(key).RedisNil()
	mock.ExpectSetNX(key, idempotencyPending, idempotencyLockTTL).SetVal(true)
	var payload string
	mock.CustomMatch(func(_, actual []interface{}) error {
		switch v := actual[2].(type) {
		case []byte:
			payload = string(v)
		case string:
			payload = v
		default:
			return fmt.Errorf("unexpected value %T", v)
		}
		return nil
	}).ExpectSet(key, "", idempotencyKeepTTL).SetVal("OK")

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/bookings", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set(HeaderIdempotencyKey, "k-4")
		req.Header.Set(HeaderSessionID, "sess-1")
		return serve(e, req)
	}
	require.Equal(t, http.StatusCreated, post(first).Code)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, []string{first}, seen, "handler must still see the full body")

	stored, ok := decodeResponse([]byte(payload))
	require.True(t, ok)
	require.NotEmpty(t, stored.BodyHash)

	mock.ExpectGet(key).SetVal(payload)
	assert.Equal(t, http.StatusUnprocessableEntity, post(`{"tripId":"T","seats":["A2"]}`).Code)

	mock.ExpectGet(key).SetVal(payload)
	rec := post(first)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("Idempotent-Replayed"))
	assert.Len(t, seen, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyKeysAreScopedToRequester(t *testing.T) {
	db, mock := redismock.NewClientMock()
	e := echo.New()
	e.POST("/v1/payments", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, Idempotency(db, "idem"))

	// another session holds k-5; this one must not collide with it
	key := "idem:/v1/payments:s:sess-2:k-5"
	mock.ExpectGet(key).RedisNil()
	mock.ExpectSetNX(key, idempotencyPending, idempotencyLockTTL).SetVal(true)
	mock.CustomMatch(anyArgs).ExpectSet(key, "", idempotencyKeepTTL).SetVal("OK")

	req := httptest.NewRequest(http.MethodPost, "/v1/payments", nil)
	req.Header.Set(HeaderIdempotencyKey, "k-5")
	req.Header.Set(HeaderSessionID, "sess-2")
	assert.Equal(t, http.StatusNoContent, serve(e, req).Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyWithoutKeyPassesThrough(t *testing.T) {
	db, mock := redismock.NewClientMock()
	e := echo.New()
	e.POST("/v1/bookings", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, Idempotency(db, ""))

	assert.Equal(t, http.StatusNoContent, serve(e, httptest.NewRequest(http.MethodPost, "/v1/bookings", nil)).Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheMissThenHit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute, Prefix: "cache", MaxBodyBytes: 1024}
	e := echo.New()
	e.GET("/v1/trips/:id", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"tripId": c.Param("id")})
	}, NewRedisCache(cfg, db))

	sum := sha1.Sum([]byte("GET /v1/trips/T1?"))
	key := fmt.Sprintf("cache:%x", sum[:])

	mock.ExpectGet(key).RedisNil()
	mock.CustomMatch(anyArgs).ExpectSet(key, "", time.Minute).SetVal("OK")
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/v1/trips/T1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	require.NoError(t, mock.ExpectationsWereMet())

	stored, _ := json.Marshal(storedResponse{Status: http.StatusOK, ContentType: echo.MIMEApplicationJSON, Body: rec.Body.Bytes()})
	mock.ExpectGet(key).SetVal(string(stored))
	hit := serve(e, httptest.NewRequest(http.MethodGet, "/v1/trips/T1", nil))
	assert.Equal(t, "HIT", hit.Header().Get("X-Cache"))
	assert.JSONEq(t, rec.Body.String(), hit.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheDisabledPassesThrough(t *testing.T) {
	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.String(http.StatusOK, "ok") }, NewRedisCache(config.CacheConfig{}, nil))
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Cache"))
}

func rateConfig() config.RateLimitConfig {
	return config.RateLimitConfig{Enabled: true, Capacity: 5, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute, Prefix: "rl"}
}

func TestTokenBucketAllowsAndDenies(t *testing.T) {
	db, mock := redismock.NewClientMock()
	e := echo.New()
	e.POST("/v1/trips/:id/lock-seats", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, NewTokenBucket(rateConfig(), db))

	mock.CustomMatch(anyArgs).ExpectEvalSha(tokenBucket.Hash(), []string{"k"}).SetVal([]interface{}{int64(1), int64(4), int64(0)})
	rec := serve(e, httptest.NewRequest(http.MethodPost, "/v1/trips/T1/lock-seats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))

	mock.CustomMatch(anyArgs).ExpectEvalSha(tokenBucket.Hash(), []string{"k"}).SetVal([]interface{}{int64(0), int64(0), int64(1500)})
	rec = serve(e, httptest.NewRequest(http.MethodPost, "/v1/trips/T1/lock-seats", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenBucketFailsOpen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	e := echo.New()
	e.GET("/v1/trips/:id/seats", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, NewTokenBucket(rateConfig(), db))

	mock.CustomMatch(anyArgs).ExpectEvalSha(tokenBucket.Hash(), []string{"k"}).SetErr(errors.New("connection refused"))
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/v1/trips/T1/seats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateKeyUsesSessionHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/trips/T1/lock-seats", nil)
	req.Header.Set(HeaderSessionID, "s-1")
	req.RemoteAddr = "10.0.0.9:5555"
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/trips/:id/lock-seats")
	assert.Equal(t, "rl:ip:10.0.0.9:who:s:s-1:route:POST /v1/trips/:id/lock-seats", rateKey("rl", c))

	c.Set(ContextOperatorID, "op-3")
	assert.Contains(t, rateKey("rl", c), ":who:op:op-3:")
}

func TestJWTAuthAndRequireRole(t *testing.T) {
	const secret = "s3cret"
	e := echo.New()
	e.GET("/ops", func(c echo.Context) error {
		return c.String(http.StatusOK, OperatorID(c))
	}, JWTAuth(secret), RequireRole(RoleOperator, RoleAdmin))

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/ops", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/ops", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)

	other, err := utils.NewAccessToken("other", "op-1", RoleOperator, time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/ops", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+other.Token)
	assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)

	driver, err := utils.NewAccessToken(secret, "d-1", "driver", time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/ops", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+driver.Token)
	assert.Equal(t, http.StatusForbidden, serve(e, req).Code)

	admin, err := utils.NewAccessToken(secret, "a-1", "admin", time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/ops", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+admin.Token)
	rec = serve(e, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a-1", rec.Body.String())
}
