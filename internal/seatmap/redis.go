package seatmap

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/bus-seat-booking/internal/model"
)

// RedisStore keeps one hash per trip (field = seat label) so that
// several API instances share the same seat map.  Every mutating call
// runs as a single Lua script, which makes multi-seat checks and writes
// atomic without a client-side lock.  Seat values are encoded as
//   F                      free
//   H|<session>|<exp ms>   held until exp
//   B|<booking>            booked
// Times come from the caller's clock, not the Redis server's.
type RedisStore struct {
	rdb    redis.Cmdable
	prefix string
	now    func() time.Time
}

// NewRedisStore builds a store over rdb.  Keys are namespaced with prefix.
func NewRedisStore(rdb redis.Cmdable, prefix string, now func() time.Time) *RedisStore {
	if prefix == "" {
		prefix = "seatmap"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStore{rdb: rdb, prefix: prefix, now: now}
}

// Keys of one trip share a hash tag so scripts stay cluster safe.
func (r *RedisStore) seatsKey(tripID string) string {
	return r.prefix + ":{" + tripID + "}:seats"
}

func (r *RedisStore) orderKey(tripID string) string {
	return r.prefix + ":{" + tripID + "}:order"
}

func (r *RedisStore) tripsKey() string { return r.prefix + ":trips" }

const luaPrelude = `
local function parse(v)
    local kind = string.sub(v, 1, 1)
    if kind == 'H' then
        local sess, exp = string.match(v, '^H|(.+)|(%d+)$')
        return 'H', sess, tonumber(exp)
    elseif kind == 'B' then
        return 'B', string.sub(v, 3), 0
    end
    return 'F', '', 0
end
`

// Result codes shared by the scripts.
const (
	codeOK          = 1
	codeUnavailable = 0
	codeUnknownSeat = -1
	codeExpired     = -2
	codeNotOwner    = -3
	codeUnknownTrip = -4
)

var registerScript = redis.NewScript(`
for i = 1, #ARGV, 2 do
    local label = ARGV[i]
    local val = ARGV[i + 1]
    local cur = redis.call('HGET', KEYS[1], label)
    if not cur then
        redis.call('HSET', KEYS[1], label, val)
        redis.call('RPUSH', KEYS[2], label)
    elseif cur == 'F' and val ~= 'F' then
        redis.call('HSET', KEYS[1], label, val)
    end
end
return 1
`)

// ARGV: session, now_ms, exp_ms, replace(0|1), labels...
var holdScript = redis.NewScript(luaPrelude + `
if redis.call('EXISTS', KEYS[1]) == 0 then return {-4} end
local sess = ARGV[1]
local now = tonumber(ARGV[2])
local bad = {}
local wanted = {}
for i = 5, #ARGV do
    local cur = redis.call('HGET', KEYS[1], ARGV[i])
    if not cur then return {-1, ARGV[i]} end
    wanted[ARGV[i]] = true
    local kind, owner, exp = parse(cur)
    if kind == 'B' or (kind == 'H' and owner ~= sess and exp >= now) then
        table.insert(bad, ARGV[i])
    end
end
if #bad > 0 then
    local out = {0}
    for _, l in ipairs(bad) do table.insert(out, l) end
    return out
end
if ARGV[4] == '1' then
    local all = redis.call('HGETALL', KEYS[1])
    for i = 1, #all, 2 do
        if not wanted[all[i]] then
            local kind, owner = parse(all[i + 1])
            if kind == 'H' and owner == sess then
                redis.call('HSET', KEYS[1], all[i], 'F')
            end
        end
    end
end
local val = 'H|' .. sess .. '|' .. ARGV[3]
for i = 5, #ARGV do
    redis.call('HSET', KEYS[1], ARGV[i], val)
end
return {1}
`)

// ARGV: session, now_ms, labels...
var releaseScript = redis.NewScript(luaPrelude + `
if redis.call('EXISTS', KEYS[1]) == 0 then return {-4} end
local sess = ARGV[1]
local now = tonumber(ARGV[2])
local owned = {}
for i = 3, #ARGV do
    local cur = redis.call('HGET', KEYS[1], ARGV[i])
    if not cur then return {-1, ARGV[i]} end
    local kind, owner, exp = parse(cur)
    if kind == 'H' and owner == sess then
        table.insert(owned, ARGV[i])
    elseif kind == 'B' or (kind == 'H' and exp >= now) then
        return {-3, ARGV[i]}
    end
end
for _, l in ipairs(owned) do redis.call('HSET', KEYS[1], l, 'F') end
return {1}
`)

// ARGV: session
var releaseAllScript = redis.NewScript(luaPrelude + `
if redis.call('EXISTS', KEYS[1]) == 0 then return {-4} end
local out = {1}
local order = redis.call('LRANGE', KEYS[2], 0, -1)
for _, l in ipairs(order) do
    local kind, owner = parse(redis.call('HGET', KEYS[1], l) or 'F')
    if kind == 'H' and owner == ARGV[1] then
        redis.call('HSET', KEYS[1], l, 'F')
        table.insert(out, l)
    end
end
return out
`)

// ARGV: session, now_ms, booking, labels...
var confirmScript = redis.NewScript(luaPrelude + `
if redis.call('EXISTS', KEYS[1]) == 0 then return {-4} end
local sess = ARGV[1]
local now = tonumber(ARGV[2])
for i = 4, #ARGV do
    local cur = redis.call('HGET', KEYS[1], ARGV[i])
    if not cur then return {-1, ARGV[i]} end
    local kind, owner, exp = parse(cur)
    if kind == 'F' then return {-2, ARGV[i]} end
    if kind == 'B' then return {-3, ARGV[i]} end
    if exp < now then return {-2, ARGV[i]} end
    if owner ~= sess then return {-3, ARGV[i]} end
end
for i = 4, #ARGV do
    redis.call('HSET', KEYS[1], ARGV[i], 'B|' .. ARGV[3])
end
return {1}
`)

// ARGV: booking, labels...
var unbookScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {-4} end
local want = 'B|' .. ARGV[1]
for i = 2, #ARGV do
    if redis.call('HGET', KEYS[1], ARGV[i]) == want then
        redis.call('HSET', KEYS[1], ARGV[i], 'F')
    end
end
return {1}
`)

// ARGV: label, now_ms
var expireScript = redis.NewScript(luaPrelude + `
if redis.call('EXISTS', KEYS[1]) == 0 then return {-4} end
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if not cur then return {0} end
local kind, _, exp = parse(cur)
if kind == 'H' and exp < tonumber(ARGV[2]) then
    redis.call('HSET', KEYS[1], ARGV[1], 'F')
    return {1}
end
return {0}
`)

func ms(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

func (r *RedisStore) run(ctx context.Context, s *redis.Script, tripID string, args []interface{}) ([]interface{}, error) {
	keys := []string{r.seatsKey(tripID), r.orderKey(tripID)}
	res, err := s.Run(ctx, r.rdb, keys, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("seatmap script: %w", err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("seatmap script: empty reply")
	}
	return res, nil
}

// decodeResult converts a script reply into the package errors.
func decodeResult(res []interface{}) error {
	code, _ := res[0].(int64)
	label := ""
	if len(res) > 1 {
		label, _ = res[1].(string)
	}
	switch code {
	case codeOK:
		return nil
	case codeUnavailable:
		labels := make([]string, 0, len(res)-1)
		for _, v := range res[1:] {
			if s, ok := v.(string); ok {
				labels = append(labels, s)
			}
		}
		return &SeatUnavailableError{Labels: labels}
	case codeUnknownSeat:
		return &SeatError{Label: label, Err: ErrUnknownSeat}
	case codeExpired:
		return &SeatError{Label: label, Err: ErrHoldExpired}
	case codeNotOwner:
		return &SeatError{Label: label, Err: ErrNotOwner}
	case codeUnknownTrip:
		return ErrUnknownTrip
	}
	return fmt.Errorf("seatmap script: unexpected code %d", code)
}

func labelArgs(head []interface{}, labels []string) []interface{} {
	args := make([]interface{}, 0, len(head)+len(labels))
	args = append(args, head...)
	for _, l := range labels {
		args = append(args, l)
	}
	return args
}

func (r *RedisStore) Register(ctx context.Context, tripID string, labels []string, booked map[string]string) error {
	labels = NormalizeLabels(labels)
	args := make([]interface{}, 0, len(labels)*2)
	for _, l := range labels {
		val := "F"
		if id := booked[l]; id != "" {
			val = "B|" + id
		}
		args = append(args, l, val)
	}
	if _, err := registerScript.Run(ctx, r.rdb, []string{r.seatsKey(tripID), r.orderKey(tripID)}, args...).Result(); err != nil {
		return fmt.Errorf("seatmap register: %w", err)
	}
	return r.rdb.SAdd(ctx, r.tripsKey(), tripID).Err()
}

func (r *RedisStore) Registered(ctx context.Context, tripID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.seatsKey(tripID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisStore) hold(ctx context.Context, tripID string, labels []string, sessionID string, ttl time.Duration, replace bool) (Grant, error) {
	labels = NormalizeLabels(labels)
	if len(labels) == 0 {
		return Grant{}, ErrNoSeats
	}
	now := r.now()
	exp := now.Add(ttl)
	flag := "0"
	if replace {
		flag = "1"
	}
	res, err := r.run(ctx, holdScript, tripID, labelArgs([]interface{}{sessionID, ms(now), ms(exp), flag}, labels))
	if err != nil {
		return Grant{}, err
	}
	if err := decodeResult(res); err != nil {
		return Grant{}, err
	}
	return Grant{Labels: labels, ExpiresAt: time.UnixMilli(exp.UnixMilli()).UTC()}, nil
}

func (r *RedisStore) TryHold(ctx context.Context, tripID string, labels []string, sessionID string, ttl time.Duration) (Grant, error) {
	return r.hold(ctx, tripID, labels, sessionID, ttl, false)
}

func (r *RedisStore) ReplaceHolds(ctx context.Context, tripID string, labels []string, sessionID string, ttl time.Duration) (Grant, error) {
	return r.hold(ctx, tripID, labels, sessionID, ttl, true)
}

func (r *RedisStore) Release(ctx context.Context, tripID string, labels []string, sessionID string) error {
	res, err := r.run(ctx, releaseScript, tripID, labelArgs([]interface{}{sessionID, ms(r.now())}, NormalizeLabels(labels)))
	if err != nil {
		return err
	}
	return decodeResult(res)
}

func (r *RedisStore) ReleaseAll(ctx context.Context, tripID, sessionID string) ([]string, error) {
	res, err := r.run(ctx, releaseAllScript, tripID, []interface{}{sessionID})
	if err != nil {
		return nil, err
	}
	if err := decodeResult(res); err != nil {
		return nil, err
	}
	released := make([]string, 0, len(res)-1)
	for _, v := range res[1:] {
		if s, ok := v.(string); ok {
			released = append(released, s)
		}
	}
	return released, nil
}

func (r *RedisStore) Confirm(ctx context.Context, tripID string, labels []string, sessionID, bookingID string) error {
	labels = NormalizeLabels(labels)
	if len(labels) == 0 {
		return ErrNoSeats
	}
	res, err := r.run(ctx, confirmScript, tripID, labelArgs([]interface{}{sessionID, ms(r.now()), bookingID}, labels))
	if err != nil {
		return err
	}
	return decodeResult(res)
}

func (r *RedisStore) Unbook(ctx context.Context, tripID string, labels []string, bookingID string) error {
	res, err := r.run(ctx, unbookScript, tripID, labelArgs([]interface{}{bookingID}, NormalizeLabels(labels)))
	if err != nil {
		return err
	}
	return decodeResult(res)
}

func (r *RedisStore) Expire(ctx context.Context, tripID, label string) (bool, error) {
	res, err := r.run(ctx, expireScript, tripID, []interface{}{label, ms(r.now())})
	if err != nil {
		return false, err
	}
	code, _ := res[0].(int64)
	if code == codeUnknownTrip {
		return false, ErrUnknownTrip
	}
	return code == codeOK, nil
}

// load reads the whole seat map of a trip in seat order.
func (r *RedisStore) load(ctx context.Context, tripID string) ([]string, map[string]string, error) {
	order, err := r.rdb.LRange(ctx, r.orderKey(tripID), 0, -1).Result()
	if err != nil {
		return nil, nil, err
	}
	vals, err := r.rdb.HGetAll(ctx, r.seatsKey(tripID)).Result()
	if err != nil {
		return nil, nil, err
	}
	if len(vals) == 0 {
		return nil, nil, ErrUnknownTrip
	}
	return order, vals, nil
}

// decodeSeat is the Go side of the Lua parse function.
func decodeSeat(label, v string) model.SeatState {
	switch {
	case strings.HasPrefix(v, "H|"):
		rest := v[2:]
		i := strings.LastIndexByte(rest, '|')
		if i < 0 {
			break
		}
		expMs, err := strconv.ParseInt(rest[i+1:], 10, 64)
		if err != nil {
			break
		}
		return model.SeatState{Label: label, Status: model.SeatHeld, SessionID: rest[:i], ExpiresAt: time.UnixMilli(expMs).UTC()}
	case strings.HasPrefix(v, "B|"):
		return model.SeatState{Label: label, Status: model.SeatBooked, BookingID: v[2:]}
	}
	return model.SeatState{Label: label, Status: model.SeatFree}
}

func (r *RedisStore) HeldBy(ctx context.Context, tripID, sessionID string) ([]model.SeatHold, error) {
	order, vals, err := r.load(ctx, tripID)
	if err != nil {
		return nil, err
	}
	now := r.now()
	holds := []model.SeatHold{}
	for _, l := range order {
		s := decodeSeat(l, vals[l])
		if s.Status == model.SeatHeld && s.SessionID == sessionID && !now.After(s.ExpiresAt) {
			holds = append(holds, model.SeatHold{TripID: tripID, SeatLabel: l, SessionID: sessionID, ExpiresAt: s.ExpiresAt})
		}
	}
	return holds, nil
}

func (r *RedisStore) Trips(ctx context.Context) ([]string, error) {
	return r.rdb.SMembers(ctx, r.tripsKey()).Result()
}

func (r *RedisStore) Drop(ctx context.Context, tripID string) error {
	if err := r.rdb.Del(ctx, r.seatsKey(tripID), r.orderKey(tripID)).Err(); err != nil {
		return fmt.Errorf("seatmap drop: %w", err)
	}
	return r.rdb.SRem(ctx, r.tripsKey(), tripID).Err()
}

func (r *RedisStore) Snapshot(ctx context.Context, tripID string) ([]model.SeatState, error) {
	order, vals, err := r.load(ctx, tripID)
	if err != nil {
		return nil, err
	}
	now := r.now()
	out := make([]model.SeatState, 0, len(order))
	for _, l := range order {
		s := decodeSeat(l, vals[l])
		if s.Status == model.SeatHeld && now.After(s.ExpiresAt) {
			s = model.SeatState{Label: l, Status: model.SeatFree}
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *RedisStore) ExpiredHolds(ctx context.Context, limit int) ([]model.SeatHold, error) {
	trips, err := r.Trips(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now()
	out := []model.SeatHold{}
	for _, tripID := range trips {
		vals, err := r.rdb.HGetAll(ctx, r.seatsKey(tripID)).Result()
		if err != nil {
			return out, err
		}
		for l, v := range vals {
			s := decodeSeat(l, v)
			if s.Status == model.SeatHeld && now.After(s.ExpiresAt) {
				out = append(out, model.SeatHold{TripID: tripID, SeatLabel: l, SessionID: s.SessionID, ExpiresAt: s.ExpiresAt})
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}
