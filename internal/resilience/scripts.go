// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Hash fields: state, failures, window_start, opened_at, trial (all times in ms).

// allowScript ARGV: now, cooldown.
// Returns {allowed, state, retry_after_ms, entered_half_open}.
var allowScript = redis.NewScript(`
local st = redis.call("HGET", KEYS[1], "state")
if not st or st == "closed" then
	return {1, "closed", 0, 0}
end
local now = tonumber(ARGV[1])
local cooldown = tonumber(ARGV[2])
if st == "open" then
	local opened = tonumber(redis.call("HGET", KEYS[1], "opened_at") or "0")
	if now - opened >= cooldown then
		redis.call("HSET", KEYS[1], "state", "half-open", "trial", ARGV[1])
		return {1, "half-open", 0, 1}
	end
	return {0, "open", cooldown - (now - opened), 0}
end
local trial = tonumber(redis.call("HGET", KEYS[1], "trial") or "0")
if now - trial >= cooldown then
	redis.call("HSET", KEYS[1], "trial", ARGV[1])
	return {1, "half-open", 0, 0}
end
return {0, "half-open", cooldown - (now - trial), 0}
`)

// successScript returns {state, closed_from_half_open}.
var successScript = redis.NewScript(`
local st = redis.call("HGET", KEYS[1], "state")
if st == "half-open" then
	redis.call("HSET", KEYS[1], "state", "closed", "failures", 0, "window_start", 0)
	redis.call("HDEL", KEYS[1], "trial", "opened_at")
	return {"closed", 1}
end
if st == "open" then
	return {"open", 0}
end
local f = tonumber(redis.call("HGET", KEYS[1], "failures") or "0")
if f > 0 then
	redis.call("HSET", KEYS[1], "state", "closed", "failures", 0, "window_start", 0)
end
return {"closed", 0}
`)

// failureScript ARGV: now, threshold, window.
// Returns {state, failures, trip} where trip is "", "threshold" or "trial".
var failureScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local threshold = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local st = redis.call("HGET", KEYS[1], "state")
local f = tonumber(redis.call("HGET", KEYS[1], "failures") or "0")
if st == "open" then
	return {"open", f, ""}
end
if st == "half-open" then
	redis.call("HSET", KEYS[1], "state", "open", "opened_at", ARGV[1])
	redis.call("HDEL", KEYS[1], "trial")
	return {"open", f, "trial"}
end
local ws = redis.call("HGET", KEYS[1], "window_start") or "0"
if f == 0 or now - tonumber(ws) >= window then
	f = 0
	ws = ARGV[1]
end
f = f + 1
if f >= threshold then
	redis.call("HSET", KEYS[1], "state", "open", "failures", f, "window_start", ws, "opened_at", ARGV[1])
	return {"open", f, "threshold"}
end
redis.call("HSET", KEYS[1], "state", "closed", "failures", f, "window_start", ws)
return {"closed", f, ""}
`)

func replyValues(res any, n int) ([]any, error) {
	vals, ok := res.([]any)
	if !ok || len(vals) < n {
		return nil, fmt.Errorf("unexpected breaker script reply %T", res)
	}
	return vals, nil
}

func toInt(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case string:
		return parseInt(x)
	}
	return 0
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	}
	return ""
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
