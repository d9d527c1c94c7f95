// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Lane keys are KEYS[1..3] in dequeue order and KEYS[4] is the stats hash.
// Entries are "<added_at unix ms>|<json>".
const scriptHelpers = `
local function stamp(item)
	local sep = string.find(item, "|", 1, true)
	if not sep then return nil end
	return tonumber(string.sub(item, 1, sep - 1))
end
local function expired(at, now, maxAge)
	return at ~= nil and maxAge > 0 and now - at >= maxAge
end
`

// ARGV: lane index, entry, limit, now ms, max age ms.
// Returns the 1-based position or -1 when the channel queue is full.
var enqueueScript = redis.NewScript(scriptHelpers + `
local now = tonumber(ARGV[4])
local maxAge = tonumber(ARGV[5])
local total = 0
for i = 1, 3 do
	while true do
		local head = redis.call("LINDEX", KEYS[i], 0)
		if not head or not expired(stamp(head), now, maxAge) then break end
		redis.call("LPOP", KEYS[i])
		redis.call("HINCRBY", KEYS[4], "expired_items", 1)
	end
	total = total + redis.call("LLEN", KEYS[i])
end
if total >= tonumber(ARGV[3]) then
	return -1
end
local lane = tonumber(ARGV[1])
redis.call("RPUSH", KEYS[lane], ARGV[2])
redis.call("HINCRBY", KEYS[4], "total_items", 1)
local pos = 0
for i = 1, lane do
	pos = pos + redis.call("LLEN", KEYS[i])
end
return pos
`)

// ARGV: now ms, max age ms.
// Unstamped entries are returned as-is so the caller can drop them.
var nextScript = redis.NewScript(scriptHelpers + `
local now = tonumber(ARGV[1])
local maxAge = tonumber(ARGV[2])
for i = 1, 3 do
	while true do
		local item = redis.call("LPOP", KEYS[i])
		if not item then break end
		local at = stamp(item)
		if expired(at, now, maxAge) then
			redis.call("HINCRBY", KEYS[4], "expired_items", 1)
		else
			if at then
				redis.call("HINCRBY", KEYS[4], "processed_items", 1)
			end
			return item
		end
	end
end
return false
`)

var snapshotScript = redis.NewScript(`
local out = {}
for i = 1, 3 do
	for _, item in ipairs(redis.call("LRANGE", KEYS[i], 0, -1)) do
		out[#out + 1] = item
	end
end
return out
`)

func replyInt(res any) (int64, error) {
	switch x := res.(type) {
	case int64:
		return x, nil
	case string:
		return strconv.ParseInt(x, 10, 64)
	}
	return 0, fmt.Errorf("unexpected queue script reply %T", res)
}

func replyStrings(res any) ([]string, error) {
	vals, ok := res.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected queue script reply %T", res)
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected queue entry %T", v)
		}
		out = append(out, s)
	}
	return out, nil
}
