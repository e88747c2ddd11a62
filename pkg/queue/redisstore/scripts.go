package redisstore

import "github.com/redis/go-redis/v9"

// Scores and timestamps are computed in Go and passed as strings.
// Lua numbers are doubles and lose digits when formatted back into commands.

// KEYS job, target zset
// ARGV score, id, field/value pairs...
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// KEYS waiting, delayed, active
// ARGV now ms, limit, worker, lease until ms, job key prefix, promote batch
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, ARGV[6])
for _, id in ipairs(due) do
	local key = ARGV[5] .. id
	redis.call('ZREM', KEYS[2], id)
	redis.call('ZADD', KEYS[1], redis.call('HGET', key, 'rank'), id)
	redis.call('HSET', key, 'state', 'waiting')
end

local ids = redis.call('ZRANGE', KEYS[1], 0, tonumber(ARGV[2]) - 1)
local out = {}
for _, id in ipairs(ids) do
	local key = ARGV[5] .. id
	redis.call('ZREM', KEYS[1], id)
	redis.call('HINCRBY', key, 'attempts', 1)
	redis.call('HSET', key, 'state', 'active', 'locked_by', ARGV[3], 'locked_until', ARGV[4])
	redis.call('ZADD', KEYS[3], ARGV[4], id)
	out[#out + 1] = redis.call('HGETALL', key)
end
return out
`)

// holdCheck is prepended to scripts that act on a leased job.
// KEYS[1] job, ARGV[1] worker
const holdCheck = `
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 'missing'
end
local held = redis.call('HMGET', KEYS[1], 'state', 'locked_by')
if held[1] ~= 'active' or held[2] ~= ARGV[1] then
	return 'lost'
end
`

// KEYS job, active
// ARGV worker, lease until ms, id
var extendScript = redis.NewScript(holdCheck + `
redis.call('HSET', KEYS[1], 'locked_until', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
return 'ok'
`)

// KEYS job, active, completed
// ARGV worker, now ms, result, id
var completeScript = redis.NewScript(holdCheck + `
redis.call('ZREM', KEYS[2], ARGV[4])
redis.call('HSET', KEYS[1], 'state', 'completed', 'completed_at', ARGV[2], 'result', ARGV[3],
	'locked_by', '', 'locked_until', '')
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[4])
return 'completed'
`)

// KEYS job, active, failed, delayed, waiting
// ARGV worker, now ms, reason, final (1/0), retry at ms or empty, id
var failScript = redis.NewScript(holdCheck + `
redis.call('ZREM', KEYS[2], ARGV[6])
local counts = redis.call('HMGET', KEYS[1], 'attempts', 'max_attempts', 'rank')
redis.call('HSET', KEYS[1], 'last_error', ARGV[3], 'locked_by', '', 'locked_until', '')

if ARGV[4] == '1' or tonumber(counts[1]) >= tonumber(counts[2]) then
	redis.call('HSET', KEYS[1], 'state', 'failed', 'failed_at', ARGV[2])
	redis.call('ZADD', KEYS[3], ARGV[2], ARGV[6])
	return 'failed'
end

if ARGV[5] ~= '' then
	redis.call('HSET', KEYS[1], 'state', 'delayed', 'scheduled_at', ARGV[5])
	redis.call('ZADD', KEYS[4], ARGV[5], ARGV[6])
	return 'delayed'
end

redis.call('HSET', KEYS[1], 'state', 'waiting', 'scheduled_at', ARGV[2])
redis.call('ZADD', KEYS[5], counts[3], ARGV[6])
return 'waiting'
`)

// KEYS active, failed, waiting
// ARGV now ms, job key prefix
var recoverScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
	local key = ARGV[2] .. id
	redis.call('ZREM', KEYS[1], id)
	local counts = redis.call('HMGET', key, 'attempts', 'max_attempts', 'rank')
	redis.call('HSET', key, 'last_error', 'lease expired', 'locked_by', '', 'locked_until', '')
	if tonumber(counts[1]) >= tonumber(counts[2]) then
		redis.call('HSET', key, 'state', 'failed', 'failed_at', ARGV[1])
		redis.call('ZADD', KEYS[2], ARGV[1], id)
	else
		redis.call('HSET', key, 'state', 'waiting', 'scheduled_at', ARGV[1])
		redis.call('ZADD', KEYS[3], counts[3], id)
	end
end
return #ids
`)

// KEYS terminal zset
// ARGV cutoff ms, job key prefix, batch
var cleanScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[3])
for _, id in ipairs(ids) do
	redis.call('DEL', ARGV[2] .. id)
	redis.call('ZREM', KEYS[1], id)
end
return #ids
`)
