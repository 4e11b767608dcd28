package policy

import (
	"fmt"
	"strings"
)

// CommandClass classifies a structured key-value command.
type CommandClass string

// Command classes.
const (
	ClassRead    CommandClass = "read"
	ClassWrite   CommandClass = "write"
	ClassBlocked CommandClass = "blocked"
	ClassRaw     CommandClass = "raw"
)

// Input limits for the cache path.
const (
	// MaxPatternLength bounds SCAN patterns.
	MaxPatternLength = 500
	// MaxRawCommandLength bounds raw passthrough commands.
	MaxRawCommandLength = 10000
)

// blockedCommands can never be executed from the control plane, regardless of
// role and including raw mode. The list covers cluster administration,
// scripting, blocking commands, pub/sub, connection state, and persistence
// control.
var blockedCommands = map[string]struct{}{
	"FLUSHDB": {}, "FLUSHALL": {}, "SHUTDOWN": {}, "DEBUG": {},
	"SLAVEOF": {}, "REPLICAOF": {}, "FAILOVER": {}, "CLUSTER": {},
	"EVAL": {}, "EVALSHA": {}, "EVAL_RO": {}, "EVALSHA_RO": {},
	"SCRIPT": {}, "FUNCTION": {}, "FCALL": {}, "FCALL_RO": {}, "MODULE": {},
	"MIGRATE": {}, "ACL": {}, "CONFIG": {},
	"SUBSCRIBE": {}, "PSUBSCRIBE": {}, "SSUBSCRIBE": {}, "MONITOR": {},
	"WAIT": {}, "WAITAOF": {},
	"BLPOP": {}, "BRPOP": {}, "BLMOVE": {}, "BRPOPLPUSH": {}, "BLMPOP": {},
	"BZPOPMIN": {}, "BZPOPMAX": {}, "BZMPOP": {},
	"SELECT": {}, "SWAPDB": {},
	"MULTI": {}, "EXEC": {}, "DISCARD": {}, "WATCH": {}, "UNWATCH": {},
	"CLIENT": {}, "RESET": {}, "HELLO": {}, "AUTH": {}, "QUIT": {},
	"BGSAVE": {}, "BGREWRITEAOF": {}, "SAVE": {}, "KEYS": {},
}

// readCommands are allowed for every role.
var readCommands = map[string]struct{}{
	"GET": {}, "MGET": {}, "EXISTS": {}, "TTL": {}, "PTTL": {}, "TYPE": {},
	"STRLEN": {}, "GETRANGE": {}, "SCAN": {}, "RANDOMKEY": {}, "DBSIZE": {},
	"LLEN": {}, "LRANGE": {}, "LINDEX": {},
	"HGET": {}, "HGETALL": {}, "HMGET": {}, "HLEN": {}, "HKEYS": {}, "HVALS": {}, "HEXISTS": {},
	"SMEMBERS": {}, "SCARD": {}, "SISMEMBER": {}, "SRANDMEMBER": {},
	"ZRANGE": {}, "ZRANGEBYSCORE": {}, "ZCARD": {}, "ZSCORE": {}, "ZRANK": {}, "ZCOUNT": {},
	"PING": {}, "ECHO": {}, "TIME": {}, "MEMORY": {}, "OBJECT": {},
}

// writeCommands are allowed for USER and MASTER.
var writeCommands = map[string]struct{}{
	"SET": {}, "SETEX": {}, "PSETEX": {}, "SETNX": {}, "MSET": {}, "APPEND": {},
	"GETSET": {}, "GETDEL": {}, "DEL": {}, "UNLINK": {},
	"EXPIRE": {}, "PEXPIRE": {}, "EXPIREAT": {}, "PERSIST": {},
	"INCR": {}, "INCRBY": {}, "INCRBYFLOAT": {}, "DECR": {}, "DECRBY": {},
	"LPUSH": {}, "RPUSH": {}, "LPOP": {}, "RPOP": {}, "LSET": {}, "LREM": {}, "LTRIM": {},
	"HSET": {}, "HMSET": {}, "HDEL": {}, "HINCRBY": {}, "HINCRBYFLOAT": {}, "HSETNX": {},
	"SADD": {}, "SREM": {}, "SPOP": {}, "SMOVE": {},
	"ZADD": {}, "ZREM": {}, "ZINCRBY": {}, "ZPOPMIN": {}, "ZPOPMAX": {},
	"RENAME": {}, "RENAMENX": {}, "COPY": {}, "TOUCH": {}, "SETRANGE": {},
}

// ClassifyCommand returns the class of a structured command name. Blocked
// membership wins over every other class.
func ClassifyCommand(command string) CommandClass {
	upper := strings.ToUpper(strings.TrimSpace(command))
	if _, ok := blockedCommands[upper]; ok {
		return ClassBlocked
	}
	if _, ok := readCommands[upper]; ok {
		return ClassRead
	}
	if _, ok := writeCommands[upper]; ok {
		return ClassWrite
	}
	// Unknown commands are not given the benefit of the doubt; raw mode is
	// the escape hatch for anything outside the structured vocabulary.
	return ClassBlocked
}

// ClassifyRedisCommand applies the role matrix and the blocked list to a
// structured or raw key-value command. The raw flag marks MASTER-only
// free-form passthrough; the blocked list applies there too.
func ClassifyRedisCommand(role Role, command string, args []string, raw bool) Decision {
	if !role.Valid() {
		return Deny(fmt.Sprintf("unknown role %q", role))
	}

	command = strings.TrimSpace(command)
	if command == "" {
		return Deny("empty command")
	}

	if raw {
		return classifyRaw(role, command)
	}

	upper := strings.ToUpper(command)
	if _, ok := blockedCommands[upper]; ok {
		return Deny(fmt.Sprintf("command %s is blocked for all roles", upper))
	}

	for _, arg := range args {
		if strings.ContainsRune(arg, 0) {
			return Deny("arguments must not contain NUL bytes")
		}
	}

	switch ClassifyCommand(command) {
	case ClassRead:
		return Allow()
	case ClassWrite:
		if role == RoleReader {
			return Deny(fmt.Sprintf("write command %s is not permitted for role READER", upper))
		}
		return Allow()
	}
	return Deny(fmt.Sprintf("command %s is not in the structured command vocabulary; use raw mode", upper))
}

// classifyRaw validates a raw passthrough command line.
func classifyRaw(role Role, commandLine string) Decision {
	if role != RoleMaster {
		return Deny("raw commands are only permitted for role MASTER")
	}
	if len(commandLine) > MaxRawCommandLength {
		return Deny(fmt.Sprintf("raw command exceeds %d characters", MaxRawCommandLength))
	}
	if strings.ContainsRune(commandLine, 0) {
		return Deny("raw command must not contain NUL bytes")
	}

	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return Deny("empty command")
	}
	verb := strings.ToUpper(fields[0])
	if _, ok := blockedCommands[verb]; ok {
		return Deny(fmt.Sprintf("command %s is blocked for all roles", verb))
	}
	return Allow()
}

// ValidateScanPattern rejects patterns that would sweep an entire keyspace or
// smuggle binary input into SCAN. Wildcard-only patterns never reach the scan
// executor.
func ValidateScanPattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("pattern must not be empty")
	}
	if len(pattern) > MaxPatternLength {
		return fmt.Errorf("pattern exceeds %d characters", MaxPatternLength)
	}
	if strings.ContainsRune(pattern, 0) {
		return fmt.Errorf("pattern must not contain NUL bytes")
	}
	switch pattern {
	case "*", "**", "?":
		return fmt.Errorf("wildcard-only pattern %q is not permitted", pattern)
	}
	return nil
}

// AuthorizeScan gates the cluster-wide SCAN engine. Previewing keys is a read
// operation open to every role; batch deletion is destructive and reserved
// for MASTER.
func AuthorizeScan(role Role, pattern string, deleting bool) Decision {
	if !role.Valid() {
		return Deny(fmt.Sprintf("unknown role %q", role))
	}
	if err := ValidateScanPattern(pattern); err != nil {
		return Deny(err.Error())
	}
	if deleting && role != RoleMaster {
		return Deny("scan delete is only permitted for role MASTER")
	}
	return Allow()
}
