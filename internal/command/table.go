// Package command holds the static command descriptor table used by
// internal/router to find the key positions (if any) of a client request
// (spec.md §4.10).
package command

import "strings"

// Descriptor describes how to find the key(s) of one command.
type Descriptor struct {
	Name      string
	Arity     int // positive: exact argc; negative: minimum argc (abs value)
	FirstKey  int
	LastKey   int
	KeyStep   int
	Supported bool
	ReadOnly  bool
}

// table mirrors the arity/key-position conventions of the Redis/Valkey
// command table (the shape every cluster-aware client in the pack
// reimplements — kevwan-radix.v2/cluster.go, Diamond-fz-godis/cluster/topo.go
// — none of which ship as an importable library, so the data is hand-kept
// here per DESIGN.md). Only commands relevant to single-key / multi-key
// routing and a handful of keyless commands are listed; anything
// absent is "unsupported" per spec.md §4.5.
var table = map[string]Descriptor{
	"GET":     {Arity: 2, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true, ReadOnly: true},
	"SET":     {Arity: -3, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true},
	"SETNX":   {Arity: 3, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true},
	"SETEX":   {Arity: 4, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true},
	"APPEND":  {Arity: 3, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true},
	"STRLEN":  {Arity: 2, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true, ReadOnly: true},
	"INCR":    {Arity: 2, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true},
	"INCRBY":  {Arity: 3, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true},
	"DECR":    {Arity: 2, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true},
	"DECRBY":  {Arity: 3, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true},
	"DEL":     {Arity: -2, FirstKey: 1, LastKey: -1, KeyStep: 1, Supported: true},
	"EXISTS":  {Arity: -2, FirstKey: 1, LastKey: -1, KeyStep: 1, Supported: true, ReadOnly: true},
	"EXPIRE":  {Arity: 3, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true},
	"TTL":     {Arity: 2, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true, ReadOnly: true},
	"TYPE":    {Arity: 2, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true, ReadOnly: true},

	"HGET":    {Arity: 3, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true, ReadOnly: true},
	"HSET":    {Arity: -4, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true},
	"HGETALL": {Arity: 2, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true, ReadOnly: true},
	"HDEL":    {Arity: -3, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true},

	"LPUSH":  {Arity: -3, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true},
	"RPUSH":  {Arity: -3, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true},
	"LPOP":   {Arity: -2, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true},
	"RPOP":   {Arity: -2, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true},
	"LRANGE": {Arity: 4, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true, ReadOnly: true},
	"LLEN":   {Arity: 2, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true, ReadOnly: true},

	"SADD":      {Arity: -3, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true},
	"SREM":      {Arity: -3, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true},
	"SMEMBERS":  {Arity: 2, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true, ReadOnly: true},
	"SISMEMBER": {Arity: 3, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true, ReadOnly: true},

	"ZADD":  {Arity: -4, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true},
	"ZRANGE": {Arity: -4, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true, ReadOnly: true},
	"ZSCORE": {Arity: 3, FirstKey: 1, LastKey: 1, KeyStep: 1, Supported: true, ReadOnly: true},

	"MGET": {Arity: -2, FirstKey: 1, LastKey: -1, KeyStep: 1, Supported: true, ReadOnly: true},
	"MSET": {Arity: -3, FirstKey: 1, LastKey: -1, KeyStep: 2, Supported: true},

	// Keyless commands (argc==1 in the common case): route to the first
	// slot-map node deterministically, per spec.md §4.5.
	"PING":   {Arity: -1, FirstKey: 0, LastKey: 0, KeyStep: 0, Supported: true, ReadOnly: true},
	"ECHO":   {Arity: 2, FirstKey: 0, LastKey: 0, KeyStep: 0, Supported: true, ReadOnly: true},
	"DBSIZE": {Arity: 1, FirstKey: 0, LastKey: 0, KeyStep: 0, Supported: true, ReadOnly: true},

	// Explicitly rejected: cross-shard by nature (pub/sub, transactions,
	// blocking, resharding coordination — spec.md §1 Non-goals).
	"SUBSCRIBE":   {Supported: false},
	"PUBLISH":     {Supported: false},
	"MULTI":       {Supported: false},
	"EXEC":        {Supported: false},
	"BLPOP":       {Supported: false},
	"BRPOP":       {Supported: false},
	"CLUSTER":     {Supported: false},
	"KEYS":        {Supported: false},
	"FLUSHALL":    {Supported: false},
	"FLUSHDB":     {Supported: false},
}

// Lookup returns the descriptor for name (case-insensitive), and whether it
// is known at all. An unknown command and a known-but-unsupported command
// both route to rejection in internal/router, but are distinguished here so
// callers can produce the right error text.
func Lookup(name string) (Descriptor, bool) {
	d, ok := table[strings.ToUpper(name)]
	return d, ok
}
