package server

import (
	"sort"
	"strings"

	"github.com/eternalApril/rudis/internal/resp"
)

type commandMetadata struct {
	arity    int      // Arity includes the command name itself
	flags    []string // read, write, fast, denyoom, etc
	firstKey int      // 1-based index of the first key
	lastKey  int      // 1-based index of the last key, negative counts from the end
	step     int      // Step count for finding keys
}

var (
	commandRegistry = map[string]commandMetadata{
		// generic
		"DEL":       {-2, []string{"write"}, 1, -1, 1},
		"EXISTS":    {-2, []string{"readonly", "fast"}, 1, -1, 1},
		"TYPE":      {2, []string{"readonly", "fast"}, 1, 1, 1},
		"TTL":       {2, []string{"readonly", "fast"}, 1, 1, 1},
		"PTTL":      {2, []string{"readonly", "fast"}, 1, 1, 1},
		"EXPIRE":    {3, []string{"write", "fast"}, 1, 1, 1},
		"PEXPIRE":   {3, []string{"write", "fast"}, 1, 1, 1},
		"EXPIREAT":  {3, []string{"write", "fast"}, 1, 1, 1},
		"PEXPIREAT": {3, []string{"write", "fast"}, 1, 1, 1},
		"PERSIST":   {2, []string{"write", "fast"}, 1, 1, 1},
		"RENAME":    {3, []string{"write"}, 1, 2, 1},
		"RENAMENX":  {3, []string{"write", "fast"}, 1, 2, 1},
		"KEYS":      {2, []string{"readonly", "sort_for_script"}, 0, 0, 0},
		"RANDOMKEY": {1, []string{"readonly", "random"}, 0, 0, 0},
		"MOVE":      {3, []string{"write", "fast"}, 1, 1, 1},

		// string
		"SET":         {-3, []string{"write", "denyoom"}, 1, 1, 1},
		"GET":         {2, []string{"readonly", "fast"}, 1, 1, 1},
		"GETSET":      {3, []string{"write", "denyoom", "fast"}, 1, 1, 1},
		"SETNX":       {3, []string{"write", "denyoom", "fast"}, 1, 1, 1},
		"MGET":        {-2, []string{"readonly", "fast"}, 1, -1, 1},
		"MSET":        {-3, []string{"write", "denyoom"}, 1, -1, 2},
		"APPEND":      {3, []string{"write", "denyoom", "fast"}, 1, 1, 1},
		"STRLEN":      {2, []string{"readonly", "fast"}, 1, 1, 1},
		"INCR":        {2, []string{"write", "denyoom", "fast"}, 1, 1, 1},
		"DECR":        {2, []string{"write", "denyoom", "fast"}, 1, 1, 1},
		"INCRBY":      {3, []string{"write", "denyoom", "fast"}, 1, 1, 1},
		"DECRBY":      {3, []string{"write", "denyoom", "fast"}, 1, 1, 1},
		"INCRBYFLOAT": {3, []string{"write", "denyoom", "fast"}, 1, 1, 1},
		"GETRANGE":    {4, []string{"readonly"}, 1, 1, 1},

		// list
		"LPUSH":  {-3, []string{"write", "denyoom", "fast"}, 1, 1, 1},
		"RPUSH":  {-3, []string{"write", "denyoom", "fast"}, 1, 1, 1},
		"LPUSHX": {-3, []string{"write", "denyoom", "fast"}, 1, 1, 1},
		"RPUSHX": {-3, []string{"write", "denyoom", "fast"}, 1, 1, 1},
		"LPOP":   {-2, []string{"write", "fast"}, 1, 1, 1},
		"RPOP":   {-2, []string{"write", "fast"}, 1, 1, 1},
		"LLEN":   {2, []string{"readonly", "fast"}, 1, 1, 1},
		"LINDEX": {3, []string{"readonly"}, 1, 1, 1},
		"LRANGE": {4, []string{"readonly"}, 1, 1, 1},
		"LSET":   {4, []string{"write", "denyoom"}, 1, 1, 1},

		// set
		"SADD":        {-3, []string{"write", "denyoom", "fast"}, 1, 1, 1},
		"SREM":        {-3, []string{"write", "fast"}, 1, 1, 1},
		"SPOP":        {-2, []string{"write", "random", "fast"}, 1, 1, 1},
		"SCARD":       {2, []string{"readonly", "fast"}, 1, 1, 1},
		"SISMEMBER":   {3, []string{"readonly", "fast"}, 1, 1, 1},
		"SMEMBERS":    {2, []string{"readonly", "sort_for_script"}, 1, 1, 1},
		"SUNION":      {-2, []string{"readonly", "sort_for_script"}, 1, -1, 1},
		"SINTER":      {-2, []string{"readonly", "sort_for_script"}, 1, -1, 1},
		"SUNIONSTORE": {-3, []string{"write", "denyoom"}, 1, -1, 1},

		// sorted set
		"ZADD":   {-4, []string{"write", "denyoom", "fast"}, 1, 1, 1},
		"ZSCORE": {3, []string{"readonly", "fast"}, 1, 1, 1},
		"ZCARD":  {2, []string{"readonly", "fast"}, 1, 1, 1},
		"ZCOUNT": {4, []string{"readonly", "fast"}, 1, 1, 1},
		"ZRANK":  {3, []string{"readonly", "fast"}, 1, 1, 1},
		"ZREM":   {-3, []string{"write", "fast"}, 1, 1, 1},
		"ZRANGE": {-4, []string{"readonly"}, 1, 1, 1},

		// hash
		"HSET":    {-4, []string{"write", "denyoom", "fast"}, 1, 1, 1},
		"HSETNX":  {4, []string{"write", "denyoom", "fast"}, 1, 1, 1},
		"HGET":    {3, []string{"readonly", "fast"}, 1, 1, 1},
		"HMSET":   {-4, []string{"write", "denyoom", "fast"}, 1, 1, 1},
		"HMGET":   {-3, []string{"readonly", "fast"}, 1, 1, 1},
		"HDEL":    {-3, []string{"write", "fast"}, 1, 1, 1},
		"HLEN":    {2, []string{"readonly", "fast"}, 1, 1, 1},
		"HEXISTS": {3, []string{"readonly", "fast"}, 1, 1, 1},
		"HGETALL": {2, []string{"readonly", "random"}, 1, 1, 1},
		"HKEYS":   {2, []string{"readonly", "sort_for_script"}, 1, 1, 1},
		"HVALS":   {2, []string{"readonly", "sort_for_script"}, 1, 1, 1},

		// connection
		"PING":   {-1, []string{"fast", "stale"}, 0, 0, 0},
		"ECHO":   {2, []string{"fast"}, 0, 0, 0},
		"AUTH":   {-2, []string{"noscript", "loading", "stale", "fast"}, 0, 0, 0},
		"SELECT": {2, []string{"loading", "stale", "fast"}, 0, 0, 0},
		"QUIT":   {-1, []string{"loading", "stale", "fast"}, 0, 0, 0},
		"CLIENT": {-2, []string{"admin", "noscript", "loading", "stale"}, 0, 0, 0},

		// server
		"DBSIZE":   {1, []string{"readonly", "fast"}, 0, 0, 0},
		"FLUSHDB":  {-1, []string{"write"}, 0, 0, 0},
		"FLUSHALL": {-1, []string{"write"}, 0, 0, 0},
		"SAVE":     {1, []string{"admin", "noscript"}, 0, 0, 0},
		"BGSAVE":   {-1, []string{"admin", "noscript"}, 0, 0, 0},
		"LASTSAVE": {1, []string{"random", "fast", "loading", "stale"}, 0, 0, 0},
		"INFO":     {-1, []string{"random", "loading", "stale"}, 0, 0, 0},
		"COMMAND":  {-1, []string{"random", "loading", "stale"}, 0, 0, 0},

		// transactions
		"MULTI":   {1, []string{"noscript", "loading", "stale", "fast"}, 0, 0, 0},
		"EXEC":    {1, []string{"noscript", "loading", "stale", "skip_slowlog"}, 0, 0, 0},
		"DISCARD": {1, []string{"noscript", "loading", "stale", "fast"}, 0, 0, 0},
	}

	// allShardCommands scan or clear whole databases, they run with every shard locked
	allShardCommands = map[string]bool{
		"KEYS":      true,
		"RANDOMKEY": true,
		"DBSIZE":    true,
		"FLUSHDB":   true,
		"FLUSHALL":  true,
		"SAVE":      true,
		"BGSAVE":    true,
		"INFO":      true,
		"EXEC":      true,
	}
)

type lockMode int

const (
	lockNone lockMode = iota
	lockKeys
	lockAll
)

func (m commandMetadata) lockMode(name string) lockMode {
	switch {
	case allShardCommands[name]:
		return lockAll
	case m.firstKey > 0:
		return lockKeys
	}
	return lockNone
}

func (m commandMetadata) isWrite() bool {
	for _, f := range m.flags {
		if f == "write" {
			return true
		}
	}
	return false
}

// checkArity validates argc, which includes the command name
func (m commandMetadata) checkArity(argc int) bool {
	if m.arity >= 0 {
		return argc == m.arity
	}
	return argc >= -m.arity
}

// keys extracts the key arguments from argv, which includes the command name
func (m commandMetadata) keys(argv [][]byte) []string {
	if m.firstKey <= 0 {
		return nil
	}

	last := m.lastKey
	if last < 0 {
		last += len(argv)
	}

	keys := make([]string, 0, (last-m.firstKey)/m.step+1)
	for i := m.firstKey; i <= last && i < len(argv); i += m.step {
		keys = append(keys, string(argv[i]))
	}
	return keys
}

// commandDoc stores a description for the command
type commandDoc struct {
	summary    string
	complexity string
	group      string
	since      string
}

// commandDocsRegistry documentation registry
var commandDocsRegistry = map[string]commandDoc{
	"DEL":       {"Delete a key.", "O(N) where N is the number of keys that will be removed.", "generic", "1.0.0"},
	"EXISTS":    {"Determine if a key exists.", "O(N) where N is the number of keys to check.", "generic", "1.0.0"},
	"TYPE":      {"Determine the type stored at key.", "O(1)", "generic", "1.0.0"},
	"TTL":       {"Get the time to live for a key in seconds.", "O(1)", "generic", "1.0.0"},
	"PTTL":      {"Get the time to live for a key in milliseconds.", "O(1)", "generic", "2.6.0"},
	"EXPIRE":    {"Set a key's time to live in seconds.", "O(1)", "generic", "1.0.0"},
	"PEXPIRE":   {"Set a key's time to live in milliseconds.", "O(1)", "generic", "2.6.0"},
	"EXPIREAT":  {"Set the expiration for a key as a UNIX timestamp.", "O(1)", "generic", "1.2.0"},
	"PEXPIREAT": {"Set the expiration for a key as a UNIX timestamp specified in milliseconds.", "O(1)", "generic", "2.6.0"},
	"PERSIST":   {"Remove the expiration from a key.", "O(1)", "generic", "2.2.0"},
	"RENAME":    {"Rename a key.", "O(1)", "generic", "1.0.0"},
	"RENAMENX":  {"Rename a key, only if the new key does not exist.", "O(1)", "generic", "1.0.0"},
	"KEYS":      {"Find all keys matching the given pattern.", "O(N) with N being the number of keys in the database.", "generic", "1.0.0"},
	"RANDOMKEY": {"Return a random key from the keyspace.", "O(1)", "generic", "1.0.0"},
	"MOVE":      {"Move a key to another database.", "O(1)", "generic", "1.0.0"},

	"SET":         {"Set the string value of a key.", "O(1)", "string", "1.0.0"},
	"GET":         {"Get the value of a key.", "O(1)", "string", "1.0.0"},
	"GETSET":      {"Set the string value of a key and return its old value.", "O(1)", "string", "1.0.0"},
	"SETNX":       {"Set the value of a key, only if the key does not exist.", "O(1)", "string", "1.0.0"},
	"MGET":        {"Get the values of all the given keys.", "O(N) where N is the number of keys to retrieve.", "string", "1.0.0"},
	"MSET":        {"Set multiple keys to multiple values.", "O(N) where N is the number of keys to set.", "string", "1.0.1"},
	"APPEND":      {"Append a value to a key.", "O(1)", "string", "2.0.0"},
	"STRLEN":      {"Get the length of the value stored in a key.", "O(1)", "string", "2.2.0"},
	"INCR":        {"Increment the integer value of a key by one.", "O(1)", "string", "1.0.0"},
	"DECR":        {"Decrement the integer value of a key by one.", "O(1)", "string", "1.0.0"},
	"INCRBY":      {"Increment the integer value of a key by the given amount.", "O(1)", "string", "1.0.0"},
	"DECRBY":      {"Decrement the integer value of a key by the given number.", "O(1)", "string", "1.0.0"},
	"INCRBYFLOAT": {"Increment the float value of a key by the given amount.", "O(1)", "string", "2.6.0"},
	"GETRANGE":    {"Get a substring of the string stored at a key.", "O(N) where N is the length of the returned string.", "string", "2.4.0"},

	"LPUSH":  {"Prepend one or multiple elements to a list.", "O(N) where N is the number of elements to push.", "list", "1.0.0"},
	"RPUSH":  {"Append one or multiple elements to a list.", "O(N) where N is the number of elements to push.", "list", "1.0.0"},
	"LPUSHX": {"Prepend an element to a list, only if the list exists.", "O(N) where N is the number of elements to push.", "list", "2.2.0"},
	"RPUSHX": {"Append an element to a list, only if the list exists.", "O(N) where N is the number of elements to push.", "list", "2.2.0"},
	"LPOP":   {"Remove and get the first elements in a list.", "O(N) where N is the number of elements returned.", "list", "1.0.0"},
	"RPOP":   {"Remove and get the last elements in a list.", "O(N) where N is the number of elements returned.", "list", "1.0.0"},
	"LLEN":   {"Get the length of a list.", "O(1)", "list", "1.0.0"},
	"LINDEX": {"Get an element from a list by its index.", "O(1)", "list", "1.0.0"},
	"LRANGE": {"Get a range of elements from a list.", "O(S+N) where S is the start offset and N the number of elements.", "list", "1.0.0"},
	"LSET":   {"Set the value of an element in a list by its index.", "O(1)", "list", "1.0.0"},

	"SADD":        {"Add one or more members to a set.", "O(N) where N is the number of members to add.", "set", "1.0.0"},
	"SREM":        {"Remove one or more members from a set.", "O(N) where N is the number of members to remove.", "set", "1.0.0"},
	"SPOP":        {"Remove and return one or multiple random members from a set.", "O(N) where N is the count.", "set", "1.0.0"},
	"SCARD":       {"Get the number of members in a set.", "O(1)", "set", "1.0.0"},
	"SISMEMBER":   {"Determine if a given value is a member of a set.", "O(1)", "set", "1.0.0"},
	"SMEMBERS":    {"Get all the members in a set.", "O(N) where N is the set cardinality.", "set", "1.0.0"},
	"SUNION":      {"Add multiple sets.", "O(N) where N is the total number of elements in all given sets.", "set", "1.0.0"},
	"SINTER":      {"Intersect multiple sets.", "O(N*M) worst case where N is the smallest set and M the number of sets.", "set", "1.0.0"},
	"SUNIONSTORE": {"Add multiple sets and store the resulting set in a key.", "O(N) where N is the total number of elements in all given sets.", "set", "1.0.0"},

	"ZADD":   {"Add one or more members to a sorted set, or update its score if it already exists.", "O(log(N)) for each item added.", "sorted-set", "1.2.0"},
	"ZSCORE": {"Get the score associated with the given member in a sorted set.", "O(1)", "sorted-set", "1.2.0"},
	"ZCARD":  {"Get the number of members in a sorted set.", "O(1)", "sorted-set", "1.2.0"},
	"ZCOUNT": {"Count the members in a sorted set with scores within the given values.", "O(log(N)+M) with M the number of counted elements.", "sorted-set", "2.0.0"},
	"ZRANK":  {"Determine the index of a member in a sorted set.", "O(log(N))", "sorted-set", "2.0.0"},
	"ZREM":   {"Remove one or more members from a sorted set.", "O(M*log(N)) with M the number of members to remove.", "sorted-set", "1.2.0"},
	"ZRANGE": {"Return a range of members in a sorted set.", "O(log(N)+M) with M the number of elements returned.", "sorted-set", "1.2.0"},

	"HSET":    {"Set the string value of a hash field.", "O(N) where N is the number of field/value pairs being set.", "hash", "2.0.0"},
	"HSETNX":  {"Set the value of a hash field, only if the field does not exist.", "O(1)", "hash", "2.0.0"},
	"HGET":    {"Get the value of a hash field.", "O(1)", "hash", "2.0.0"},
	"HMSET":   {"Set multiple hash fields to multiple values.", "O(N) where N is the number of fields being set.", "hash", "2.0.0"},
	"HMGET":   {"Get the values of all the given hash fields.", "O(N) where N is the number of fields being requested.", "hash", "2.0.0"},
	"HDEL":    {"Delete one or more hash fields.", "O(N) where N is the number of fields to be removed.", "hash", "2.0.0"},
	"HLEN":    {"Get the number of fields in a hash.", "O(1)", "hash", "2.0.0"},
	"HEXISTS": {"Determine if a hash field exists.", "O(1)", "hash", "2.0.0"},
	"HGETALL": {"Get all the fields and values in a hash.", "O(N) where N is the size of the hash.", "hash", "2.0.0"},
	"HKEYS":   {"Get all the fields in a hash.", "O(N) where N is the size of the hash.", "hash", "2.0.0"},
	"HVALS":   {"Get all the values in a hash.", "O(N) where N is the size of the hash.", "hash", "2.0.0"},

	"PING":   {"Ping the server.", "O(1)", "connection", "1.0.0"},
	"ECHO":   {"Echo the given string.", "O(1)", "connection", "1.0.0"},
	"AUTH":   {"Authenticate to the server.", "O(N) where N is the number of passwords defined for the user.", "connection", "1.0.0"},
	"SELECT": {"Change the selected database for the current connection.", "O(1)", "connection", "1.0.0"},
	"QUIT":   {"Close the connection.", "O(1)", "connection", "1.0.0"},
	"CLIENT": {"A container for client connection commands.", "Depends on subcommand.", "connection", "2.4.0"},

	"DBSIZE":   {"Return the number of keys in the selected database.", "O(1)", "server", "1.0.0"},
	"FLUSHDB":  {"Remove all keys from the current database.", "O(N) where N is the number of keys in the selected database.", "server", "1.0.0"},
	"FLUSHALL": {"Remove all keys from all databases.", "O(N) where N is the total number of keys in all databases.", "server", "1.0.0"},
	"SAVE":     {"Synchronously save the dataset to disk.", "O(N) where N is the total number of keys in all databases.", "server", "1.0.0"},
	"BGSAVE":   {"Asynchronously save the dataset to disk.", "O(1)", "server", "1.0.0"},
	"LASTSAVE": {"Get the UNIX time stamp of the last successful save to disk.", "O(1)", "server", "1.0.0"},
	"INFO":     {"Get information and statistics about the server.", "O(1)", "server", "1.0.0"},
	"COMMAND":  {"Get array of command details.", "O(N) where N is the number of commands to look up.", "server", "2.8.13"},

	"MULTI":   {"Mark the start of a transaction block.", "O(1)", "transactions", "1.2.0"},
	"EXEC":    {"Execute all commands issued after MULTI.", "Depends on commands in the transaction.", "transactions", "1.2.0"},
	"DISCARD": {"Discard all commands issued after MULTI.", "O(N), when N is the number of queued commands.", "transactions", "2.0.0"},
}

func makeFlagsArray(flags []string) resp.Value {
	vals := make([]resp.Value, len(flags))
	for i, f := range flags {
		vals[i] = resp.MakeSimpleString(f)
	}
	return resp.MakeArray(vals)
}

func makeInfoCmdArray(name string) []resp.Value {
	meta := commandRegistry[name]
	return []resp.Value{
		resp.MakeBulkString(strings.ToLower(name)),
		resp.MakeInteger(int64(meta.arity)),
		makeFlagsArray(meta.flags),
		resp.MakeInteger(int64(meta.firstKey)),
		resp.MakeInteger(int64(meta.lastKey)),
		resp.MakeInteger(int64(meta.step)),
	}
}

func sortedCommandNames() []string {
	names := make([]string, 0, len(commandRegistry))
	for name := range commandRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func getAllCommands() resp.Value {
	cmdArray := make([]resp.Value, 0, len(commandRegistry))
	for _, name := range sortedCommandNames() {
		details := makeInfoCmdArray(name)
		cmdArray = append(cmdArray, resp.MakeArray(details))
	}
	return resp.MakeArray(cmdArray)
}

// getCommandsInfo returns the details of the named commands, null for unknown ones
func getCommandsInfo(args [][]byte) resp.Value {
	if len(args) == 0 {
		return getAllCommands()
	}

	result := make([]resp.Value, 0, len(args))
	for _, arg := range args {
		name := strings.ToUpper(string(arg))
		if _, ok := commandRegistry[name]; !ok {
			result = append(result, resp.MakeNilArray())
			continue
		}
		result = append(result, resp.MakeArray(makeInfoCmdArray(name)))
	}
	return resp.MakeArray(result)
}

// getCommandsDocs returns documentation for specified commands or all commands
// Format: [Name, [Summary, val, Since, val...], Name, [...]]
func getCommandsDocs(args [][]byte) resp.Value {
	var targets []string

	if len(args) == 0 {
		targets = make([]string, 0, len(commandDocsRegistry))
		for name := range commandDocsRegistry {
			targets = append(targets, name)
		}
		sort.Strings(targets)
	} else {
		targets = make([]string, 0, len(args))
		for _, arg := range args {
			targets = append(targets, strings.ToUpper(string(arg)))
		}
	}

	result := make([]resp.Value, 0, len(targets)*2)

	for _, name := range targets {
		doc, ok := commandDocsRegistry[name]
		if !ok {
			continue
		}

		result = append(result, resp.MakeBulkString(strings.ToLower(name)))

		props := []resp.Value{
			resp.MakeBulkString("summary"),
			resp.MakeBulkString(doc.summary),
			resp.MakeBulkString("since"),
			resp.MakeBulkString(doc.since),
			resp.MakeBulkString("group"),
			resp.MakeBulkString(doc.group),
			resp.MakeBulkString("complexity"),
			resp.MakeBulkString(doc.complexity),
		}

		result = append(result, resp.MakeArray(props))
	}

	return resp.MakeArray(result)
}
