// Package version tracks the shard version state a router keeps per
// connection, used to detect stale routing decisions against a shard.
package version

import (
	"sync"

	shardclient "github.com/vivicoco/go-shardclient"
)

// Tracker owns per-connection shard version counters, keyed by namespace.
// Safe for concurrent use. Implements shardclient.VersionTracker.
type Tracker struct {
	mu    sync.RWMutex
	state map[*shardclient.Connection]map[string]uint64
}

// NewTracker builds an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{state: make(map[*shardclient.Connection]map[string]uint64)}
}

// IsTracked reports whether the connection is of a kind that carries shard
// version state. Only single master/replica connections do; sync-set and
// other connections never hold versions.
func (t *Tracker) IsTracked(conn *shardclient.Connection) bool {
	return conn.Kind() == shardclient.KindSingle
}

// Set records the shard version last sent over the connection for a
// namespace.
func (t *Tracker) Set(conn *shardclient.Connection, ns string, v uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	versions, ok := t.state[conn]
	if !ok {
		versions = make(map[string]uint64)
		t.state[conn] = versions
	}
	versions[ns] = v
}

// Get returns the shard version last recorded for a namespace over the
// connection.
func (t *Tracker) Get(conn *shardclient.Connection, ns string) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	versions, ok := t.state[conn]
	if !ok {
		return 0, false
	}
	v, ok := versions[ns]
	return v, ok
}

// Forget drops all version state associated with the connection. Called by
// the lifecycle hook when a connection is destroyed.
func (t *Tracker) Forget(conn *shardclient.Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.state, conn)
}
