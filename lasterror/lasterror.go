// Package lasterror tracks per-session routing statistics extracted from
// reply metadata, so a router can target the node that executed a write when
// the same session later asks about its outcome.
package lasterror

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	shardclient "github.com/vivicoco/go-shardclient"
)

// metadataKey is the reply metadata field carrying the routing statistics
// sub-document.
const metadataKey = "gleStats"

// Stats is one recorded reply observation.
type Stats struct {
	// LastOpTime is the operation time the replying node reported.
	LastOpTime int64
	// ElectionID identifies the primary term the reply was produced under.
	ElectionID string
}

type key struct {
	session uuid.UUID
	host    string
}

// Registry is the process-wide last-error tracking structure, keyed by
// (client session, host). Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	stats map[key]Stats
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{stats: make(map[key]Stats)}
}

// RecordReplyMetadata implements shardclient.ReplyStatsRecorder. Replies
// without a statistics sub-document are ignored. Recording is best effort:
// the caller reports returned errors and never fails the owning RPC.
func (r *Registry) RecordReplyMetadata(session uuid.UUID, host string,
	meta shardclient.Document) error {
	raw, ok := meta[metadataKey]
	if !ok {
		return nil
	}

	sub, ok := shardclient.AsDocument(raw)
	if !ok {
		return fmt.Errorf("%s is not a document", metadataKey)
	}

	opTime, err := shardclient.ExtractIntegerField(sub, "lastOpTime")
	if err != nil {
		return fmt.Errorf("%s: %w", metadataKey, err)
	}

	// The election id is absent on nodes that are not replica set members.
	electionID, err := shardclient.ExtractStringField(sub, "electionId")
	if err != nil {
		electionID = ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats[key{session: session, host: host}] = Stats{
		LastOpTime: opTime,
		ElectionID: electionID,
	}
	return nil
}

// Get returns the last recorded statistics for a session and host.
func (r *Registry) Get(session uuid.UUID, host string) (Stats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stats[key{session: session, host: host}]
	return s, ok
}

// ForgetSession drops every record of a logical session, typically when the
// client disconnects.
func (r *Registry) ForgetSession(session uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.stats {
		if k.session == session {
			delete(r.stats, k)
		}
	}
}

// Len reports the number of recorded observations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stats)
}
