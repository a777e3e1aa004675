package shardclient

// FastReadHandler decides whether a read issued over a sync-set connection
// may be satisfied by the fastest-responding member of the set instead of
// waiting for the full synchronous quorum.
type FastReadHandler interface {
	// AllowFastRead reports whether the named command may take the fast
	// path.
	AllowFastRead(cmd string) bool
}

// fastestMemberReads is the default FastReadHandler. It allows read-only
// commands through when fast reads are switched on in the configuration.
type fastestMemberReads struct {
	enabled bool
}

// NewFastestMemberReads returns the default fast-read handler. With enabled
// false the handler rejects everything and reads always go through the full
// set.
func NewFastestMemberReads(enabled bool) FastReadHandler {
	return fastestMemberReads{enabled: enabled}
}

func (h fastestMemberReads) AllowFastRead(cmd string) bool {
	if !h.enabled {
		return false
	}
	switch cmd {
	case "find", "count", "listCollections", "ismaster":
		return true
	default:
		return false
	}
}
