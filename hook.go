package shardclient

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ConfigServerMode is the topology mode a config server reports in its
// probe response.
type ConfigServerMode int

const (
	// ModeLegacy is the tri-server, non-replicated config server topology
	// (configsvr version number 0).
	ModeLegacy ConfigServerMode = iota
	// ModeReplicaSet is the replica-set-backed config server topology
	// (configsvr version number 1).
	ModeReplicaSet
)

func (m ConfigServerMode) String() string {
	switch m {
	case ModeLegacy:
		return "legacy"
	case ModeReplicaSet:
		return "replica-set"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ReplyStatsRecorder records routing/last-error statistics carried in reply
// metadata, keyed by the logical client session and the originating host.
type ReplyStatsRecorder interface {
	RecordReplyMetadata(session uuid.UUID, host string, meta Document) error
}

// IdentityWriter appends the currently impersonated user/role identity, if
// any, to outgoing request metadata for downstream audit attribution.
type IdentityWriter interface {
	WriteImpersonatedIdentity(meta Document) error
}

// ModeScheduler asks the topology subsystem to move the catalog manager to
// the given config server mode if it is not already in the matching state.
// The transition itself runs deferred; only the scheduling call can report
// an error here. Implementations must be idempotent under concurrent
// identical requests.
type ModeScheduler interface {
	ScheduleModeSwap(mode ConfigServerMode, setName string, host string) error
}

// VersionTracker owns per-connection shard version state.
type VersionTracker interface {
	// IsTracked reports whether the connection is of a kind that carries
	// shard version state.
	IsTracked(conn *Connection) bool
	// Forget drops any version state associated with the connection.
	Forget(conn *Connection)
}

// HookDeps are the collaborators a ConnHook delegates to. All of them are
// injected; the hook keeps no ambient global state.
type HookDeps struct {
	// Auth performs internal user authentication. A nil or disabled
	// authenticator skips the authentication step.
	Auth Authenticator
	// Stats receives reply routing statistics. Required in sharded mode.
	Stats ReplyStatsRecorder
	// Audit writes impersonated identity metadata on requests.
	Audit IdentityWriter
	// Topology schedules config server mode transitions.
	Topology ModeScheduler
	// Versions tracks per-connection shard version state.
	Versions VersionTracker
	// FastReads is attached to sync-set connections. A nil value attaches
	// a disabled handler.
	FastReads FastReadHandler
	// Logger receives best-effort failure reports. SimpleLogger when nil.
	Logger Logger
}

// ConnHook prepares every outbound connection the routing process opens
// toward backend nodes and cleans up when a connection is destroyed or
// returned to a pool. Apart from the immutable sharded-mode flag it is
// stateless; concurrent calls on distinct connections need no locking.
type ConnHook struct {
	sharded bool
	deps    HookDeps
}

// NewConnHook builds the lifecycle hook. The sharded flag says whether this
// routing process operates in sharded mode and is fixed for the hook's
// lifetime.
func NewConnHook(sharded bool, deps HookDeps) *ConnHook {
	if deps.Logger == nil {
		deps.Logger = SimpleLogger{}
	}
	if deps.FastReads == nil {
		deps.FastReads = NewFastestMemberReads(false)
	}
	return &ConnHook{sharded: sharded, deps: deps}
}

// Sharded reports the mode flag the hook was built with.
func (h *ConnHook) Sharded() bool {
	return h.sharded
}

// OnCreate prepares a freshly established, unauthenticated connection. On
// error the connection is unusable and the caller must discard it.
//
// Authentication comes first: a connection that fails it never gets
// metadata interceptors installed and is never probed.
func (h *ConnHook) OnCreate(conn *Connection) error {
	if h.deps.Auth != nil && h.deps.Auth.Enabled() {
		h.deps.Logger.Report(AuthAttemptEvent{
			baseEvent: newBaseEvent(conn.Addr()),
			User:      h.deps.Auth.User(),
		}, conn)

		if err := h.deps.Auth.AuthenticateInternal(conn); err != nil {
			return ClientError{
				Code: ErrAuthFailed,
				Msg: fmt.Sprintf("can't authenticate to server %s: %s",
					conn.Addr(), err),
			}
		}
	}

	if h.sharded {
		// Capture the reply statistics of every command we pass along, so
		// that later last-error requests by the same session can be routed
		// to the node that executed the write.
		stats := h.deps.Stats
		logger := h.deps.Logger
		conn.SetReplyMetadataReader(func(meta Document, host string) error {
			if stats == nil {
				return nil
			}
			if err := stats.RecordReplyMetadata(conn.Session(), host, meta); err != nil {
				logger.Report(ReplyMetadataFailedEvent{
					baseEvent: newBaseEvent(conn.Addr()),
					Host:      host,
					Error:     err,
				}, conn)
			}
			return nil
		})
	}

	// Every request carries the impersonated users and roles so the backend
	// can attribute audit records to the proper authenticated identity.
	audit := h.deps.Audit
	conn.SetRequestMetadataWriter(func(meta Document) error {
		if audit == nil {
			return nil
		}
		return audit.WriteImpersonatedIdentity(meta)
	})

	switch conn.Kind() {
	case KindSyncSet:
		conn.AttachFastReadHandler(h.deps.FastReads)
	case KindSingle:
		return h.probeConfigServer(conn)
	}
	return nil
}

// probeConfigServer runs the ismaster probe on a single master/replica
// connection and, when the node turns out to be a config server, asks the
// topology subsystem to line up the catalog manager mode.
func (h *ConnHook) probeConfigServer(conn *Connection) error {
	resp, err := conn.Call("ismaster", Document{})
	if err != nil {
		return fmt.Errorf("ismaster probe of %s: %w", conn.Addr(), err)
	}

	modeNumber, err := ExtractIntegerField(resp, "configsvr")
	if errors.Is(err, ErrNoSuchKey) {
		// This isn't a config server we're talking to.
		return nil
	}
	if err != nil {
		return ClientError{
			Code: ErrUnrecognizedConfigVersion,
			Msg: fmt.Sprintf("malformed configsvr field in ismaster response from %s: %s",
				conn.Addr(), err),
		}
	}

	if modeNumber != 0 && modeNumber != 1 {
		return ClientError{
			Code: ErrUnrecognizedConfigVersion,
			Msg: fmt.Sprintf("unrecognized configsvr version number: %d. Expected either 0 or 1",
				modeNumber),
		}
	}

	mode := ModeLegacy
	if modeNumber == 1 {
		mode = ModeReplicaSet
	}

	// The set name may legitimately be absent or of the wrong type for
	// legacy config servers.
	setName, err := ExtractStringField(resp, "setName")
	if err != nil {
		setName = ""
	}

	h.deps.Logger.Report(ConfigServerDetectedEvent{
		baseEvent: newBaseEvent(conn.Addr()),
		Mode:      mode,
		SetName:   setName,
	}, conn)

	if h.deps.Topology == nil {
		return nil
	}
	if err := h.deps.Topology.ScheduleModeSwap(mode, setName, conn.HostPort()); err != nil {
		return fmt.Errorf("schedule config server mode swap for %s: %w",
			conn.HostPort(), err)
	}
	return nil
}

// OnDestroy drops per-connection routing state before the connection goes
// away. It is cleanup only and never fails the caller's teardown path.
func (h *ConnHook) OnDestroy(conn *Connection) {
	if h.sharded && h.deps.Versions != nil && h.deps.Versions.IsTracked(conn) {
		h.deps.Versions.Forget(conn)
	}
}

// OnRelease resets a connection that is returned to a pool rather than
// destroyed, so replica set connections can hand secondary sub-connections
// back to shared pools in a clean state. It never fails.
func (h *ConnHook) OnRelease(conn *Connection) {
	conn.Reset()
}
