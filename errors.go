package shardclient

import "fmt"

// ServerError is a command failure reported by a backend node.
type ServerError struct {
	Code uint32
	Msg  string
}

// Error converts a ServerError to a string.
func (srverr ServerError) Error() string {
	return fmt.Sprintf("%s (0x%x)", srverr.Msg, srverr.Code)
}

// ClientError is a connection error produced by this client,
// i.e. connection setup failures or protocol violations.
type ClientError struct {
	Code uint32
	Msg  string
}

// Error converts a ClientError to a string.
func (clierr ClientError) Error() string {
	return fmt.Sprintf("%s (0x%x)", clierr.Msg, clierr.Code)
}

// Temporary returns true if the next attempt on a fresh connection may
// succeed.
//
// Authentication rejections and config server classification failures are
// configuration problems, not transient conditions.
func (clierr ClientError) Temporary() bool {
	switch clierr.Code {
	case ErrConnectionNotReady, ErrTimeouted:
		return true
	default:
		return false
	}
}

// Client error codes.
const (
	ErrConnectionNotReady = 0x4000 + iota
	ErrConnectionClosed
	ErrProtocolError
	ErrTimeouted
	ErrAuthFailed
	ErrUnrecognizedConfigVersion
)
