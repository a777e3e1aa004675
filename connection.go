package shardclient

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Kind tags the topology role of a connection. It is resolved once, when the
// pool or transport layer creates the connection, and never changes.
type Kind int

const (
	// KindOther is a connection with no routing-specific behavior.
	KindOther Kind = iota
	// KindSingle is a connection to a single master or replica node.
	KindSingle
	// KindSyncSet is a connection fanning out to a multi-node synchronous
	// set.
	KindSyncSet
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindSyncSet:
		return "sync-set"
	default:
		return "other"
	}
}

// ReplyMetadataReader observes the metadata document of every reply received
// over a connection, together with the host the reply came from. It must be
// cheap, must not block and must not issue new network calls.
type ReplyMetadataReader func(meta Document, host string) error

// RequestMetadataWriter appends to the metadata document of every request
// sent over a connection. Same restrictions as ReplyMetadataReader.
type RequestMetadataWriter func(meta Document) error

// packetLengthBytes is the size of the length prefix of a wire packet.
const packetLengthBytes = 4

type wireRequest struct {
	Cmd  string   `msgpack:"cmd"`
	Args Document `msgpack:"args"`
	Meta Document `msgpack:"meta,omitempty"`
}

type wireResponse struct {
	Ok     bool     `msgpack:"ok"`
	Code   uint32   `msgpack:"code"`
	ErrMsg string   `msgpack:"errmsg"`
	Body   Document `msgpack:"body"`
	Meta   Document `msgpack:"meta"`
}

// Connection is a handle with a single logical link to one backend node.
//
// The handle is created over a transport Conn produced by a Dialer and is
// owned by whoever created it, normally a pool. It carries the connection
// kind tag, the session binding of the current logical caller and the
// per-RPC metadata interceptor slots that ConnHook installs.
type Connection struct {
	c    Conn
	addr string
	kind Kind

	// callMutex serializes wire exchanges; mutex guards handle state only
	// and is never held across network operations or interceptor calls.
	callMutex sync.Mutex
	mutex     sync.Mutex
	session   uuid.UUID
	closed    bool

	replyReader   ReplyMetadataReader
	requestWriter RequestMetadataWriter
	fastReads     FastReadHandler

	logger Logger
}

// ConnectionOpts is a way to configure a Connection handle.
type ConnectionOpts struct {
	// Logger is a user specified logger used for best-effort interceptor
	// failures. SimpleLogger is used when nil.
	Logger Logger
}

// NewConnection wraps a transport connection into a handle with the given
// address and kind tag.
func NewConnection(c Conn, addr string, kind Kind, opts ConnectionOpts) *Connection {
	logger := opts.Logger
	if logger == nil {
		logger = SimpleLogger{}
	}
	return &Connection{
		c:      c,
		addr:   addr,
		kind:   kind,
		logger: logger,
	}
}

// Addr returns the textual identity of the remote node.
func (conn *Connection) Addr() string {
	return conn.addr
}

// Kind returns the connection kind tag.
func (conn *Connection) Kind() Kind {
	return conn.kind
}

// Greeting returns the server greeting of the underlying transport.
func (conn *Connection) Greeting() Greeting {
	return conn.c.Greeting()
}

// HostPort returns the resolved host and port of the remote node, falling
// back to the dial address when the transport does not know it.
func (conn *Connection) HostPort() string {
	if addr := conn.c.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return conn.addr
}

// BindSession associates the connection with the logical client session it
// currently serves. Reply routing statistics are recorded under this key.
func (conn *Connection) BindSession(id uuid.UUID) {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	conn.session = id
}

// Session returns the currently bound logical client session.
func (conn *Connection) Session() uuid.UUID {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	return conn.session
}

// SetReplyMetadataReader installs the reply metadata interceptor. An error
// returned by the reader is reported to the logger and never fails the
// owning RPC.
func (conn *Connection) SetReplyMetadataReader(r ReplyMetadataReader) {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	conn.replyReader = r
}

// SetRequestMetadataWriter installs the request metadata interceptor. Same
// error contract as SetReplyMetadataReader.
func (conn *Connection) SetRequestMetadataWriter(w RequestMetadataWriter) {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	conn.requestWriter = w
}

// AttachFastReadHandler attaches a fast-read handler to a sync-set
// connection. The attachment is one-time: later calls on an already
// equipped connection are no-ops.
func (conn *Connection) AttachFastReadHandler(h FastReadHandler) {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	if conn.fastReads == nil {
		conn.fastReads = h
	}
}

// FastReadHandler returns the attached fast-read handler, or nil.
func (conn *Connection) FastReadHandler() FastReadHandler {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	return conn.fastReads
}

// Call issues a synchronous command against the remote node and returns the
// response body. The request metadata writer and reply metadata reader, when
// installed, run around the exchange; their failures are swallowed.
//
// A command the server rejects comes back as a ServerError. Transport
// failures come back wrapped.
func (conn *Connection) Call(name string, args Document) (Document, error) {
	conn.callMutex.Lock()
	defer conn.callMutex.Unlock()

	conn.mutex.Lock()
	closed := conn.closed
	requestWriter := conn.requestWriter
	replyReader := conn.replyReader
	conn.mutex.Unlock()

	if closed {
		return nil, ClientError{ErrConnectionClosed, "connection closed"}
	}

	req := wireRequest{Cmd: name, Args: args}
	if requestWriter != nil {
		meta := Document{}
		if err := requestWriter(meta); err != nil {
			conn.logger.Report(RequestMetadataFailedEvent{
				baseEvent: newBaseEvent(conn.addr),
				Error:     err,
			}, conn)
		} else if len(meta) > 0 {
			req.Meta = meta
		}
	}

	if err := writePacket(conn.c, req); err != nil {
		return nil, fmt.Errorf("%s command to %s: %w", name, conn.addr, err)
	}

	var resp wireResponse
	if err := readPacket(conn.c, &resp); err != nil {
		return nil, fmt.Errorf("%s response from %s: %w", name, conn.addr, err)
	}

	if replyReader != nil && resp.Meta != nil {
		if err := replyReader(resp.Meta, conn.addr); err != nil {
			conn.logger.Report(ReplyMetadataFailedEvent{
				baseEvent: newBaseEvent(conn.addr),
				Host:      conn.addr,
				Error:     err,
			}, conn)
		}
	}

	if !resp.Ok {
		return nil, ServerError{Code: resp.Code, Msg: resp.ErrMsg}
	}
	return resp.Body, nil
}

// Reset returns the per-use state of the connection to a clean baseline
// suitable for reuse by a different logical caller. It never fails.
func (conn *Connection) Reset() {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	conn.session = uuid.Nil
}

// Close closes the underlying transport. After this method is called there
// is no way to reuse the handle.
func (conn *Connection) Close() error {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	if conn.closed {
		return nil
	}
	conn.closed = true
	return conn.c.Close()
}

// writePacket writes one length-prefixed msgpack packet.
func writePacket(w writeFlusher, v interface{}) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("pack error: %w", err)
	}

	var lenbuf [packetLengthBytes]byte
	binary.BigEndian.PutUint32(lenbuf[:], uint32(len(body)))
	if _, err = w.Write(lenbuf[:]); err != nil {
		return fmt.Errorf("write error: %w", err)
	}
	if _, err = w.Write(body); err != nil {
		return fmt.Errorf("write error: %w", err)
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("flush error: %w", err)
	}
	return nil
}

// readPacket reads one length-prefixed msgpack packet.
func readPacket(r io.Reader, v interface{}) error {
	var lenbuf [packetLengthBytes]byte
	if _, err := io.ReadFull(r, lenbuf[:]); err != nil {
		return fmt.Errorf("read error: %w", err)
	}

	body := make([]byte, binary.BigEndian.Uint32(lenbuf[:]))
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("read error: %w", err)
	}

	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}
	return nil
}
