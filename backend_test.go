package shardclient_test

import (
	"encoding/base64"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	shardclient "github.com/vivicoco/go-shardclient"
)

// testSalt is a well-formed greeting salt: 44 base64 characters.
var testSalt = base64.StdEncoding.EncodeToString([]byte(
	"0123456789abcdefghijklmnopqrstuv0"))

// pipeConn adapts one end of a net.Pipe to the shardclient.Conn interface.
type pipeConn struct {
	net      net.Conn
	greeting shardclient.Greeting
}

func (c *pipeConn) Read(b []byte) (int, error)  { return c.net.Read(b) }
func (c *pipeConn) Write(b []byte) (int, error) { return c.net.Write(b) }
func (c *pipeConn) Flush() error                { return nil }
func (c *pipeConn) Close() error                { return c.net.Close() }
func (c *pipeConn) LocalAddr() net.Addr         { return nil }
func (c *pipeConn) RemoteAddr() net.Addr        { return nil }

func (c *pipeConn) Greeting() shardclient.Greeting { return c.greeting }

type backendRequest struct {
	Cmd  string
	Args shardclient.Document
	Meta shardclient.Document
}

// backend is a scripted in-memory server answering the wire protocol over a
// net.Pipe. The handler builds one response document per request.
type backend struct {
	mutex sync.Mutex
	reqs  []backendRequest

	handler func(req backendRequest) map[string]interface{}
	server  net.Conn
	done    chan struct{}
}

func okResponse(body, meta map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"ok": true, "body": body, "meta": meta}
}

func failResponse(code uint32, msg string) map[string]interface{} {
	return map[string]interface{}{"ok": false, "code": code, "errmsg": msg}
}

// pingHandler answers every command with an empty success.
func pingHandler(req backendRequest) map[string]interface{} {
	return okResponse(nil, nil)
}

// startBackend builds a Connection of the given kind wired to a scripted
// server goroutine.
func startBackend(t *testing.T, addr string, kind shardclient.Kind,
	handler func(backendRequest) map[string]interface{}) (*shardclient.Connection, *backend) {
	t.Helper()
	return startBackendWithSalt(t, addr, kind, testSalt, handler)
}

// startBackendWithSalt is startBackend with a custom greeting salt.
func startBackendWithSalt(t *testing.T, addr string, kind shardclient.Kind,
	salt string,
	handler func(backendRequest) map[string]interface{}) (*shardclient.Connection, *backend) {
	t.Helper()

	client, server := net.Pipe()
	b := &backend{
		handler: handler,
		server:  server,
		done:    make(chan struct{}),
	}
	go b.serve()
	t.Cleanup(func() {
		server.Close()
		client.Close()
		<-b.done
	})

	pc := &pipeConn{
		net: client,
		greeting: shardclient.Greeting{
			Version: "shardd-test",
			Salt:    salt,
		},
	}
	conn := shardclient.NewConnection(pc, addr, kind, shardclient.ConnectionOpts{})
	return conn, b
}

func (b *backend) serve() {
	defer close(b.done)
	for {
		var lenbuf [4]byte
		if _, err := io.ReadFull(b.server, lenbuf[:]); err != nil {
			return
		}
		body := make([]byte, binary.BigEndian.Uint32(lenbuf[:]))
		if _, err := io.ReadFull(b.server, body); err != nil {
			return
		}

		var wire struct {
			Cmd  string                 `msgpack:"cmd"`
			Args map[string]interface{} `msgpack:"args"`
			Meta map[string]interface{} `msgpack:"meta"`
		}
		if err := msgpack.Unmarshal(body, &wire); err != nil {
			return
		}

		req := backendRequest{
			Cmd:  wire.Cmd,
			Args: shardclient.Document(wire.Args),
			Meta: shardclient.Document(wire.Meta),
		}
		b.mutex.Lock()
		b.reqs = append(b.reqs, req)
		b.mutex.Unlock()

		resp, err := msgpack.Marshal(b.handler(req))
		if err != nil {
			return
		}
		binary.BigEndian.PutUint32(lenbuf[:], uint32(len(resp)))
		if _, err := b.server.Write(lenbuf[:]); err != nil {
			return
		}
		if _, err := b.server.Write(resp); err != nil {
			return
		}
	}
}

// requests returns a snapshot of everything the backend has seen.
func (b *backend) requests() []backendRequest {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	reqs := make([]backendRequest, len(b.reqs))
	copy(reqs, b.reqs)
	return reqs
}

// requestsFor returns the requests for one command.
func (b *backend) requestsFor(cmd string) []backendRequest {
	var out []backendRequest
	for _, req := range b.requests() {
		if req.Cmd == cmd {
			out = append(out, req)
		}
	}
	return out
}
