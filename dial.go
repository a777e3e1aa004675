package shardclient

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// Greeting is the banner a backend node sends on connect. The salt is used
// by internal user authentication.
type Greeting struct {
	Version string
	Salt    string
}

// writeFlusher is the interface that groups the basic Write and Flush methods.
type writeFlusher interface {
	io.Writer
	Flush() error
}

// Conn is a generic stream-oriented network connection to a backend node.
type Conn interface {
	// Read reads data from the connection.
	Read(b []byte) (int, error)
	// Write writes data to the connection. There may be an internal buffer
	// for better performance control from a client side.
	Write(b []byte) (int, error)
	// Flush writes any buffered data.
	Flush() error
	// Close closes the connection. Any blocked Read or Flush operations
	// will be unblocked and return errors.
	Close() error
	// LocalAddr returns the local network address, if known.
	LocalAddr() net.Addr
	// RemoteAddr returns the remote network address, if known.
	RemoteAddr() net.Addr
	// Greeting returns the server greeting.
	Greeting() Greeting
}

// DialOpts is a way to configure a Dial method to create a new Conn.
type DialOpts struct {
	// DialTimeout is a timeout for an initial network dial.
	DialTimeout time.Duration
	// IoTimeout is a timeout per a network read/write.
	IoTimeout time.Duration
}

// Dialer is the interface that wraps a method to connect to a backend node.
// The result is a transport-level connection: greeted, but neither
// authenticated nor otherwise prepared. Connection preparation belongs to
// ConnHook.OnCreate.
type Dialer interface {
	// Dial connects to a backend node at the address with the specified
	// options.
	Dial(ctx context.Context, address string, opts DialOpts) (Conn, error)
}

type netConn struct {
	net      net.Conn
	reader   io.Reader
	writer   writeFlusher
	greeting Greeting
}

// NetDialer is the default implementation of the Dialer interface for plain
// TCP and unix socket connections.
type NetDialer struct {
}

// Dial connects to a backend node at the address with the specified options.
func (d NetDialer) Dial(ctx context.Context, address string,
	opts DialOpts) (Conn, error) {
	var err error
	conn := new(netConn)

	network, address := parseAddress(address)
	dialer := net.Dialer{Timeout: opts.DialTimeout}
	if conn.net, err = dialer.DialContext(ctx, network, address); err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	dc := &deadlineIO{to: opts.IoTimeout, c: conn.net}
	conn.reader = bufio.NewReaderSize(dc, 16*1024)
	conn.writer = bufio.NewWriterSize(dc, 16*1024)

	if conn.greeting, err = readGreeting(conn.reader); err != nil {
		conn.net.Close()
		return nil, fmt.Errorf("failed to read greeting: %w", err)
	}

	return conn, nil
}

// Read makes netConn satisfy the Conn interface.
func (c *netConn) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}

// Write makes netConn satisfy the Conn interface.
func (c *netConn) Write(p []byte) (int, error) {
	if l, err := c.writer.Write(p); err != nil {
		return l, err
	} else if l != len(p) {
		return l, fmt.Errorf("wrong length written")
	} else {
		return l, nil
	}
}

// Flush makes netConn satisfy the Conn interface.
func (c *netConn) Flush() error {
	return c.writer.Flush()
}

// Close makes netConn satisfy the Conn interface.
func (c *netConn) Close() error {
	return c.net.Close()
}

// RemoteAddr makes netConn satisfy the Conn interface.
func (c *netConn) RemoteAddr() net.Addr {
	return c.net.RemoteAddr()
}

// LocalAddr makes netConn satisfy the Conn interface.
func (c *netConn) LocalAddr() net.Addr {
	return c.net.LocalAddr()
}

// Greeting makes netConn satisfy the Conn interface.
func (c *netConn) Greeting() Greeting {
	return c.greeting
}

// deadlineIO applies a per-operation deadline to reads and writes.
type deadlineIO struct {
	to time.Duration
	c  net.Conn
}

func (d *deadlineIO) Read(p []byte) (int, error) {
	if d.to > 0 {
		d.c.SetReadDeadline(time.Now().Add(d.to))
	}
	return d.c.Read(p)
}

func (d *deadlineIO) Write(p []byte) (int, error) {
	if d.to > 0 {
		d.c.SetWriteDeadline(time.Now().Add(d.to))
	}
	return d.c.Write(p)
}

// parseAddress splits an address into network and address parts.
func parseAddress(address string) (string, string) {
	network := "tcp"
	addrLen := len(address)

	if addrLen > 0 && (address[0] == '.' || address[0] == '/') {
		network = "unix"
	} else if addrLen >= 7 && address[0:7] == "unix://" {
		network = "unix"
		address = address[7:]
	} else if addrLen >= 5 && address[0:5] == "unix:" {
		network = "unix"
		address = address[5:]
	} else if addrLen >= 6 && address[0:6] == "tcp://" {
		address = address[6:]
	} else if addrLen >= 4 && address[0:4] == "tcp:" {
		address = address[4:]
	}

	return network, address
}

// greetingSize is the fixed length of the banner: 64 bytes of server
// version, 44 bytes of auth salt, padding up to 128.
const (
	greetingSize     = 128
	greetingSaltSize = 44
)

// readGreeting reads the fixed-size greeting banner.
func readGreeting(reader io.Reader) (Greeting, error) {
	var g Greeting

	data := make([]byte, greetingSize)
	if _, err := io.ReadFull(reader, data); err != nil {
		return g, err
	}

	g.Version = string(bytes.TrimRight(data[:64], "\x00 \n"))
	g.Salt = string(bytes.TrimRight(data[64:64+greetingSaltSize], "\x00 \n"))

	return g, nil
}
