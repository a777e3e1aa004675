// Package pool provides a connection pool for backend nodes that runs the
// connection lifecycle hook at the right moments: OnCreate before a new
// connection is handed out, OnRelease when it comes back, OnDestroy when it
// is evicted or the pool closes.
package pool

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	shardclient "github.com/vivicoco/go-shardclient"
)

var (
	ErrEmptyEndpoints    = errors.New("endpoints (first argument) should not be empty")
	ErrClosed            = errors.New("pool is closed")
	ErrNoEndpoint        = errors.New("no endpoint in pool")
	ErrUnknownConnection = errors.New("the passed connection doesn't belong to " +
		"the current pool")
)

// Hook receives lifecycle callbacks around a connection's life. The
// shardclient.ConnHook type implements it.
type Hook interface {
	OnCreate(conn *shardclient.Connection) error
	OnDestroy(conn *shardclient.Connection)
	OnRelease(conn *shardclient.Connection)
}

// Endpoint describes one backend node the pool connects to. The kind tag is
// resolved here, once, and every connection to the node carries it.
type Endpoint struct {
	Addr string
	Kind shardclient.Kind
}

// Opts configures a Pool.
type Opts struct {
	// Dialer produces transport connections. NetDialer when nil.
	Dialer shardclient.Dialer
	// DialOpts are passed to every dial.
	DialOpts shardclient.DialOpts
	// Hook is invoked around every connection's life. A nil hook skips
	// lifecycle processing, which is only useful in tests.
	Hook Hook
	// Logger receives pool events. SimpleLogger when nil.
	Logger shardclient.Logger
}

type endpoint struct {
	addr string
	kind shardclient.Kind

	mutex sync.Mutex
	idle  []*shardclient.Connection
}

func newEndpoint(addr string, kind shardclient.Kind) *endpoint {
	return &endpoint{
		addr: addr,
		kind: kind,
	}
}

func (e *endpoint) popIdle() *shardclient.Connection {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if len(e.idle) == 0 {
		return nil
	}
	conn := e.idle[len(e.idle)-1]
	e.idle = e.idle[:len(e.idle)-1]
	return conn
}

func (e *endpoint) pushIdle(conn *shardclient.Connection) int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.idle = append(e.idle, conn)
	return len(e.idle)
}

func (e *endpoint) drainIdle() []*shardclient.Connection {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	idle := e.idle
	e.idle = nil
	return idle
}

// Pool hands out hooked connections to a set of backend nodes, one endpoint
// per address, picked round-robin.
type Pool struct {
	opts Opts

	mutex    sync.RWMutex
	closed   bool
	strategy *roundRobinStrategy
	owner    map[*shardclient.Connection]*endpoint
}

// New builds a pool over the given endpoints.
func New(endpoints []Endpoint, opts Opts) (*Pool, error) {
	if opts.Dialer == nil {
		opts.Dialer = shardclient.NetDialer{}
	}
	if opts.Logger == nil {
		opts.Logger = shardclient.SimpleLogger{}
	}

	strategy := newRoundRobinStrategy(len(endpoints))
	for _, e := range endpoints {
		strategy.AddEndpoint(newEndpoint(e.Addr, e.Kind))
	}
	if strategy.IsEmpty() {
		return nil, ErrEmptyEndpoints
	}

	return &Pool{
		opts:     opts,
		strategy: strategy,
		owner:    make(map[*shardclient.Connection]*endpoint),
	}, nil
}

// Get returns a ready-to-use connection to the next endpoint, dialing and
// running the create hook when no idle connection is available. The
// connection is bound to a fresh logical session either way.
func (p *Pool) Get(ctx context.Context) (*shardclient.Connection, error) {
	p.mutex.RLock()
	closed := p.closed
	p.mutex.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	end := p.strategy.GetNextEndpoint()
	if end == nil {
		return nil, ErrNoEndpoint
	}
	return p.get(ctx, end)
}

// GetTo returns a connection to a specific endpoint address.
func (p *Pool) GetTo(ctx context.Context, addr string) (*shardclient.Connection, error) {
	p.mutex.RLock()
	closed := p.closed
	p.mutex.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	end := p.strategy.GetEndpointByAddr(addr)
	if end == nil {
		return nil, ErrNoEndpoint
	}
	return p.get(ctx, end)
}

func (p *Pool) get(ctx context.Context, end *endpoint) (*shardclient.Connection, error) {
	if conn := end.popIdle(); conn != nil {
		conn.BindSession(uuid.New())
		return conn, nil
	}

	c, err := p.opts.Dialer.Dial(ctx, end.addr, p.opts.DialOpts)
	if err != nil {
		return nil, err
	}

	conn := shardclient.NewConnection(c, end.addr, end.kind, shardclient.ConnectionOpts{
		Logger: p.opts.Logger,
	})

	if p.opts.Hook != nil {
		if err := p.opts.Hook.OnCreate(conn); err != nil {
			conn.Close()
			return nil, err
		}
	}

	conn.BindSession(uuid.New())

	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		p.destroy(conn)
		return nil, ErrClosed
	}
	p.owner[conn] = end
	p.mutex.Unlock()

	p.opts.Logger.Report(shardclient.NewPoolEvent(end.addr, "added", p.Len()), conn)
	return conn, nil
}

// Put returns a connection to the pool for reuse by a different logical
// caller. The release hook resets its per-use state first.
func (p *Pool) Put(conn *shardclient.Connection) error {
	p.mutex.RLock()
	end, ok := p.owner[conn]
	closed := p.closed
	p.mutex.RUnlock()

	if !ok {
		return ErrUnknownConnection
	}
	if closed {
		// Too late to pool it; tear it down instead.
		p.mutex.Lock()
		delete(p.owner, conn)
		p.mutex.Unlock()
		p.destroy(conn)
		return ErrClosed
	}

	if p.opts.Hook != nil {
		p.opts.Hook.OnRelease(conn)
	}
	end.pushIdle(conn)

	// Close or RemoveEndpoint may have drained the endpoint before the push
	// landed. Re-check and tear the idle list down ourselves, the same way
	// Get re-checks after registering.
	p.mutex.RLock()
	closed = p.closed
	p.mutex.RUnlock()
	if closed {
		p.teardownIdle(end)
		return ErrClosed
	}
	if p.strategy.GetEndpointByAddr(end.addr) != end {
		p.teardownIdle(end)
		return ErrNoEndpoint
	}
	return nil
}

func (p *Pool) teardownIdle(end *endpoint) {
	for _, conn := range end.drainIdle() {
		p.mutex.Lock()
		delete(p.owner, conn)
		p.mutex.Unlock()
		p.destroy(conn)
	}
}

// RemoveEndpoint drops a backend node from the pool, destroying its idle
// connections. Connections to the node currently handed out are destroyed
// when discarded; further Get calls never pick the node again.
func (p *Pool) RemoveEndpoint(addr string) error {
	p.mutex.RLock()
	closed := p.closed
	p.mutex.RUnlock()
	if closed {
		return ErrClosed
	}

	end := p.strategy.DeleteEndpointByAddr(addr)
	if end == nil {
		return ErrNoEndpoint
	}

	var result *multierror.Error
	for _, conn := range end.drainIdle() {
		p.mutex.Lock()
		delete(p.owner, conn)
		p.mutex.Unlock()

		if err := p.destroy(conn); err != nil {
			result = multierror.Append(result, err)
		}
		p.opts.Logger.Report(shardclient.NewPoolEvent(addr, "removed", p.Len()), conn)
	}
	return result.ErrorOrNil()
}

// Discard destroys a connection that must not be reused, e.g. after an
// error the caller does not want to recover from.
func (p *Pool) Discard(conn *shardclient.Connection) error {
	p.mutex.Lock()
	end, ok := p.owner[conn]
	if ok {
		delete(p.owner, conn)
	}
	p.mutex.Unlock()

	if !ok {
		return ErrUnknownConnection
	}

	err := p.destroy(conn)
	p.opts.Logger.Report(shardclient.NewPoolEvent(end.addr, "removed", p.Len()), conn)
	return err
}

// Len reports the number of connections owned by the pool.
func (p *Pool) Len() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return len(p.owner)
}

// Close destroys all idle connections and marks the pool closed.
// Connections currently handed out are destroyed when discarded. Teardown
// errors are aggregated, the destroy hook itself never fails.
func (p *Pool) Close() error {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return ErrClosed
	}
	p.closed = true
	p.mutex.Unlock()

	var result *multierror.Error
	for _, end := range p.strategy.GetEndpoints() {
		for _, conn := range end.drainIdle() {
			p.mutex.Lock()
			delete(p.owner, conn)
			p.mutex.Unlock()

			if err := p.destroy(conn); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

func (p *Pool) destroy(conn *shardclient.Connection) error {
	if p.opts.Hook != nil {
		p.opts.Hook.OnDestroy(conn)
	}
	return conn.Close()
}
