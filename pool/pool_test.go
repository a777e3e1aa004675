package pool_test

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shardclient "github.com/vivicoco/go-shardclient"
	"github.com/vivicoco/go-shardclient/pool"
)

type stubConn struct {
	mu     sync.Mutex
	closed bool
}

func (c *stubConn) Read([]byte) (int, error)       { return 0, io.EOF }
func (c *stubConn) Write(p []byte) (int, error)    { return len(p), nil }
func (c *stubConn) Flush() error                   { return nil }
func (c *stubConn) LocalAddr() net.Addr            { return nil }
func (c *stubConn) RemoteAddr() net.Addr           { return nil }
func (c *stubConn) Greeting() shardclient.Greeting { return shardclient.Greeting{} }

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type stubDialer struct {
	mu    sync.Mutex
	dials []string
	conns []*stubConn
	err   error
}

func (d *stubDialer) Dial(ctx context.Context, address string,
	opts shardclient.DialOpts) (shardclient.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.dials = append(d.dials, address)
	conn := &stubConn{}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *stubDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dials...)
}

func (d *stubDialer) lastConn() *stubConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

type recordingHook struct {
	mu        sync.Mutex
	created   []*shardclient.Connection
	released  []*shardclient.Connection
	destroyed []*shardclient.Connection
	createErr error
}

func (h *recordingHook) OnCreate(conn *shardclient.Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.createErr != nil {
		return h.createErr
	}
	h.created = append(h.created, conn)
	return nil
}

func (h *recordingHook) OnRelease(conn *shardclient.Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = append(h.released, conn)
}

func (h *recordingHook) OnDestroy(conn *shardclient.Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroyed = append(h.destroyed, conn)
}

func (h *recordingHook) counts() (created, released, destroyed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.created), len(h.released), len(h.destroyed)
}

func newPool(t *testing.T, endpoints []pool.Endpoint,
	dialer *stubDialer, hook pool.Hook) *pool.Pool {
	t.Helper()
	p, err := pool.New(endpoints, pool.Opts{
		Dialer: dialer,
		Hook:   hook,
	})
	require.NoError(t, err)
	return p
}

func singleEndpoint() []pool.Endpoint {
	return []pool.Endpoint{{Addr: "shard-a:27018", Kind: shardclient.KindSingle}}
}

func TestPool_New_emptyEndpoints(t *testing.T) {
	_, err := pool.New(nil, pool.Opts{})
	assert.ErrorIs(t, err, pool.ErrEmptyEndpoints)
}

func TestPool_Get(t *testing.T) {
	dialer := &stubDialer{}
	hook := &recordingHook{}
	p := newPool(t, singleEndpoint(), dialer, hook)
	defer p.Close()

	conn, err := p.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "shard-a:27018", conn.Addr())
	assert.Equal(t, shardclient.KindSingle, conn.Kind())
	assert.NotEqual(t, uuid.Nil, conn.Session())
	assert.Equal(t, 1, p.Len())

	created, _, _ := hook.counts()
	assert.Equal(t, 1, created)
	assert.Equal(t, []string{"shard-a:27018"}, dialer.dialed())
}

func TestPool_Get_createHookFailure(t *testing.T) {
	dialer := &stubDialer{}
	hook := &recordingHook{createErr: errors.New("auth rejected")}
	p := newPool(t, singleEndpoint(), dialer, hook)
	defer p.Close()

	_, err := p.Get(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth rejected")
	assert.Equal(t, 0, p.Len())
}

func TestPool_Get_dialFailure(t *testing.T) {
	dialer := &stubDialer{err: errors.New("connection refused")}
	hook := &recordingHook{}
	p := newPool(t, singleEndpoint(), dialer, hook)
	defer p.Close()

	_, err := p.Get(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	created, _, _ := hook.counts()
	assert.Equal(t, 0, created)
}

func TestPool_Put_reusesWithoutRedial(t *testing.T) {
	dialer := &stubDialer{}
	hook := &recordingHook{}
	p := newPool(t, singleEndpoint(), dialer, hook)
	defer p.Close()

	conn, err := p.Get(context.Background())
	require.NoError(t, err)
	first := conn.Session()

	require.NoError(t, p.Put(conn))
	_, released, _ := hook.counts()
	assert.Equal(t, 1, released)

	again, err := p.Get(context.Background())
	require.NoError(t, err)

	assert.Same(t, conn, again)
	assert.Len(t, dialer.dialed(), 1)

	// A reused connection serves a fresh logical session.
	assert.NotEqual(t, first, again.Session())
	assert.NotEqual(t, uuid.Nil, again.Session())

	created, _, _ := hook.counts()
	assert.Equal(t, 1, created)
}

func TestPool_Put_unknownConnection(t *testing.T) {
	p := newPool(t, singleEndpoint(), &stubDialer{}, &recordingHook{})
	defer p.Close()

	stranger := shardclient.NewConnection(&stubConn{}, "shard-b:27018",
		shardclient.KindOther, shardclient.ConnectionOpts{})
	assert.ErrorIs(t, p.Put(stranger), pool.ErrUnknownConnection)
}

func TestPool_Discard(t *testing.T) {
	dialer := &stubDialer{}
	hook := &recordingHook{}
	p := newPool(t, singleEndpoint(), dialer, hook)
	defer p.Close()

	conn, err := p.Get(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Discard(conn))

	_, _, destroyed := hook.counts()
	assert.Equal(t, 1, destroyed)
	assert.Equal(t, 0, p.Len())
	assert.ErrorIs(t, p.Discard(conn), pool.ErrUnknownConnection)

	// A discarded connection is not handed out again.
	again, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, conn, again)
	assert.Len(t, dialer.dialed(), 2)
}

func TestPool_Get_roundRobin(t *testing.T) {
	dialer := &stubDialer{}
	p := newPool(t, []pool.Endpoint{
		{Addr: "shard-a:27018", Kind: shardclient.KindSingle},
		{Addr: "shard-b:27018", Kind: shardclient.KindSingle},
		{Addr: "shard-c:27018", Kind: shardclient.KindSingle},
	}, dialer, &recordingHook{})
	defer p.Close()

	seen := make(map[string]int)
	for i := 0; i < 6; i++ {
		conn, err := p.Get(context.Background())
		require.NoError(t, err)
		seen[conn.Addr()]++
	}

	assert.Equal(t, map[string]int{
		"shard-a:27018": 2,
		"shard-b:27018": 2,
		"shard-c:27018": 2,
	}, seen)
}

func TestPool_GetTo(t *testing.T) {
	dialer := &stubDialer{}
	p := newPool(t, []pool.Endpoint{
		{Addr: "shard-a:27018", Kind: shardclient.KindSingle},
		{Addr: "shard-b:27018", Kind: shardclient.KindSyncSet},
	}, dialer, &recordingHook{})
	defer p.Close()

	conn, err := p.GetTo(context.Background(), "shard-b:27018")
	require.NoError(t, err)
	assert.Equal(t, "shard-b:27018", conn.Addr())
	assert.Equal(t, shardclient.KindSyncSet, conn.Kind())

	_, err = p.GetTo(context.Background(), "config-a:27019")
	assert.ErrorIs(t, err, pool.ErrNoEndpoint)
}

func TestPool_Close(t *testing.T) {
	dialer := &stubDialer{}
	hook := &recordingHook{}
	p := newPool(t, singleEndpoint(), dialer, hook)

	conn, err := p.Get(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Put(conn))

	require.NoError(t, p.Close())

	_, _, destroyed := hook.counts()
	assert.Equal(t, 1, destroyed)

	_, err = p.Get(context.Background())
	assert.ErrorIs(t, err, pool.ErrClosed)
	assert.ErrorIs(t, p.Close(), pool.ErrClosed)
}

func TestPool_Put_afterClose(t *testing.T) {
	dialer := &stubDialer{}
	hook := &recordingHook{}
	p := newPool(t, singleEndpoint(), dialer, hook)

	conn, err := p.Get(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Close())

	assert.ErrorIs(t, p.Put(conn), pool.ErrClosed)
	_, _, destroyed := hook.counts()
	assert.Equal(t, 1, destroyed)
	assert.Equal(t, 0, p.Len())
}

// gatedReleaseHook parks OnRelease until the gate opens, exposing the window
// between the release hook and the idle push.
type gatedReleaseHook struct {
	recordingHook
	releasing chan struct{}
	gate      chan struct{}
}

func (h *gatedReleaseHook) OnRelease(conn *shardclient.Connection) {
	close(h.releasing)
	<-h.gate
	h.recordingHook.OnRelease(conn)
}

func TestPool_Put_racingClose(t *testing.T) {
	dialer := &stubDialer{}
	hook := &gatedReleaseHook{
		releasing: make(chan struct{}),
		gate:      make(chan struct{}),
	}
	p := newPool(t, singleEndpoint(), dialer, hook)

	conn, err := p.Get(context.Background())
	require.NoError(t, err)

	putErr := make(chan error, 1)
	go func() {
		putErr <- p.Put(conn)
	}()

	// Close the pool while Put is parked between the release hook and the
	// idle push, then let the push land.
	<-hook.releasing
	require.NoError(t, p.Close())
	close(hook.gate)

	assert.ErrorIs(t, <-putErr, pool.ErrClosed)

	_, _, destroyed := hook.counts()
	assert.Equal(t, 1, destroyed)
	assert.Equal(t, 0, p.Len())
	assert.True(t, dialer.lastConn().isClosed())
}

func TestPool_RemoveEndpoint(t *testing.T) {
	dialer := &stubDialer{}
	hook := &recordingHook{}
	p := newPool(t, []pool.Endpoint{
		{Addr: "shard-a:27018", Kind: shardclient.KindSingle},
		{Addr: "shard-b:27018", Kind: shardclient.KindSingle},
	}, dialer, hook)
	defer p.Close()

	conn, err := p.GetTo(context.Background(), "shard-b:27018")
	require.NoError(t, err)
	require.NoError(t, p.Put(conn))

	require.NoError(t, p.RemoveEndpoint("shard-b:27018"))

	_, _, destroyed := hook.counts()
	assert.Equal(t, 1, destroyed)
	assert.Equal(t, 0, p.Len())
	assert.True(t, dialer.lastConn().isClosed())

	_, err = p.GetTo(context.Background(), "shard-b:27018")
	assert.ErrorIs(t, err, pool.ErrNoEndpoint)
	assert.ErrorIs(t, p.RemoveEndpoint("shard-b:27018"), pool.ErrNoEndpoint)

	// The remaining endpoint is the only one Get picks.
	for i := 0; i < 4; i++ {
		conn, err := p.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "shard-a:27018", conn.Addr())
	}
}

func TestPool_RemoveEndpoint_afterClose(t *testing.T) {
	p := newPool(t, singleEndpoint(), &stubDialer{}, &recordingHook{})
	require.NoError(t, p.Close())

	assert.ErrorIs(t, p.RemoveEndpoint("shard-a:27018"), pool.ErrClosed)
}

func TestPool_Put_afterRemoveEndpoint(t *testing.T) {
	dialer := &stubDialer{}
	hook := &recordingHook{}
	p := newPool(t, singleEndpoint(), dialer, hook)
	defer p.Close()

	conn, err := p.Get(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.RemoveEndpoint("shard-a:27018"))

	assert.ErrorIs(t, p.Put(conn), pool.ErrNoEndpoint)

	_, _, destroyed := hook.counts()
	assert.Equal(t, 1, destroyed)
	assert.Equal(t, 0, p.Len())
	assert.True(t, dialer.lastConn().isClosed())
}

func TestPool_concurrentGetPut(t *testing.T) {
	dialer := &stubDialer{}
	hook := &recordingHook{}
	p := newPool(t, []pool.Endpoint{
		{Addr: "shard-a:27018", Kind: shardclient.KindSingle},
		{Addr: "shard-b:27018", Kind: shardclient.KindSingle},
	}, dialer, hook)
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				conn, err := p.Get(context.Background())
				if !assert.NoError(t, err) {
					return
				}
				assert.NoError(t, p.Put(conn))
			}
		}()
	}
	wg.Wait()

	created, released, _ := hook.counts()
	assert.Equal(t, created, p.Len())
	assert.Equal(t, 400, released)
}
