package roomchat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// fakeTransport hands every dial to the test, which decides when and how it completes.
type fakeTransport struct {
	dials chan *pendingDial
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{dials: make(chan *pendingDial, 16)}
}

type dialResult struct {
	conn Conn
	err  error
}

type pendingDial struct {
	ctx   context.Context
	url   string
	reply chan dialResult
}

// Dial ignores ctx cancellation on purpose so tests can complete superseded dials.
func (t *fakeTransport) Dial(ctx context.Context, url string) (Conn, error) {
	d := &pendingDial{ctx: ctx, url: url, reply: make(chan dialResult, 1)}
	t.dials <- d
	r := <-d.reply
	return r.conn, r.err
}

func (t *fakeTransport) next(tb testing.TB) *pendingDial {
	tb.Helper()
	select {
	case d := <-t.dials:
		return d
	case <-time.After(waitFor):
		tb.Fatal("timed out waiting for dial")
		return nil
	}
}

func (d *pendingDial) open() *fakeConn {
	c := newFakeConn()
	d.reply <- dialResult{conn: c}
	return c
}

func (d *pendingDial) fail(err error) {
	d.reply <- dialResult{err: err}
}

// fakeConn is an in-memory Conn.
type fakeConn struct {
	inbound chan []byte
	gone    chan struct{}

	mu          sync.Mutex
	written     [][]byte
	closeCalls  int
	closeCode   StatusCode
	closeReason string
	readErr     error
	goneOnce    sync.Once
	hold        chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		gone:    make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case p := <-c.inbound:
		return p, nil
	case <-c.gone:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.readErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, payload []byte) error {
	select {
	case <-c.gone:
		return context.Canceled
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, payload)
	return nil
}

func (c *fakeConn) Close(code StatusCode, reason string) error {
	c.mu.Lock()
	c.closeCalls++
	if c.closeCalls == 1 {
		c.closeCode = code
		c.closeReason = reason
	}
	hold := c.hold
	c.mu.Unlock()
	if hold != nil {
		<-hold
	}
	c.mu.Lock()
	if c.readErr == nil {
		c.readErr = context.Canceled
	}
	c.mu.Unlock()
	c.goneOnce.Do(func() { close(c.gone) })
	return nil
}

// holdClose makes Close record the request but keep the connection readable
// until the returned release func is called, like a socket still draining
// frames the server sent before it saw the close.
func (c *fakeConn) holdClose() (release func()) {
	hold := make(chan struct{})
	c.mu.Lock()
	c.hold = hold
	c.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(hold) }) }
}

// remoteClose ends the connection from the server side.
func (c *fakeConn) remoteClose(err error) {
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
	c.goneOnce.Do(func() { close(c.gone) })
}

func (c *fakeConn) deliver(payload string) {
	c.inbound <- []byte(payload)
}

func (c *fakeConn) writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

func (c *fakeConn) closed() (calls int, code StatusCode, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls, c.closeCode, c.closeReason
}

func (c *fakeConn) waitWrites(tb testing.TB, n int) [][]byte {
	tb.Helper()
	require.Eventually(tb, func() bool { return len(c.writes()) >= n }, waitFor, time.Millisecond)
	return c.writes()
}

func (c *fakeConn) waitClosed(tb testing.TB) (StatusCode, string) {
	tb.Helper()
	require.Eventually(tb, func() bool {
		calls, _, _ := c.closed()
		return calls > 0
	}, waitFor, time.Millisecond)
	_, code, reason := c.closed()
	return code, reason
}
