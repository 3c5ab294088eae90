package conn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errFakeClosed = errors.New("fake conn closed")

// fakeConn plays the server side of one socket.
type fakeConn struct {
	in      chan []byte
	written chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan []byte, 16),
		written: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, errFakeClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.written <- cp
	return nil
}

func (c *fakeConn) Ping(ctx context.Context) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// push delivers a server frame.
func (c *fakeConn) push(frame string) { c.in <- []byte(frame) }

// fakeDialer hands out scripted results in order; once the script runs
// out every dial fails.
type fakeDialer struct {
	mu     sync.Mutex
	script []any // *fakeConn or error
	calls  int
	ids    []string
}

func (d *fakeDialer) Dial(ctx context.Context, playerID string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.ids = append(d.ids, playerID)
	if len(d.script) == 0 {
		return nil, &TransportError{Op: "dial", Err: errors.New("connection refused")}
	}
	next := d.script[0]
	d.script = d.script[1:]
	switch v := next.(type) {
	case *fakeConn:
		return v, nil
	case error:
		return nil, &TransportError{Op: "dial", Err: v}
	}
	panic("bad script entry")
}

func (d *fakeDialer) queue(entries ...any) {
	d.mu.Lock()
	d.script = append(d.script, entries...)
	d.mu.Unlock()
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// recordingSleep never waits; it only records requested delays.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleep) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func recvStatus(t *testing.T, ch <-chan Status, within time.Duration) Status {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			t.Fatalf("status stream closed unexpectedly")
		}
		return s
	case <-time.After(within):
		t.Fatalf("timed out waiting for status")
		return Status{}
	}
}

func recvFrame(t *testing.T, c *fakeConn, within time.Duration) string {
	t.Helper()
	select {
	case f := <-c.written:
		return string(f)
	case <-time.After(within):
		t.Fatalf("timed out waiting for written frame")
		return ""
	}
}

func recvNoFrame(t *testing.T, c *fakeConn, within time.Duration) {
	t.Helper()
	select {
	case f := <-c.written:
		t.Fatalf("expected no frame within %v, got %s", within, f)
	case <-time.After(within):
	}
}
