package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// fakeConn delivers scripted transport events on the Run goroutine.
type fakeConn struct {
	inbound chan TransportEvent
	sent    chan string
	closed  chan struct{}
	once    sync.Once

	mu     sync.Mutex
	code   int
	reason string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan TransportEvent, 16),
		sent:    make(chan string, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Run(handle func(TransportEvent)) {
	handle(TransportEvent{Type: TransportOpen})
	for {
		select {
		case evt := <-c.inbound:
			handle(evt)
			if evt.Type == TransportClose {
				return
			}
		case <-c.closed:
			c.mu.Lock()
			code, reason := c.code, c.reason
			c.mu.Unlock()
			handle(TransportEvent{Type: TransportClose, Code: code, Reason: reason})
			return
		}
	}
}

func (c *fakeConn) Send(text string) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.sent <- text
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.code = code
		c.reason = reason
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) closeCode() (int, bool) {
	select {
	case <-c.closed:
	default:
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, true
}

func (c *fakeConn) receive(frame string) {
	c.inbound <- TransportEvent{Type: TransportMessage, Data: []byte(frame)}
}

func (c *fakeConn) remoteClose(code int, reason string) {
	c.inbound <- TransportEvent{Type: TransportClose, Code: code, Reason: reason, Remote: true}
}

type sentFrame struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d"`
}

func (c *fakeConn) nextFrame(t *testing.T) sentFrame {
	t.Helper()
	select {
	case raw := <-c.sent:
		var frame sentFrame
		require.NoError(t, json.Unmarshal([]byte(raw), &frame))
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("no frame sent")
		return sentFrame{}
	}
}

// fakeDialer hands out queued connections in order.
type fakeDialer struct {
	conns chan *fakeConn

	mu   sync.Mutex
	urls []string
}

func newFakeDialer(conns ...*fakeConn) *fakeDialer {
	d := &fakeDialer{conns: make(chan *fakeConn, 8)}
	for _, c := range conns {
		d.conns <- c
	}
	return d
}

func (d *fakeDialer) Dial(ctx context.Context, url string, _ http.Header) (Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.mu.Unlock()

	select {
	case c := <-d.conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

type memoryStorage struct {
	mu     sync.Mutex
	data   *SessionData
	saves  int
	clears int
}

func (s *memoryStorage) Save(data *SessionData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *data
	s.data = &copied
	s.saves++
	return nil
}

func (s *memoryStorage) Load() (*SessionData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, ErrNoSession
	}
	copied := *s.data
	return &copied, nil
}

func (s *memoryStorage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	s.clears++
	return nil
}

func (s *memoryStorage) stored() *SessionData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}
