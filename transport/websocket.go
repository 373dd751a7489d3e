package transport

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"minicord/gateway"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	WRITE_TIMEOUT     = 10 * time.Second
	HANDSHAKE_TIMEOUT = 10 * time.Second
	// READY for a large account can run to several megabytes.
	READ_LIMIT = 64 << 20
)

// Dialer opens gateway connections over gorilla/websocket. It never reconnects
// on its own; the gateway client owns that decision.
type Dialer struct {
	dialer       *websocket.Dialer
	logger       zerolog.Logger
	writeTimeout time.Duration
	readLimit    int64
}

func NewDialer(logger zerolog.Logger) *Dialer {
	return &Dialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: HANDSHAKE_TIMEOUT,
		},
		logger:       logger,
		writeTimeout: WRITE_TIMEOUT,
		readLimit:    READ_LIMIT,
	}
}

func (d *Dialer) Dial(ctx context.Context, url string, header http.Header) (gateway.Conn, error) {
	ws, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s (%s)", url, resp.Status)
		}
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	if d.readLimit > 0 {
		ws.SetReadLimit(d.readLimit)
	}
	d.logger.Debug().Str("url", url).Msg("websocket handshake complete")
	return newConn(ws, d.writeTimeout), nil
}

// Conn is one gateway WebSocket.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once

	mu          sync.Mutex
	closedLocal bool
	localCode   int
	localReason string
}

func newConn(ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{ws: ws, writeTimeout: writeTimeout}
}

// Run pumps inbound frames to handle until the socket closes.
func (c *Conn) Run(handle func(gateway.TransportEvent)) {
	defer c.ws.Close()

	handle(gateway.TransportEvent{Type: gateway.TransportOpen})
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(err, handle)
			return
		}
		if msgType != websocket.TextMessage {
			// Binary frames are zlib streams, which we never ask for.
			continue
		}
		handle(gateway.TransportEvent{Type: gateway.TransportMessage, Data: data})
	}
}

func (c *Conn) finish(err error, handle func(gateway.TransportEvent)) {
	c.mu.Lock()
	local, code, reason := c.closedLocal, c.localCode, c.localReason
	c.mu.Unlock()

	if local {
		handle(gateway.TransportEvent{Type: gateway.TransportClose, Code: code, Reason: reason})
		return
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		handle(gateway.TransportEvent{
			Type:   gateway.TransportClose,
			Code:   closeErr.Code,
			Reason: closeErr.Text,
			Remote: true,
		})
		return
	}

	handle(gateway.TransportEvent{Type: gateway.TransportError, Err: err})
	handle(gateway.TransportEvent{
		Type:   gateway.TransportClose,
		Code:   websocket.CloseAbnormalClosure,
		Reason: err.Error(),
		Remote: true,
	})
}

func (c *Conn) Send(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return errors.Wrap(err, "write frame")
	}
	return nil
}

// Close sends a close frame with code and tears the socket down, which makes Run
// return. Only the first call has an effect.
func (c *Conn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closedLocal = true
		c.localCode = code
		c.localReason = reason
		c.mu.Unlock()

		msg := websocket.FormatCloseMessage(code, reason)
		werr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) && !errors.Is(werr, net.ErrClosed) {
			err = errors.Wrap(werr, "write close frame")
		}
		if cerr := c.ws.Close(); cerr != nil && err == nil && !errors.Is(cerr, net.ErrClosed) {
			err = errors.Wrap(cerr, "close socket")
		}
	})
	return err
}
