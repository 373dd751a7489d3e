package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Client keeps a session open on the gateway, reconnecting and resuming as the
// close codes allow.
type Client struct {
	identity       Identity
	gatewayURL     string
	dialer         Dialer
	handler        EventHandler
	storage        SessionStorage
	limiter        *RateLimiter
	backoff        backoff.BackOff
	connectTimeout time.Duration
	logger         zerolog.Logger
	registerer     prometheus.Registerer
	metrics        *Metrics
	heartbeat      *Heartbeater

	mu            sync.Mutex
	state         State
	connected     bool
	autoreconnect bool
	running       bool
	conn          Conn
	cancel        context.CancelFunc
	loopDone      chan struct{}
	lastClose     *CloseError
	wasReady      bool
}

// Snapshot is a point-in-time view of the client.
type Snapshot struct {
	Status    ConnectionStatus `json:"status"`
	Connected bool             `json:"connected"`
	Ready     bool             `json:"ready"`
	Resumable bool             `json:"resumable"`
	SessionID string           `json:"session_id"`
	Sequence  uint64           `json:"sequence"`
	Latency   time.Duration    `json:"latency"`
}

func NewClient(token string, dialer Dialer, opts ...ClientOption) (*Client, error) {
	if token == "" {
		return nil, errors.New("token is empty")
	}
	if dialer == nil {
		return nil, errors.New("dialer is nil")
	}

	c := &Client{
		identity:       NewIdentity(token),
		gatewayURL:     GatewayURL,
		dialer:         dialer,
		limiter:        DefaultRateLimiter(),
		backoff:        backoff.NewConstantBackOff(ReconnectDelay),
		connectTimeout: ConnectTimeout,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	c.metrics = NewMetrics(c.registerer)
	c.heartbeat = NewHeartbeater(c.sendHeartbeat, c.Sequence, c.closeZombie, c.metrics, c.logger)
	return c, nil
}

// Start connects and keeps reconnecting until Stop is called, ctx is cancelled or
// the gateway closes with a fatal code. It returns nil in the first two cases and
// a *CloseError in the last. Calling Start while it is already running returns
// nil immediately.
func (c *Client) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	for c.running {
		if c.autoreconnect {
			c.mu.Unlock()
			return nil
		}
		// A stopped loop is still winding down; start fresh once it is gone.
		done := c.loopDone
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil
		}
		c.mu.Lock()
	}
	loopDone := make(chan struct{})
	c.running = true
	c.autoreconnect = true
	c.lastClose = nil
	c.cancel = cancel
	c.loopDone = loopDone
	c.mu.Unlock()

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		<-runCtx.Done()
		if ctx.Err() != nil {
			c.Stop()
		}
	}()

	defer func() {
		// The watcher must not stop a later run.
		cancel()
		<-watchDone

		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()
		close(loopDone)
		c.reportStatus()
	}()

	c.restoreSession()
	c.logger.Info().Msg("[GatewayClient] Running...")

	c.backoff.Reset()
	for {
		c.connectOnce(runCtx)

		c.mu.Lock()
		reconnect := c.autoreconnect
		fatal := c.lastClose
		ready := c.wasReady
		c.wasReady = false
		c.mu.Unlock()

		if !reconnect {
			if fatal != nil {
				return fatal
			}
			return nil
		}

		if ready {
			c.backoff.Reset()
		}
		delay := c.backoff.NextBackOff()
		if delay == backoff.Stop {
			c.mu.Lock()
			c.autoreconnect = false
			c.mu.Unlock()
			return errors.New("reconnect attempts exhausted")
		}

		c.metrics.reconnects.Inc()
		c.reportStatus()
		c.logger.Info().Dur("delay", delay).Msg("reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-runCtx.Done():
			timer.Stop()
			return nil
		}
	}
}

func (c *Client) connectOnce(ctx context.Context) {
	target := c.targetURL()
	logger := c.logger.With().Str("conn_id", uuid.NewString()).Logger()

	c.reportStatus()
	logger.Info().Str("url", target).Msg("connecting to gateway")

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	conn, err := c.dialer.Dial(dialCtx, target, c.header())
	cancel()
	if err != nil {
		c.metrics.dialFailures.Inc()
		logger.Error().Err(err).Msg("failed to connect to gateway")
		return
	}

	c.mu.Lock()
	if !c.autoreconnect {
		c.mu.Unlock()
		_ = conn.Close(CloseGoingOffline, "client stopped")
		return
	}
	c.conn = conn
	c.mu.Unlock()

	conn.Run(c.transportHandler(conn, logger))

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connected = false
	c.state.Ready = false
	c.mu.Unlock()

	// Run may return without a close event if the transport failed hard.
	c.heartbeat.Stop()
	c.reportStatus()
}

// Stop ends the session: no more reconnects, the connection is closed with a
// code the gateway treats as going offline, and the session is forgotten.
// Calling it again has no further effect.
func (c *Client) Stop() {
	c.mu.Lock()
	c.autoreconnect = false
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.state = State{}
	cancel := c.cancel
	c.mu.Unlock()

	if conn != nil {
		c.logger.Info().Msg("[GatewayClient] Stopping...")
		if err := conn.Close(CloseGoingOffline, "going offline"); err != nil {
			c.logger.Warn().Err(err).Msg("failed to close connection")
		}
	}
	if cancel != nil {
		cancel()
	}
	c.clearSession()
	c.reportStatus()
}

// Send writes raw text to the gateway. It does nothing when not connected.
func (c *Client) Send(text string) error {
	_, err := c.send(text)
	return err
}

func (c *Client) send(text string) (bool, error) {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return false, nil
	}
	return true, conn.Send(text)
}

// SendOpcode sends payload under op. Frames other than the handshake and
// heartbeats are subject to the outbound rate limit.
func (c *Client) SendOpcode(op Opcode, payload any) error {
	switch op {
	case OpHeartbeat, OpIdentify, OpResume:
	default:
		if c.limiter != nil && !c.limiter.Allow(op) {
			return ErrRateLimited
		}
	}
	return c.sendOpcode(op, payload)
}

func (c *Client) sendOpcode(op Opcode, payload any) error {
	msg, err := json.Marshal(outgoing{Op: op, Data: payload})
	if err != nil {
		return errors.Wrapf(err, "encode %s", op)
	}

	if op == OpIdentify || op == OpResume {
		// These carry the token.
		c.logger.Info().Stringer("op", op).Msg("[<] sending handshake")
	} else {
		c.logger.Debug().Stringer("op", op).RawJSON("frame", msg).Msg("[<]")
	}

	sent, err := c.send(string(msg))
	if err != nil {
		return err
	}
	if sent {
		c.metrics.frameSent(op)
	}
	return nil
}

func (c *Client) sendHeartbeat(seq *uint64) error {
	return c.sendOpcode(OpHeartbeat, seq)
}

func (c *Client) closeZombie() {
	c.closeCurrent(CloseZombieConnection, "heartbeat not acknowledged")
}

func (c *Client) closeCurrent(code int, reason string) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Close(code, reason); err != nil {
		c.logger.Warn().Err(err).Int("code", code).Msg("failed to close connection")
	}
}

func (c *Client) transportHandler(conn Conn, logger zerolog.Logger) func(TransportEvent) {
	return func(evt TransportEvent) {
		switch evt.Type {
		case TransportOpen:
			c.mu.Lock()
			if c.conn == conn {
				c.connected = true
			}
			c.mu.Unlock()
			logger.Info().Msg("[GatewayClient] WebSocket is Open")
			c.reportStatus()

		case TransportMessage:
			c.handleMessage(conn, evt.Data, logger)

		case TransportError:
			c.mu.Lock()
			if c.conn == conn {
				c.connected = false
				c.state.Ready = false
			}
			c.mu.Unlock()
			logger.Error().Err(evt.Err).Msg("[GatewayClient] WebSocket error")
			c.reportStatus()

		case TransportClose:
			c.handleClose(evt, logger)
		}
	}
}

func (c *Client) handleMessage(conn Conn, data []byte, logger zerolog.Logger) {
	env, err := decodeEnvelope(data)
	if err != nil {
		c.metrics.decodeErrors.Inc()
		logger.Warn().Err(err).Msg("failed to parse payload")
		return
	}
	c.metrics.frameReceived(env.Op)

	c.mu.Lock()
	if c.conn != conn {
		// Stop already let go of this connection.
		c.mu.Unlock()
		return
	}
	next, effects, err := route(c.state, env)
	c.state = next
	if next.Ready {
		c.wasReady = true
	}
	seq := next.Session.Sequence
	c.mu.Unlock()

	if env.Op == OpDispatch && env.Type != nil {
		logger.Debug().Str("event", *env.Type).Uint64("seq", seq).Msg("[>]")
	} else {
		logger.Debug().Stringer("op", env.Op).Uint64("seq", seq).RawJSON("d", rawOrNull(env.Data)).Msg("[>]")
	}

	if err != nil {
		logger.Warn().Err(err).Msg("dropping frame")
		return
	}

	for _, e := range effects {
		c.apply(e, logger)
	}
}

func (c *Client) apply(e effect, logger zerolog.Logger) {
	switch e := e.(type) {
	case startHeartbeat:
		logger.Info().Dur("interval", e.interval).Msg("starting heartbeat")
		c.heartbeat.Start(e.interval)

	case sendIdentify:
		c.identify(logger)

	case sendResume:
		c.mu.Lock()
		session := c.state.Session
		c.mu.Unlock()

		payload, err := BuildResume(c.identity, session)
		if err != nil {
			logger.Warn().Err(err).Msg("cannot resume, identifying instead")
			c.mu.Lock()
			c.state.Session.Reset()
			c.mu.Unlock()
			c.identify(logger)
			return
		}
		if err := c.sendOpcode(OpResume, payload); err != nil {
			logger.Error().Err(err).Msg("failed to send resume")
		}

	case emitEvent:
		if e.event.Name == "READY" || e.event.Name == "RESUMED" {
			logger.Info().Str("event", e.event.Name).Msg("session ready")
			c.reportStatus()
		}
		if c.handler != nil {
			c.handler.HandleEvent(e.event)
		}

	case closeConn:
		logger.Info().Int("code", e.code).Str("reason", e.reason).Msg("closing connection")
		c.closeCurrent(e.code, e.reason)

	case ackHeartbeat:
		c.heartbeat.Ack()

	case beatNow:
		if err := c.heartbeat.Beat(); err != nil {
			logger.Error().Err(err).Msg("failed to send requested heartbeat")
		}

	case persistSession:
		c.mu.Lock()
		session := c.state.Session
		c.mu.Unlock()
		c.persist(session)

	case ignoredPayload:
		logger.Debug().Err(e.err).Int("op", int(e.op)).Msg("ignoring malformed payload")
	}
}

func (c *Client) identify(logger zerolog.Logger) {
	c.mu.Lock()
	session := c.state.Session
	c.mu.Unlock()

	if err := c.sendOpcode(OpIdentify, BuildIdentify(c.identity, session)); err != nil {
		logger.Error().Err(err).Msg("failed to send identify")
	}
}

func (c *Client) handleClose(evt TransportEvent, logger zerolog.Logger) {
	c.mu.Lock()
	c.connected = false
	c.state.Ready = false
	c.mu.Unlock()

	// The old heartbeat must be gone before anything else can dial.
	c.heartbeat.Stop()

	class := ClassifyClose(evt.Code)
	c.metrics.closed(class)

	c.mu.Lock()
	switch class {
	case CloseFatal:
		c.autoreconnect = false
		c.lastClose = &CloseError{Code: evt.Code, Reason: evt.Reason}
	case CloseInvalidated:
		c.state.Session.Resumable = false
	}
	session := c.state.Session
	c.mu.Unlock()

	logger.Warn().
		Int("code", evt.Code).
		Str("reason", evt.Reason).
		Bool("remote", evt.Remote).
		Stringer("class", class).
		Msg("[GatewayClient] WebSocket is Closed")

	if class == CloseFatal {
		c.clearSession()
	} else {
		c.persist(session)
	}
	c.reportStatus()
}

func (c *Client) restoreSession() {
	if c.storage == nil {
		return
	}
	data, err := c.storage.Load()
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			c.logger.Warn().Err(err).Msg("failed to load stored session")
		}
		return
	}

	c.mu.Lock()
	c.state.Session = data.State()
	c.mu.Unlock()
	c.logger.Info().Uint64("seq", data.Sequence).Msg("restored stored session")
}

func (c *Client) persist(session SessionState) {
	if c.storage == nil {
		return
	}
	if !session.CanResume() {
		c.clearSession()
		return
	}
	if err := c.storage.Save(NewSessionData(session)); err != nil {
		c.logger.Warn().Err(err).Msg("failed to save session")
	}
}

func (c *Client) clearSession() {
	if c.storage == nil {
		return
	}
	if err := c.storage.Clear(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to clear stored session")
	}
}

func (c *Client) targetURL() string {
	c.mu.Lock()
	session := c.state.Session
	c.mu.Unlock()

	base := c.gatewayURL
	if session.CanResume() && session.ResumeURL != "" {
		base = session.ResumeURL
	}
	return withGatewayQuery(base)
}

func withGatewayQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u.RawQuery = GatewayQuery
	return u.String()
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if ua := c.identity.Properties.BrowserUserAgent; ua != "" {
		h.Set("User-Agent", ua)
	}
	return h
}

func (c *Client) reportStatus() {
	c.metrics.setStatus(c.Status())
}

// Status derives the connection status from the client flags.
func (c *Client) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.connected && c.state.Ready:
		return StatusReady
	case c.connected:
		return StatusConnected
	case c.conn != nil:
		return StatusConnecting
	case c.running && c.autoreconnect:
		return StatusReconnecting
	default:
		return StatusDisconnected
	}
}

// Sequence is the last sequence number received.
func (c *Client) Sequence() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Session.Sequence
}

func (c *Client) Session() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Session
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Ready
}

// AutoReconnect reports whether the client will reconnect after the current
// connection closes.
func (c *Client) AutoReconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoreconnect
}

// Latency is the round trip of the last acknowledged heartbeat.
func (c *Client) Latency() time.Duration {
	return c.heartbeat.Latency()
}

func (c *Client) Snapshot() Snapshot {
	status := c.Status()
	latency := c.heartbeat.Latency()

	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Status:    status,
		Connected: c.connected,
		Ready:     c.state.Ready,
		Resumable: c.state.Session.Resumable,
		SessionID: c.state.Session.SessionID,
		Sequence:  c.state.Session.Sequence,
		Latency:   latency,
	}
}

func rawOrNull(data json.RawMessage) json.RawMessage {
	if len(data) == 0 {
		return json.RawMessage("null")
	}
	return data
}
