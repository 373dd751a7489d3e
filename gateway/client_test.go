package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testGateway = "wss://gateway.test"
	helloFrame  = `{"op":10,"d":{"heartbeat_interval":41250}}`
	readyFrame  = `{"op":0,"t":"READY","s":1,"d":{"session_id":"abc","resume_gateway_url":"wss://resume.test","user":{"id":"1","username":"me","discriminator":"0"}}}`
)

func newTestClient(t *testing.T, dialer Dialer, opts ...ClientOption) *Client {
	t.Helper()
	opts = append([]ClientOption{
		WithGatewayURL(testGateway),
		WithReconnectDelay(10 * time.Millisecond),
		WithRegisterer(prometheus.NewRegistry()),
	}, opts...)
	c, err := NewClient("token", dialer, opts...)
	require.NoError(t, err)
	return c
}

func startClient(ctx context.Context, c *Client) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- c.Start(ctx) }()
	return errc
}

func waitStart(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
		return nil
	}
}

func identified(t *testing.T, conn *fakeConn) {
	t.Helper()
	conn.receive(helloFrame)
	assert.Equal(t, OpIdentify, conn.nextFrame(t).Op)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("", newFakeDialer())
	assert.Error(t, err)

	_, err = NewClient("token", nil)
	assert.Error(t, err)

	_, err = NewClient("token", newFakeDialer(), WithGatewayURL(""))
	assert.Error(t, err)

	_, err = NewClient("token", newFakeDialer(), WithConnectTimeout(0))
	assert.Error(t, err)
}

func TestClientIdentifiesAndBecomesReady(t *testing.T) {
	conn := newFakeConn()
	dialer := newFakeDialer(conn)
	events := make(chan Event, 8)
	store := &memoryStorage{}
	c := newTestClient(t, dialer,
		WithEventHandler(EventHandlerFunc(func(e Event) { events <- e })),
		WithSessionStorage(store),
	)

	errc := startClient(context.Background(), c)
	identified(t, conn)

	conn.receive(readyFrame)
	select {
	case evt := <-events:
		assert.Equal(t, "READY", evt.Name)
		assert.Equal(t, uint64(1), evt.Sequence)
	case <-time.After(2 * time.Second):
		t.Fatal("READY not delivered")
	}

	session := c.Session()
	assert.Equal(t, "abc", session.SessionID)
	assert.Equal(t, "wss://resume.test", session.ResumeURL)
	assert.True(t, session.Resumable)
	assert.True(t, c.IsReady())
	assert.Equal(t, StatusReady, c.Status())
	require.NotNil(t, store.stored())
	assert.Equal(t, "abc", store.stored().SessionID)

	assert.Equal(t, []string{testGateway + "/?v=10&encoding=json"}, dialer.dialed())

	c.Stop()
	require.NoError(t, waitStart(t, errc))

	code, closed := conn.closeCode()
	assert.True(t, closed)
	assert.Equal(t, CloseGoingOffline, code)
	assert.False(t, c.AutoReconnect())
	assert.Equal(t, SessionState{}, c.Session())
	assert.Nil(t, store.stored())
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestClientHandshakeFrameOrder(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(t, newFakeDialer(conn))
	errc := startClient(context.Background(), c)
	defer func() {
		c.Stop()
		waitStart(t, errc)
	}()

	conn.receive(helloFrame)
	frame := conn.nextFrame(t)
	require.Equal(t, OpIdentify, frame.Op)

	var payload IdentifyPayload
	require.NoError(t, json.Unmarshal(frame.D, &payload))
	assert.Equal(t, "token", payload.Token)
	assert.Equal(t, DefaultCapabilities, payload.Capabilities)
	assert.True(t, c.heartbeat.Running())
	assert.Equal(t, 41250*time.Millisecond, c.heartbeat.Interval())
}

func TestClientStopsOnFatalClose(t *testing.T) {
	conn := newFakeConn()
	dialer := newFakeDialer(conn)
	store := &memoryStorage{}
	c := newTestClient(t, dialer, WithSessionStorage(store))

	errc := startClient(context.Background(), c)
	identified(t, conn)
	conn.receive(readyFrame)
	require.Eventually(t, c.IsReady, time.Second, 5*time.Millisecond)

	conn.remoteClose(CloseAuthenticationFailed, "Authentication failed.")

	err := waitStart(t, errc)
	var closeErr *CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, CloseAuthenticationFailed, closeErr.Code)
	assert.True(t, errors.Is(err, ErrFatalClose))

	assert.False(t, c.AutoReconnect())
	assert.Len(t, dialer.dialed(), 1)
	assert.Nil(t, store.stored())
	assert.False(t, c.heartbeat.Running())
}

func TestClientResumesAfterAbnormalClose(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialer := newFakeDialer(first)
	c := newTestClient(t, dialer)

	errc := startClient(context.Background(), c)
	defer func() {
		c.Stop()
		waitStart(t, errc)
	}()

	identified(t, first)
	first.receive(readyFrame)
	first.receive(`{"op":0,"t":"MESSAGE_CREATE","s":2,"d":{}}`)
	require.Eventually(t, func() bool { return c.Sequence() == 2 }, time.Second, 5*time.Millisecond)

	first.remoteClose(1006, "abnormal closure")
	require.Eventually(t, func() bool { return !c.IsConnected() }, time.Second, 5*time.Millisecond)
	assert.True(t, c.Session().Resumable)

	dialer.conns <- second
	second.receive(helloFrame)
	frame := second.nextFrame(t)
	require.Equal(t, OpResume, frame.Op)
	assert.JSONEq(t, `{"token":"token","session_id":"abc","seq":2}`, string(frame.D))

	urls := dialer.dialed()
	require.Len(t, urls, 2)
	assert.Equal(t, "wss://resume.test/?v=10&encoding=json", urls[1])
}

func TestClientInvalidatedCloseReidentifies(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialer := newFakeDialer(first, second)
	c := newTestClient(t, dialer)

	errc := startClient(context.Background(), c)
	defer func() {
		c.Stop()
		waitStart(t, errc)
	}()

	identified(t, first)
	first.receive(readyFrame)
	require.Eventually(t, c.IsReady, time.Second, 5*time.Millisecond)

	first.remoteClose(CloseSessionTimedOut, "Session timed out")

	second.receive(helloFrame)
	assert.Equal(t, OpIdentify, second.nextFrame(t).Op)
	assert.Equal(t, testGateway+"/?v=10&encoding=json", dialer.dialed()[1])
}

func TestClientInvalidSessionReidentifies(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(t, newFakeDialer(conn))

	errc := startClient(context.Background(), c)
	defer func() {
		c.Stop()
		waitStart(t, errc)
	}()

	identified(t, conn)
	conn.receive(readyFrame)
	require.Eventually(t, c.IsReady, time.Second, 5*time.Millisecond)

	conn.receive(`{"op":9,"d":false}`)
	assert.Equal(t, OpIdentify, conn.nextFrame(t).Op)
	assert.Equal(t, SessionState{}, c.Session())
	assert.False(t, c.IsReady())
}

func TestClientReconnectRequest(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialer := newFakeDialer(first, second)
	c := newTestClient(t, dialer)

	errc := startClient(context.Background(), c)
	defer func() {
		c.Stop()
		waitStart(t, errc)
	}()

	identified(t, first)
	first.receive(readyFrame)
	first.receive(`{"op":7,"d":null}`)

	second.receive(helloFrame)
	assert.Equal(t, OpResume, second.nextFrame(t).Op)

	code, closed := first.closeCode()
	assert.True(t, closed)
	assert.Equal(t, CloseServiceRestart, code)
}

func TestClientClosesZombieConnection(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialer := newFakeDialer(first, second)
	c := newTestClient(t, dialer)

	errc := startClient(context.Background(), c)
	defer func() {
		c.Stop()
		waitStart(t, errc)
	}()

	first.receive(`{"op":10,"d":{"heartbeat_interval":20}}`)
	assert.Equal(t, OpIdentify, first.nextFrame(t).Op)

	beat := first.nextFrame(t)
	assert.Equal(t, OpHeartbeat, beat.Op)
	assert.Equal(t, "null", string(beat.D))

	require.Eventually(t, func() bool {
		code, closed := first.closeCode()
		return closed && code == CloseZombieConnection
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return len(dialer.dialed()) == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestClientAnswersHeartbeatRequest(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(t, newFakeDialer(conn))

	errc := startClient(context.Background(), c)
	defer func() {
		c.Stop()
		waitStart(t, errc)
	}()

	identified(t, conn)
	conn.receive(`{"op":0,"t":"SESSIONS_REPLACE","s":3,"d":[]}`)
	conn.receive(`{"op":1,"d":null}`)

	beat := conn.nextFrame(t)
	assert.Equal(t, OpHeartbeat, beat.Op)
	assert.Equal(t, "3", string(beat.D))

	conn.receive(`{"op":11}`)
	require.Eventually(t, func() bool { return !c.heartbeat.AckPending() }, time.Second, 5*time.Millisecond)
}

func TestClientRestoresStoredSession(t *testing.T) {
	conn := newFakeConn()
	dialer := newFakeDialer(conn)
	store := &memoryStorage{data: &SessionData{SessionID: "stored", ResumeURL: "wss://stored.test", Sequence: 5}}
	c := newTestClient(t, dialer, WithSessionStorage(store))

	errc := startClient(context.Background(), c)
	defer func() {
		c.Stop()
		waitStart(t, errc)
	}()

	conn.receive(helloFrame)
	frame := conn.nextFrame(t)
	require.Equal(t, OpResume, frame.Op)
	assert.JSONEq(t, `{"token":"token","session_id":"stored","seq":5}`, string(frame.D))
	assert.Equal(t, "wss://stored.test/?v=10&encoding=json", dialer.dialed()[0])
}

func TestClientContextCancelStops(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(t, newFakeDialer(conn))

	ctx, cancel := context.WithCancel(context.Background())
	errc := startClient(ctx, c)
	identified(t, conn)

	cancel()
	require.NoError(t, waitStart(t, errc))
	code, closed := conn.closeCode()
	assert.True(t, closed)
	assert.Equal(t, CloseGoingOffline, code)
}

func TestClientStopBeforeConnect(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer)

	errc := startClient(context.Background(), c)
	require.Eventually(t, func() bool { return len(dialer.dialed()) == 1 }, time.Second, 5*time.Millisecond)

	c.Stop()
	c.Stop()
	require.NoError(t, waitStart(t, errc))
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestClientSendWhileDisconnected(t *testing.T) {
	c := newTestClient(t, newFakeDialer())
	assert.NoError(t, c.Send("hello"))
	assert.NoError(t, c.SendOpcode(OpPresenceUpdate, map[string]any{"status": "online"}))
	assert.False(t, c.IsConnected())
	c.Stop()
}

func TestClientRateLimitsOutboundFrames(t *testing.T) {
	conn := newFakeConn()
	rl := NewRateLimiter(10, time.Minute)
	rl.SetBucket(OpPresenceUpdate, 1, time.Minute)
	c := newTestClient(t, newFakeDialer(conn), WithRateLimiter(rl))

	errc := startClient(context.Background(), c)
	defer func() {
		c.Stop()
		waitStart(t, errc)
	}()
	identified(t, conn)

	require.NoError(t, c.SendOpcode(OpPresenceUpdate, map[string]any{"status": "idle"}))
	assert.Equal(t, OpPresenceUpdate, conn.nextFrame(t).Op)
	assert.ErrorIs(t, c.SendOpcode(OpPresenceUpdate, map[string]any{"status": "dnd"}), ErrRateLimited)
}

func TestClientStartWhileRunning(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(t, newFakeDialer(conn))

	errc := startClient(context.Background(), c)
	identified(t, conn)

	assert.NoError(t, c.Start(context.Background()))

	c.Stop()
	require.NoError(t, waitStart(t, errc))
}

func TestClientStopIsIdempotentWhenReady(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(t, newFakeDialer(conn))

	errc := startClient(context.Background(), c)
	identified(t, conn)
	conn.receive(readyFrame)
	require.Eventually(t, c.IsReady, time.Second, 5*time.Millisecond)

	c.Stop()
	snapshot, session, reconnect := c.Snapshot(), c.Session(), c.AutoReconnect()

	c.Stop()
	assert.Equal(t, snapshot, c.Snapshot())
	assert.Equal(t, session, c.Session())
	assert.Equal(t, reconnect, c.AutoReconnect())

	assert.False(t, reconnect)
	assert.Equal(t, StatusDisconnected, snapshot.Status)
	assert.Empty(t, session.SessionID)
	code, closed := conn.closeCode()
	assert.True(t, closed)
	assert.Equal(t, CloseGoingOffline, code)
	require.NoError(t, waitStart(t, errc))
}

func TestClientStartAfterStop(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialer := newFakeDialer(first)
	c := newTestClient(t, dialer)

	errc := startClient(context.Background(), c)
	identified(t, first)
	first.receive(readyFrame)
	require.Eventually(t, c.IsReady, time.Second, 5*time.Millisecond)

	c.Stop()
	dialer.conns <- second
	restarted := startClient(context.Background(), c)
	defer func() {
		c.Stop()
		require.NoError(t, waitStart(t, restarted))
	}()

	require.NoError(t, waitStart(t, errc))
	identified(t, second)
	assert.True(t, c.AutoReconnect())
	assert.Len(t, dialer.dialed(), 2)
}

func TestClientContextCancelDuringBackoff(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer,
		WithReconnectDelay(time.Hour),
		WithConnectTimeout(20*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	errc := startClient(ctx, c)
	require.Eventually(t, func() bool { return len(dialer.dialed()) == 1 }, time.Second, 5*time.Millisecond)
	// Let the dial time out so the loop is waiting out the delay.
	time.Sleep(60 * time.Millisecond)

	cancel()
	require.NoError(t, waitStart(t, errc))
	assert.Len(t, dialer.dialed(), 1, "no dial after cancel")
	assert.Equal(t, StatusDisconnected, c.Status())
}
