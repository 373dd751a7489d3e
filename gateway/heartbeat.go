package gateway

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Heartbeater sends heartbeats on the interval announced by HELLO and reports a
// connection that stops acknowledging them.
type Heartbeater struct {
	send      func(seq *uint64) error
	sequence  func() uint64
	onTimeout func()
	metrics   *Metrics
	logger    zerolog.Logger

	waiter Waiter

	mu         sync.Mutex
	interval   time.Duration
	ackPending bool
	lastSent   time.Time
	latency    time.Duration
	done       chan struct{}
}

// NewHeartbeater wires the engine to its collaborators. send transmits a HEARTBEAT
// frame (seq is nil before the first dispatch), sequence reads the last seen
// sequence number and onTimeout closes the connection.
func NewHeartbeater(send func(seq *uint64) error, sequence func() uint64, onTimeout func(), metrics *Metrics, logger zerolog.Logger) *Heartbeater {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Heartbeater{
		send:      send,
		sequence:  sequence,
		onTimeout: onTimeout,
		metrics:   metrics,
		logger:    logger,
	}
}

// Start begins heartbeating every interval. A running loop is stopped first.
// The first interval assumes the peer is alive; every beat after that must be
// acknowledged before the next one is due.
func (h *Heartbeater) Start(interval time.Duration) {
	h.Stop()

	done := make(chan struct{})
	h.mu.Lock()
	h.interval = interval
	h.ackPending = false
	h.lastSent = time.Time{}
	h.done = done
	h.mu.Unlock()

	h.waiter.Arm()
	go h.loop(interval, done)
}

func (h *Heartbeater) loop(interval time.Duration, done chan struct{}) {
	defer close(done)

	wait := interval
	for {
		if !h.waiter.Wait(wait) {
			return
		}
		wait = interval

		h.mu.Lock()
		pending := h.ackPending
		since := time.Since(h.lastSent)
		h.mu.Unlock()

		// An ack is due one interval after the beat it answers, which may
		// have been an out-of-band Beat.
		if pending && since < interval {
			wait = interval - since
			continue
		}

		if pending {
			h.logger.Warn().Dur("interval", interval).Msg("heartbeat was not acknowledged, closing connection")
			h.metrics.heartbeatMissed.Inc()
			h.onTimeout()
			return
		}

		if err := h.beat(); err != nil {
			h.logger.Error().Err(err).Msg("failed to send heartbeat")
		}
	}
}

func (h *Heartbeater) beat() error {
	var d *uint64
	if seq := h.sequence(); seq > 0 {
		d = &seq
	}

	// Mark before sending so an ack racing the send is not lost.
	h.mu.Lock()
	h.ackPending = true
	h.lastSent = time.Now()
	h.mu.Unlock()

	return h.send(d)
}

// Beat sends a heartbeat right away, as requested by the gateway. It does nothing
// when the loop is not running.
func (h *Heartbeater) Beat() error {
	if !h.Running() {
		return nil
	}
	return h.beat()
}

// Ack records a HEARTBEAT_ACK.
func (h *Heartbeater) Ack() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.ackPending = false
	if !h.lastSent.IsZero() {
		h.latency = time.Since(h.lastSent)
		h.metrics.observeLatency(h.latency)
	}
}

// Stop cancels the loop and waits for it to exit. Safe to call at any time.
func (h *Heartbeater) Stop() {
	h.waiter.Cancel()

	h.mu.Lock()
	done := h.done
	h.done = nil
	h.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (h *Heartbeater) Running() bool {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()

	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (h *Heartbeater) Interval() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interval
}

// AckPending reports whether the last heartbeat is still unacknowledged.
func (h *Heartbeater) AckPending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ackPending
}

// Latency is the round trip of the last acknowledged heartbeat.
func (h *Heartbeater) Latency() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latency
}
