package queue

import (
	"context"
	"sync"
	"time"

	"minicord/gateway"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

const DEFAULT_CAPACITY = 1000

// Queue moves gateway events off the read goroutine. It implements
// gateway.EventHandler; events that arrive while the buffer is full are
// dropped and counted.
type Queue struct {
	events  chan gateway.Event
	handler gateway.EventHandler
	logger  zerolog.Logger
	metrics *QueueMetrics

	// One token per handler goroutine allowed to run.
	slots    chan struct{}
	inflight sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

type QueueMetrics struct {
	queueLength     prometheus.Gauge
	handlersBusy    prometheus.Gauge
	processingTime  prometheus.Histogram
	eventsProcessed *prometheus.CounterVec
	eventsDropped   prometheus.Counter
}

func newQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	factory := promauto.With(reg)
	return &QueueMetrics{
		queueLength: factory.NewGauge(prometheus.GaugeOpts{
			Name: "minicord_event_queue_length",
			Help: "Current number of events waiting in the queue",
		}),
		handlersBusy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "minicord_event_handlers_busy",
			Help: "Event handlers currently running",
		}),
		processingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "minicord_event_processing_time_seconds",
			Help:    "Time taken to handle one event",
			Buckets: prometheus.DefBuckets,
		}),
		eventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "minicord_events_processed_total",
			Help: "Total number of handled events by name",
		}, []string{"event"}),
		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "minicord_events_dropped_total",
			Help: "Events dropped because the queue was full or closed",
		}),
	}
}

// NewQueue creates a queue buffering up to capacity events and handing them to
// handler on at most numWorkers goroutines. With one worker events are handled
// in arrival order.
func NewQueue(handler gateway.EventHandler, numWorkers, capacity int, reg prometheus.Registerer, logger zerolog.Logger) *Queue {
	if capacity <= 0 {
		capacity = DEFAULT_CAPACITY
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Queue{
		events:  make(chan gateway.Event, capacity),
		handler: handler,
		logger:  logger,
		metrics: newQueueMetrics(reg),
		slots:   make(chan struct{}, numWorkers),
		done:    make(chan struct{}),
	}
}

// HandleEvent enqueues evt without blocking.
func (q *Queue) HandleEvent(evt gateway.Event) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.metrics.eventsDropped.Inc()
		return
	}
	select {
	case q.events <- evt:
		q.metrics.queueLength.Inc()
	default:
		q.metrics.eventsDropped.Inc()
		q.logger.Warn().Str("event", evt.Name).Uint64("seq", evt.Sequence).Msg("event queue full, dropping event")
	}
}

// Start processes events until ctx is cancelled or Close is called.
func (q *Queue) Start(ctx context.Context) {
	go q.process(ctx)
}

func (q *Queue) process(ctx context.Context) {
	defer close(q.done)
	defer q.inflight.Wait()

	for {
		select {
		case evt, ok := <-q.events:
			if !ok {
				return
			}
			q.metrics.queueLength.Dec()
			q.dispatch(evt)
		case <-ctx.Done():
			return
		}
	}
}

// dispatch blocks until a handler slot is free, then handles evt on its own
// goroutine.
func (q *Queue) dispatch(evt gateway.Event) {
	q.slots <- struct{}{}
	q.inflight.Add(1)
	q.metrics.handlersBusy.Inc()

	go func() {
		defer func() {
			q.metrics.handlersBusy.Dec()
			<-q.slots
			q.inflight.Done()
		}()
		q.handle(evt)
	}()
}

func (q *Queue) handle(evt gateway.Event) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error().Interface("panic", r).Str("event", evt.Name).Msg("event handler panicked")
		}
		q.metrics.processingTime.Observe(time.Since(start).Seconds())
		q.metrics.eventsProcessed.WithLabelValues(evt.Name).Inc()
	}()
	q.handler.HandleEvent(evt)
}

// Close stops accepting events and waits for the buffered ones to be handled.
// Start must have been called.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.events)
	}
	q.mu.Unlock()
	<-q.done
}

// Len is the number of events waiting.
func (q *Queue) Len() int {
	return len(q.events)
}
