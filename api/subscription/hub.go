package subscription

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lunfardo314/nodexec/api"
	"github.com/lunfardo314/nodexec/global"
	"github.com/prometheus/client_golang/prometheus"
)

type (
	environment interface {
		global.Logging
		global.Metrics
	}

	eventSource interface {
		OnEvent(fun func(ev api.Event))
	}

	// Hub fans out node events to websocket subscribers.
	// New subscriber first receives the recent events kept in the backlog
	Hub struct {
		environment
		mutex       sync.RWMutex
		subscribers map[uuid.UUID]*subscriber
		backlog     *deque.Deque[api.Event]
		backlogSize int
		closed      bool
		upgrader    websocket.Upgrader
		metrics
	}

	subscriber struct {
		id      uuid.UUID
		topics  map[string]struct{}
		mutex   sync.Mutex
		queue   *deque.Deque[api.Event]
		notify  chan struct{}
		done    chan struct{}
		once    sync.Once
		dropped int
	}

	metrics struct {
		numSubscribers prometheus.Gauge
		eventsTotal    prometheus.Counter
		droppedTotal   prometheus.Counter
	}
)

const (
	TraceTag           = "subscription"
	DefaultBacklogSize = 100
	// slow subscriber loses oldest events above this
	maxSubscriberQueue = 1000
	writeTimeout       = 5 * time.Second
	pingPeriod         = 30 * time.Second
)

// Attach creates hub, attaches it to the table and subscribes it to the node events
func Attach(table *api.Table, node eventSource, env environment) (*Hub, error) {
	hub := NewHub(env, DefaultBacklogSize)
	if err := table.Attach(api.PathSubscribe, hub); err != nil {
		return nil, err
	}
	hub.registerMetrics()
	node.OnEvent(hub.Publish)
	return hub, nil
}

func NewHub(env environment, backlogSize int) *Hub {
	return &Hub{
		environment: env,
		subscribers: make(map[uuid.UUID]*subscriber),
		backlog:     new(deque.Deque[api.Event]),
		backlogSize: backlogSize,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: writeTimeout,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *Hub) registerMetrics() {
	h.metrics = metrics{
		numSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nodexec_subscription_subscribers",
			Help: "number of websocket subscribers",
		}),
		eventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nodexec_subscription_eventsTotal",
			Help: "total events published to subscribers",
		}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nodexec_subscription_droppedTotal",
			Help: "total events dropped because of slow subscribers",
		}),
	}
	h.MetricsRegistry().MustRegister(h.numSubscribers, h.eventsTotal, h.droppedTotal)
}

func parseTopics(s string) map[string]struct{} {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	ret := make(map[string]struct{})
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			ret[t] = struct{}{}
		}
	}
	return ret
}

// Publish sends event to all subscribers of the event type. Never blocks on subscribers.
// The 'stopping' event is the last one: subscribers are disconnected after receiving it
func (h *Hub) Publish(ev api.Event) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return
	}
	if h.backlogSize > 0 {
		h.backlog.PushBack(ev)
		for h.backlog.Len() > h.backlogSize {
			h.backlog.PopFront()
		}
	}
	for _, sub := range h.subscribers {
		if sub.wants(ev.Type) && !sub.push(ev) && h.droppedTotal != nil {
			h.droppedTotal.Inc()
		}
	}
	if h.eventsTotal != nil {
		h.eventsTotal.Inc()
	}
	h.Tracef(TraceTag, "published '%s' to %d subscribers", ev.Type, len(h.subscribers))
	if ev.Type == api.EventStopping {
		h.closeNoLock()
	}
}

func (h *Hub) subscribe(topics map[string]struct{}) *subscriber {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return nil
	}
	sub := &subscriber{
		id:     uuid.New(),
		topics: topics,
		queue:  new(deque.Deque[api.Event]),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for i := 0; i < h.backlog.Len(); i++ {
		if ev := h.backlog.At(i); sub.wants(ev.Type) {
			sub.push(ev)
		}
	}
	h.subscribers[sub.id] = sub
	if h.numSubscribers != nil {
		h.numSubscribers.Set(float64(len(h.subscribers)))
	}
	return sub
}

func (h *Hub) unsubscribe(id uuid.UUID) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if sub, found := h.subscribers[id]; found {
		sub.close()
		delete(h.subscribers, id)
	}
	if h.numSubscribers != nil {
		h.numSubscribers.Set(float64(len(h.subscribers)))
	}
}

func (h *Hub) NumSubscribers() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.subscribers)
}

// Close disconnects all subscribers. Events published after Close are ignored
func (h *Hub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.closeNoLock()
}

func (h *Hub) closeNoLock() {
	h.closed = true
	for _, sub := range h.subscribers {
		sub.close()
	}
}

// ServeHTTP upgrades connection to websocket and streams events until either side closes.
// Optional query parameter 'topics' is comma separated list of event types
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topics := parseTopics(r.URL.Query().Get("topics"))
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader already responded with error
		h.Log().Warnf("[subscription] upgrade failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	sub := h.subscribe(topics)
	if sub == nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "node is stopping"), time.Now().Add(writeTimeout))
		return
	}
	defer h.unsubscribe(sub.id)

	h.Log().Infof("[subscription] subscriber %s connected from %s", sub.id, r.RemoteAddr)

	// the only purpose of the reader is to detect closed connection
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				sub.close()
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-sub.done:
			// flush what was published before closing
			if err = h.writeQueued(conn, sub); err != nil {
				return
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			h.Log().Infof("[subscription] subscriber %s disconnected", sub.id)
			return
		case <-sub.notify:
			if err = h.writeQueued(conn, sub); err != nil {
				h.Log().Warnf("[subscription] subscriber %s: %v", sub.id, err)
				return
			}
		case <-ticker.C:
			if err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *Hub) writeQueued(conn *websocket.Conn, sub *subscriber) error {
	for {
		ev, ok := sub.pop()
		if !ok {
			return nil
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, ev.Bytes()); err != nil {
			return err
		}
	}
}

func (s *subscriber) wants(typ string) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[typ]
	return ok
}

// push returns false if the oldest event was dropped
func (s *subscriber) push(ev api.Event) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	ret := true
	if s.queue.Len() >= maxSubscriberQueue {
		s.queue.PopFront()
		s.dropped++
		ret = false
	}
	s.queue.PushBack(ev)
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return ret
}

func (s *subscriber) pop() (api.Event, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.queue.Len() == 0 {
		return api.Event{}, false
	}
	return s.queue.PopFront(), true
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
	})
}
