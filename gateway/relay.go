package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/events"
	"github.com/c360/flowcanvas/metric"
)

const (
	defaultClientBuffer = 64
	writeWait           = 10 * time.Second
	pongWait            = 60 * time.Second
	pingPeriod          = pongWait * 9 / 10
	maxClientMessage    = 4096
)

// RelayOptions configures an EventRelay
type RelayOptions struct {
	// ClientBuffer is the number of queued events a client may lag behind
	// before it is disconnected
	ClientBuffer   int
	AllowedOrigins []string
	Logger         *slog.Logger
	Registrar      metric.MetricsRegistrar
}

// clientMessage is what a client may send. A filter message replaces the
// event patterns it receives; "*" or no patterns means every event and a
// trailing "*" matches a prefix.
type clientMessage struct {
	Type     string   `json:"type"`
	Patterns []string `json:"patterns,omitempty"`
}

type client struct {
	conn      *websocket.Conn
	remote    string
	send      chan []byte
	patterns  atomic.Pointer[[]string]
	closeOnce sync.Once
	done      chan struct{}
}

func (c *client) wants(event string) bool {
	p := c.patterns.Load()
	if p == nil || len(*p) == 0 {
		return true
	}
	for _, pattern := range *p {
		switch {
		case pattern == "*", pattern == event:
			return true
		case strings.HasSuffix(pattern, "*") && strings.HasPrefix(event, strings.TrimSuffix(pattern, "*")):
			return true
		}
	}
	return false
}

// EventRelay streams events of an events.Manager to WebSocket clients
type EventRelay struct {
	upgrader websocket.Upgrader
	buffer   int
	logger   *slog.Logger

	connected prometheus.Gauge
	dropped   *prometheus.CounterVec

	mu       sync.Mutex
	clients  map[*client]struct{}
	manager  *events.Manager
	listener events.ListenerID
	closed   bool
	wg       sync.WaitGroup
}

// NewEventRelay creates a relay. With no allowed origins only same-origin
// upgrades are accepted; "*" accepts any origin.
func NewEventRelay(opts RelayOptions) (*EventRelay, error) {
	if opts.ClientBuffer <= 0 {
		opts.ClientBuffer = defaultClientBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &EventRelay{
		buffer:  opts.ClientBuffer,
		logger:  opts.Logger.With("component", "event-relay"),
		clients: make(map[*client]struct{}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowcanvas",
			Subsystem: "gateway",
			Name:      "ws_clients",
			Help:      "Connected WebSocket clients",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowcanvas",
			Subsystem: "gateway",
			Name:      "ws_disconnects_total",
			Help:      "WebSocket clients disconnected by reason",
		}, []string{"reason"}),
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	if len(opts.AllowedOrigins) > 0 {
		allowed := opts.AllowedOrigins
		r.upgrader.CheckOrigin = func(req *http.Request) bool {
			origin := req.Header.Get("Origin")
			return origin == "" || originAllowed(allowed, origin)
		}
	}

	if opts.Registrar != nil {
		if err := opts.Registrar.RegisterGauge(metricsService, "ws_clients", r.connected); err != nil {
			return nil, err
		}
		if err := opts.Registrar.RegisterCounterVec(metricsService, "ws_disconnects_total", r.dropped); err != nil {
			opts.Registrar.Unregister(metricsService, "ws_clients")
			return nil, err
		}
	}
	return r, nil
}

// Attach subscribes the relay to every event of m
func (r *EventRelay) Attach(m *events.Manager) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.manager != nil {
		return errors.WrapInvalid(errors.Newf(errors.ErrBusy, "relay already attached"), "gateway", "Attach", "subscribe")
	}
	id, err := m.On(events.Wildcard, r.broadcast)
	if err != nil {
		return errors.Wrap(err, "gateway", "Attach", "subscribe")
	}
	r.manager, r.listener = m, id
	return nil
}

// Detach unsubscribes from the manager
func (r *EventRelay) Detach() {
	r.mu.Lock()
	m, id := r.manager, r.listener
	r.manager = nil
	r.mu.Unlock()
	if m != nil {
		m.Off(events.Wildcard, id)
	}
}

// Clients returns the number of connected clients
func (r *EventRelay) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// broadcast runs inside Emit and never blocks on a client
func (r *EventRelay) broadcast(ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Warn("event not serializable, skipped", "event", ev.Name, "error", err)
		return nil
	}

	r.mu.Lock()
	targets := make([]*client, 0, len(r.clients))
	for c := range r.clients {
		if c.wants(ev.Name) {
			targets = append(targets, c)
		}
	}
	r.mu.Unlock()

	for _, c := range targets {
		select {
		case <-c.done:
		case c.send <- data:
		default:
			r.logger.Warn("websocket client too slow, disconnecting", "remote", c.remote)
			r.remove(c, "slow")
		}
	}
	return nil
}

// ServeHTTP upgrades the request and serves the client until it leaves
func (r *EventRelay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		send:   make(chan []byte, r.buffer),
		done:   make(chan struct{}),
	}
	if q := req.URL.Query().Get("events"); q != "" {
		patterns := strings.Split(q, ",")
		c.patterns.Store(&patterns)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	r.clients[c] = struct{}{}
	count := len(r.clients)
	r.wg.Add(2)
	r.mu.Unlock()

	r.connected.Set(float64(count))
	r.logger.Debug("websocket client connected", "remote", c.remote, "clients", count)

	go r.writePump(c)
	go r.readPump(c)
}

func (r *EventRelay) readPump(c *client) {
	defer r.wg.Done()
	defer r.remove(c, "closed")

	c.conn.SetReadLimit(maxClientMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.Type == "filter" {
			patterns := msg.Patterns
			c.patterns.Store(&patterns)
		}
	}
}

func (r *EventRelay) writePump(c *client) {
	defer r.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = c.conn.Close()
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				r.remove(c, "write_error")
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				r.remove(c, "write_error")
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (r *EventRelay) remove(c *client, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		r.mu.Lock()
		delete(r.clients, c)
		count := len(r.clients)
		r.mu.Unlock()
		r.connected.Set(float64(count))
		r.dropped.WithLabelValues(reason).Inc()
	})
}

// Close detaches, disconnects every client and waits for their pumps
func (r *EventRelay) Close() {
	r.Detach()

	r.mu.Lock()
	r.closed = true
	clients := make([]*client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	for _, c := range clients {
		r.remove(c, "shutdown")
	}
	r.wg.Wait()
}
