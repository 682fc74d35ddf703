// Package hub owns the live participant connections of one session. A single
// goroutine applies every connect, message and disconnect to the session
// store and fans the result out, so the store sees one total order.
package hub

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"collabtext/internal/metrics"
	"collabtext/internal/mirror"
	"collabtext/internal/relay"
	"collabtext/internal/session"
)

// Config holds per-connection transport limits.
type Config struct {
	SendBuffer      int
	MaxMessageBytes int64
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
}

type inbound struct {
	client *Client
	raw    []byte
}

// Hub maintains the set of active clients and broadcasts session changes.
type Hub struct {
	cfg     Config
	store   *session.Store
	log     *zap.Logger
	metrics *metrics.Hub
	mirror  *mirror.Async

	clients    map[string]*Client // owned by the run goroutine
	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	done       chan struct{}
}

// New returns a hub for store. mir may be nil.
func New(cfg Config, store *session.Store, log *zap.Logger, m *metrics.Hub, mir *mirror.Async) *Hub {
	return &Hub{
		cfg:        cfg,
		store:      store,
		log:        log,
		metrics:    m,
		mirror:     mir,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		done:       make(chan struct{}),
	}
}

// Run processes hub events until ctx is done, then closes every client's
// send queue so its writer sends a close frame.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for id, c := range h.clients {
			c.closed.Store(true)
			close(c.send)
			delete(h.clients, id)
		}
		close(h.done)
	}()
	for {
		select {
		case c := <-h.register:
			h.handleRegister(c)
		case in := <-h.inbound:
			h.handleInbound(in.client, in.raw)
		case c := <-h.unregister:
			h.handleUnregister(c)
		case <-ctx.Done():
			return
		}
	}
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) receive(c *Client, raw []byte) {
	select {
	case h.inbound <- inbound{client: c, raw: raw}:
	case <-h.done:
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and attaches the connection as a new
// participant with a fresh identifier.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	c := newClient(uuid.NewString(), conn, h.cfg.SendBuffer)
	if !h.join(c) {
		conn.Close()
		return
	}
	go c.writePump(h)
	go c.readPump(h)
}

func (h *Hub) handleRegister(c *Client) {
	snapshot := h.store.Join(c.id)
	h.clients[c.id] = c
	h.metrics.Connections.Inc()
	h.log.Info("participant connected", zap.String("id", c.id), zap.Int("participants", len(h.clients)))
	payload, err := relay.Encode(relay.Init{ID: c.id, HTML: snapshot})
	if err != nil {
		h.log.Error("encode init", zap.Error(err))
		return
	}
	if c.Send(payload) {
		h.metrics.Sent.WithLabelValues(relay.TypeInit).Inc()
	}
}

func (h *Hub) handleInbound(c *Client, raw []byte) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	msg, err := relay.Decode(raw)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, relay.ErrUnknownType) {
			reason = "unknown_type"
		}
		h.metrics.Dropped.WithLabelValues(reason).Inc()
		h.log.Debug("dropped message", zap.String("id", c.id), zap.String("reason", reason), zap.Error(err))
		return
	}
	h.metrics.Received.WithLabelValues(msg.Type()).Inc()

	switch m := msg.(type) {
	case relay.Join:
		name, err := h.store.SetName(c.id, m.Name)
		if err != nil {
			h.log.Warn("set name", zap.Error(err))
			return
		}
		h.log.Info("participant joined", zap.String("id", c.id), zap.String("name", name))
		h.broadcast(c.id, relay.Presence{ID: c.id, Name: name}, true)
	case relay.Update:
		snapshot, err := h.store.ApplyUpdate(c.id, m.HTML)
		if err != nil {
			h.log.Warn("apply update", zap.Error(err))
			return
		}
		h.metrics.DocumentSize.Set(float64(len(snapshot)))
		h.broadcast(c.id, relay.Update{HTML: snapshot}, true)
	case relay.Cursor:
		ev, err := h.store.RecordCursor(c.id, m.Offset)
		if err != nil {
			h.log.Warn("record cursor", zap.Error(err))
			return
		}
		h.broadcast(c.id, relay.CursorMoved{ID: ev.ID, Name: ev.Name, Offset: ev.Offset}, true)
	}
}

func (h *Hub) handleUnregister(c *Client) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	c.closed.Store(true)
	close(c.send)
	h.metrics.Connections.Dec()
	ev, ok := h.store.Leave(c.id)
	if !ok {
		return
	}
	h.log.Info("participant left", zap.String("id", c.id), zap.Int("participants", len(h.clients)))
	h.broadcast(c.id, relay.Leave{ID: ev.ID}, false)
}

// broadcast encodes msg once and fans it out. When skipOrigin is set the
// originating participant does not receive it.
func (h *Hub) broadcast(origin string, msg relay.Message, skipOrigin bool) {
	payload, err := relay.Encode(msg)
	if err != nil {
		h.log.Error("encode broadcast", zap.Error(err))
		return
	}
	peers := make([]relay.Peer, 0, len(h.clients))
	for _, c := range h.clients {
		peers = append(peers, c)
	}
	except := ""
	if skipOrigin {
		except = origin
	}
	st := relay.Broadcast(peers, except, payload)
	h.metrics.Sent.WithLabelValues(msg.Type()).Add(float64(st.Sent))
	h.metrics.Skipped.WithLabelValues(msg.Type()).Add(float64(st.Skipped))

	if h.mirror != nil && !h.mirror.Publish(mirror.Event{Kind: msg.Type(), Participant: origin, Payload: payload, At: time.Now()}) {
		h.metrics.MirrorDrops.Inc()
	}
}
