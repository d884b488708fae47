package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/amdlink/internal/wire"
	router "github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	// DefaultQueueSize is how many frames an observer may fall behind before frames are dropped.
	DefaultQueueSize = 8

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

// Stats are the relay counters reported by /healthz.
type Stats struct {
	Actors    int64  `json:"actors"`
	Observers int64  `json:"observers"`
	Received  uint64 `json:"received"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Rejected  uint64 `json:"rejected"`
}

// Hub routes frames from actors to observers.
type Hub struct {
	Logger    *slog.Logger
	QueueSize int

	// Used for upgrading the incoming HTTP
	// connection into a websocket connection.
	upgrader websocket.Upgrader

	mu        sync.Mutex
	observers map[*observer]struct{}

	actors    atomic.Int64
	received  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	rejected  atomic.Uint64
}

type observer struct {
	queue chan []byte
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		Logger:    logger,
		QueueSize: DefaultQueueSize,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		observers: make(map[*observer]struct{}),
	}
}

// Router registers the hub's endpoints under path.
func (h *Hub) Router(path string) *router.Router {
	mux := router.NewRouter()
	mux.Methods("GET").Path(path).HandlerFunc(h.ServeWS)
	mux.Methods("GET").Path("/healthz").HandlerFunc(h.ServeHealth)
	return mux
}

// Stats returns a snapshot of the counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	n := len(h.observers)
	h.mu.Unlock()
	return Stats{
		Actors:    h.actors.Load(),
		Observers: int64(n),
		Received:  h.received.Load(),
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
		Rejected:  h.rejected.Load(),
	}
}

// ServeHealth writes the counters as JSON.
func (h *Hub) ServeHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Stats())
}

// ServeWS upgrades the request and serves one peer until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		h.Logger.Debug("peer left before handshake", "remote", r.RemoteAddr, "error", err)
		return
	}
	hs, err := wire.DecodeHandshake(data)
	if err != nil {
		h.rejected.Add(1)
		h.Logger.Warn("rejecting peer", "remote", r.RemoteAddr, "error", err)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad handshake")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		return
	}
	conn.SetReadDeadline(time.Time{})

	h.Logger.Info("peer connected", "remote", r.RemoteAddr, "role", hs.Role)
	switch hs.Role {
	case wire.RoleActor:
		h.serveActor(conn)
	case wire.RoleObserver:
		h.serveObserver(conn)
	}
	h.Logger.Info("peer disconnected", "remote", r.RemoteAddr, "role", hs.Role)
}

func (h *Hub) serveActor(conn *websocket.Conn) {
	h.actors.Add(1)
	defer h.actors.Add(-1)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		h.received.Add(1)
		h.Broadcast(data)
	}
}

// Broadcast queues data for every observer, dropping it for observers whose queue is full.
func (h *Hub) Broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for o := range h.observers {
		select {
		case o.queue <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) serveObserver(conn *websocket.Conn) {
	size := h.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	o := &observer{queue: make(chan []byte, size)}

	h.mu.Lock()
	h.observers[o] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.observers, o)
		h.mu.Unlock()
	}()

	// Observers never send frames, reads only detect the disconnect.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case data := <-o.queue:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			h.delivered.Add(1)
		case <-gone:
			return
		}
	}
}
