// Package host is a reference host relay that scanner and board clients
// connect to.
//
// The hub greets each client with the current signal and console mode,
// relays state_update and barcode_result messages to the other clients,
// keeps the barcode → signal assignment map pushed by the board, and drives
// the scanner's signal when an assigned barcode is scanned. It makes no
// decisions of its own beyond that; SendState lets an operator drive the
// signal directly.
package host

import (
	"net/http"
	"sync"

	"github.com/dyluth/beacon/internal/logger"
	"github.com/dyluth/beacon/pkg/protocol"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const peerBuffer = 32

// Hub is safe for concurrent use.
type Hub struct {
	mu          sync.RWMutex
	peers       map[string]*peer
	state       protocol.Signal
	targets     map[string]protocol.Signal
	interactive protocol.InteractiveMode
	received    map[protocol.Kind]int

	upgrader websocket.Upgrader

	onState   func(protocol.StateUpdate)
	onBarcode func(protocol.BarcodeResult)
}

type peer struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.send)
		p.conn.Close()
	})
}

// NewHub returns a hub in RED with the console passive.
func NewHub() *Hub {
	return &Hub{
		peers:       make(map[string]*peer),
		state:       protocol.SignalRed,
		targets:     make(map[string]protocol.Signal),
		interactive: protocol.InteractivePassive,
		received:    make(map[protocol.Kind]int),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// OnState registers a callback for state updates sent by clients.
func (h *Hub) OnState(fn func(protocol.StateUpdate)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onState = fn
}

// OnBarcode registers a callback for scans reported by clients.
func (h *Hub) OnBarcode(fn func(protocol.BarcodeResult)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onBarcode = fn
}

// Router returns the gin engine serving the WebSocket endpoint on "/" and a
// health check on "/healthz".
func (h *Hub) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/", h.HandleWebSocket)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"clients": h.Clients(),
			"state":   h.State(),
		})
	})
	return r
}

// HandleWebSocket upgrades a request and serves the client until it leaves.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[Host] upgrade error: %v", err)
		return
	}

	p := &peer{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, peerBuffer),
	}

	// The greeting goes into the empty buffer before the peer can receive
	// any broadcast.
	h.mu.Lock()
	hello := protocol.Hello{Source: protocol.SourceHost, State: h.state, InteractiveMode: h.interactive}
	if data, err := protocol.Encode(hello); err == nil {
		p.send <- data
	}
	h.peers[p.id] = p
	h.mu.Unlock()
	logger.Infof("[Host] client %s connected from %s", p.id, c.Request.RemoteAddr)

	go h.writePump(p)
	h.readPump(p)
}

func (h *Hub) readPump(p *peer) {
	defer h.remove(p)

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Infof("[Host] client %s disconnected", p.id)
			} else {
				logger.Debugf("[Host] client %s read error: %v", p.id, err)
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			logger.Debugf("[Host] client %s sent malformed message: %v", p.id, err)
			continue
		}
		h.handle(p, msg)
	}
}

func (h *Hub) writePump(p *peer) {
	for data := range p.send {
		if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Debugf("[Host] client %s write error: %v", p.id, err)
			h.remove(p)
			return
		}
	}
}

func (h *Hub) handle(from *peer, msg protocol.Message) {
	h.mu.Lock()
	h.received[msg.Kind()]++
	h.mu.Unlock()

	switch v := msg.(type) {
	case protocol.StateUpdate:
		h.mu.Lock()
		h.state = v.State
		cb := h.onState
		h.mu.Unlock()
		if cb != nil {
			cb(v)
		}
		h.broadcast(v, from)

	case protocol.BarcodeResult:
		h.mu.RLock()
		cb := h.onBarcode
		target, assigned := h.targets[v.Code]
		h.mu.RUnlock()
		if cb != nil {
			cb(v)
		}
		h.broadcast(v, from)
		if assigned {
			h.SendState(target)
		}

	case protocol.AssignmentUpdate:
		h.mu.Lock()
		if v.State == nil {
			delete(h.targets, v.Code)
		} else {
			h.targets[v.Code] = *v.State
		}
		h.mu.Unlock()

	case protocol.AssignmentSync:
		next := make(map[string]protocol.Signal, len(v.Targets))
		for code, sig := range v.Targets {
			next[code] = sig
		}
		h.mu.Lock()
		h.targets = next
		h.mu.Unlock()
		logger.Infof("[Host] assignment map replaced (%d entries)", len(next))

	case protocol.InteractiveControl:
		h.SetInteractiveMode(v.Mode)

	case protocol.InteractiveKey:
		if h.InteractiveMode() == protocol.InteractiveAnyKeyRed {
			h.SendState(protocol.SignalRed)
		}

	case protocol.Heartbeat, protocol.Unknown:
	}
}

// SendState sets the signal and broadcasts it to every client.
func (h *Hub) SendState(s protocol.Signal) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
	logger.Event("host", "state_sent", map[string]interface{}{"state": string(s)})
	h.broadcast(protocol.StateUpdate{Source: protocol.SourceHost, State: s}, nil)
}

// SetInteractiveMode changes the console mode and reports it to every client.
// Setting the current mode again does nothing.
func (h *Hub) SetInteractiveMode(mode protocol.InteractiveMode) {
	h.mu.Lock()
	if mode == h.interactive {
		h.mu.Unlock()
		return
	}
	h.interactive = mode
	h.mu.Unlock()
	h.broadcast(protocol.InteractiveStatus{Source: protocol.SourceHost, Mode: mode}, nil)
}

// State returns the last known signal.
func (h *Hub) State() protocol.Signal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// InteractiveMode returns the console mode.
func (h *Hub) InteractiveMode() protocol.InteractiveMode {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.interactive
}

// Targets returns a copy of the assignment map.
func (h *Hub) Targets() map[string]protocol.Signal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]protocol.Signal, len(h.targets))
	for k, v := range h.targets {
		out[k] = v
	}
	return out
}

// Received returns how many messages of each kind clients have sent.
func (h *Hub) Received() map[protocol.Kind]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[protocol.Kind]int, len(h.received))
	for k, n := range h.received {
		out[k] = n
	}
	return out
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[string]*peer)
	h.mu.Unlock()
	for _, p := range peers {
		p.close()
	}
}

// broadcast sends msg to every client except exclude.
func (h *Hub) broadcast(msg protocol.Message, exclude *peer) {
	data, err := protocol.Encode(msg)
	if err != nil {
		logger.Warnf("[Host] cannot encode %s: %v", msg.Kind(), err)
		return
	}

	h.mu.RLock()
	recipients := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		if p != exclude {
			recipients = append(recipients, p)
		}
	}
	h.mu.RUnlock()

	for _, p := range recipients {
		h.queue(p, data)
	}
}

// queue hands data to a peer's writer. A peer that cannot keep up is dropped.
func (h *Hub) queue(p *peer, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.peers[p.id]; !ok {
		return
	}
	select {
	case p.send <- data:
	default:
		logger.Warnf("[Host] client %s too slow, disconnecting", p.id)
		go h.remove(p)
	}
}

func (h *Hub) remove(p *peer) {
	h.mu.Lock()
	_, ok := h.peers[p.id]
	delete(h.peers, p.id)
	h.mu.Unlock()
	if ok {
		p.close()
	}
}
