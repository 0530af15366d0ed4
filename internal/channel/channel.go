// Package channel is a client's single duplex WebSocket connection to the
// host.
//
// A Channel holds at most one connection. Connect is asynchronous and does
// nothing while a connection is being made or is up. Send never blocks and
// never fails: without a live connection the message is dropped. Inbound
// frames are decoded into protocol messages and handed to one handler, in
// arrival order. There is no automatic reconnect; after an error or close the
// owner decides when to call Connect again.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dyluth/beacon/internal/logger"
	"github.com/dyluth/beacon/pkg/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultPort is used when an address has no port.
const DefaultPort = "8765"

const (
	sendBuffer   = 32
	writeTimeout = 5 * time.Second
)

// Status is the connection state shown to the user.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// ErrInvalidAddress is returned by Connect and URLFor for unusable addresses.
var ErrInvalidAddress = errors.New("invalid host address")

// Channel is safe for concurrent use.
type Channel struct {
	mu      sync.Mutex
	dialer  *websocket.Dialer
	status  Status
	session *session

	onMessage func(protocol.Message)
	onStatus  func(Status)
}

type session struct {
	id   string
	url  string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// New returns a disconnected channel.
func New() *Channel {
	return &Channel{
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: 10 * time.Second,
		},
		status: StatusDisconnected,
	}
}

// OnMessage sets the single inbound handler. It is called from the receive
// goroutine, one message at a time. Set it before Connect.
func (c *Channel) OnMessage(fn func(protocol.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnStatus sets the status-change handler. Set it before Connect.
func (c *Channel) OnStatus(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = fn
}

// Status returns the current connection state.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connected reports whether a connection is up.
func (c *Channel) Connected() bool {
	return c.Status() == StatusConnected
}

// SessionID identifies the current connection attempt, or "" if none.
func (c *Channel) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.id
}

// Connect starts connecting to address in the background. It is a no-op
// while connecting or connected. ctx bounds the dial only.
func (c *Channel) Connect(ctx context.Context, address string) error {
	target, err := URLFor(address)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.status == StatusConnecting || c.status == StatusConnected {
		c.mu.Unlock()
		return nil
	}
	s := &session{
		id:   uuid.New().String(),
		url:  target,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	c.session = s
	c.status = StatusConnecting
	onStatus := c.onStatus
	c.mu.Unlock()

	logger.Infof("[Channel] connecting to %s (session %s)", target, s.id)
	if onStatus != nil {
		onStatus(StatusConnecting)
	}

	go c.dial(ctx, s)
	return nil
}

// Disconnect closes the connection, if any, and always ends disconnected.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()

	if s != nil {
		s.close()
		logger.Infof("[Channel] disconnected session %s", s.id)
	}
	c.endSession(nil, StatusDisconnected)
}

// Send encodes and queues msg. Without a live connection, or with a full
// send buffer, the message is dropped.
func (c *Channel) Send(msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		logger.Warnf("[Channel] dropping unencodable %s: %v", msg.Kind(), err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusConnected || c.session == nil {
		logger.Debugf("[Channel] not connected, dropping %s", msg.Kind())
		return
	}
	select {
	case c.session.send <- data:
	default:
		logger.Warnf("[Channel] send buffer full, dropping %s", msg.Kind())
	}
}

func (c *Channel) dial(ctx context.Context, s *session) {
	conn, _, err := c.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		logger.Warnf("[Channel] connect to %s failed: %v", s.url, err)
		c.finish(s, StatusError)
		return
	}

	c.mu.Lock()
	if c.session != s || s.closed() {
		c.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	c.status = StatusConnected
	onStatus := c.onStatus
	c.mu.Unlock()

	logger.Event("channel", "connected", map[string]interface{}{"url": s.url, "session": s.id})
	if onStatus != nil {
		onStatus(StatusConnected)
	}

	go c.writePump(s)
	c.readPump(s)
}

// readPump delivers inbound messages until the connection ends.
func (c *Channel) readPump(s *session) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			next := StatusError
			if s.closed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				next = StatusDisconnected
				logger.Infof("[Channel] session %s closed", s.id)
			} else {
				logger.Warnf("[Channel] session %s read error: %v", s.id, err)
			}
			c.finish(s, next)
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			logger.Debugf("[Channel] dropping malformed message: %v", err)
			continue
		}
		if u, ok := msg.(protocol.Unknown); ok {
			logger.Debugf("[Channel] ignoring %q message: %s", u.Type, u.Reason)
			continue
		}

		c.mu.Lock()
		handler := c.onMessage
		c.mu.Unlock()
		if handler != nil {
			handler(msg)
		}
	}
}

func (c *Channel) writePump(s *session) {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Warnf("[Channel] session %s write error: %v", s.id, err)
				s.close()
				return
			}
		}
	}
}

// finish ends session s with the given status, unless s was already replaced.
func (c *Channel) finish(s *session, status Status) {
	s.close()
	c.endSession(s, status)
}

// endSession sets status if s is still current (or s is nil and no session
// is current) and reports the change.
func (c *Channel) endSession(s *session, status Status) {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}
	c.session = nil
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	onStatus := c.onStatus
	c.mu.Unlock()

	if onStatus != nil {
		onStatus(status)
	}
}

// URLFor turns a host address into a WebSocket URL. It accepts a bare host,
// host:port, or a ws://, wss://, http:// or https:// URL. A missing port
// becomes DefaultPort.
func URLFor(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if !strings.Contains(address, "://") {
		address = "ws://" + address
	}

	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidAddress, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidAddress)
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), DefaultPort)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}
