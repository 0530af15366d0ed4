// Package client assembles the scanning client and the tracking-board client
// from their parts: one control loop, its timers, a host channel, a state
// machine and a snapshot store.
//
// Exported methods are safe to call from any goroutine. They hand work to
// the control loop and wait for it, so machine state is only ever touched
// on the loop.
package client

import (
	"context"
	"errors"
	"time"

	"github.com/dyluth/beacon/internal/channel"
	"github.com/dyluth/beacon/internal/logger"
	"github.com/dyluth/beacon/internal/loop"
	"github.com/dyluth/beacon/pkg/protocol"
)

const (
	loopCapacity   = 64
	persistTimeout = 2 * time.Second

	// DefaultHeartbeat is how often a connected client pings the host.
	DefaultHeartbeat = 20 * time.Second
)

// ErrNotRunning is returned by calls made after the client has stopped.
var ErrNotRunning = errors.New("client is not running")

// runtime is the plumbing shared by both clients.
type runtime struct {
	name      string
	source    protocol.Source
	loop      *loop.Loop
	timers    *loop.Timers
	channel   *channel.Channel
	heartbeat time.Duration
	onStatus  func(channel.Status)

	// last session whose connect was handled; loop only
	syncedSession string
}

func newRuntime(name string, source protocol.Source, heartbeat time.Duration, onStatus func(channel.Status)) *runtime {
	l := loop.New(loopCapacity)
	return &runtime{
		name:      name,
		source:    source,
		loop:      l,
		timers:    loop.NewTimers(l),
		channel:   channel.New(),
		heartbeat: heartbeat,
		onStatus:  onStatus,
	}
}

// wire routes channel callbacks onto the loop.
func (r *runtime) wire(onMessage func(protocol.Message), onConnected func()) {
	r.channel.OnMessage(func(msg protocol.Message) {
		r.loop.Post(func() { onMessage(msg) })
	})
	r.channel.OnStatus(func(s channel.Status) {
		session := r.channel.SessionID()
		r.loop.Post(func() {
			logger.Event(r.name, "connection_status", map[string]interface{}{"status": string(s), "session": session})
			if s == channel.StatusConnected && !r.connected(session) {
				return
			}
			if s == channel.StatusConnected && onConnected != nil {
				onConnected()
			}
			if r.onStatus != nil {
				r.onStatus(s)
			}
		})
	})
}

// connected reports whether a connected status for session should be acted
// on: the session is still the live one and has not been handled yet. Status
// callbacks can arrive late, after a reconnect. Runs on the loop.
func (r *runtime) connected(session string) bool {
	if session == "" || session == r.syncedSession {
		return false
	}
	if !r.channel.Connected() || r.channel.SessionID() != session {
		return false
	}
	r.syncedSession = session
	return true
}

// run calls setup, then drives the loop until ctx ends and finally drops
// the connection and timers. If setup fails the loop never runs.
func (r *runtime) run(ctx context.Context, setup func(context.Context) error) error {
	if err := setup(ctx); err != nil {
		r.loop.Abandon()
		return err
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	if r.heartbeat > 0 {
		go r.sendHeartbeats(hbCtx)
	}

	logger.Infof("[%s] control loop started", r.name)
	err := r.loop.Run(ctx)

	r.channel.Disconnect()
	r.timers.CancelAll()
	logger.Infof("[%s] shut down", r.name)
	return err
}

func (r *runtime) sendHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.channel.Connected() {
				r.channel.Send(protocol.Heartbeat{Source: r.source})
			}
		}
	}
}

// do runs fn on the loop and returns its error.
func (r *runtime) do(ctx context.Context, fn func() error) error {
	var result error
	if err := r.loop.Call(ctx, func() { result = fn() }); err != nil {
		if errors.Is(err, loop.ErrStopped) {
			return ErrNotRunning
		}
		return err
	}
	return result
}

func (r *runtime) connect(ctx context.Context, address string) error {
	return r.channel.Connect(ctx, address)
}

// status returns the host connection state.
func (r *runtime) status() channel.Status {
	return r.channel.Status()
}

func persistContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), persistTimeout)
}
