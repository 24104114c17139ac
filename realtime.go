package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ============================================================================
// Connection State
// ============================================================================

// ConnState is the lifecycle state of the single realtime connection.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

// Delivery reports what Send did with a command.
type Delivery int

const (
	// Dropped means the command was rejected locally; see the returned error.
	Dropped Delivery = iota
	// Delivered means the command was written to the socket.
	Delivered
	// Queued means the command waits for the connection to open.
	Queued
)

func (d Delivery) String() string {
	switch d {
	case Delivered:
		return "delivered"
	case Queued:
		return "queued"
	}
	return "dropped"
}

// ============================================================================
// Options
// ============================================================================

// ClientOption customizes a RealtimeClient.
type ClientOption func(*RealtimeClient)

// WithClock replaces the wall clock used for heartbeat and reconnect timers.
func WithClock(clock Clock) ClientOption {
	return func(c *RealtimeClient) { c.clock = clock }
}

// WithTransport replaces the WebSocket transport.
func WithTransport(t Transport) ClientOption {
	return func(c *RealtimeClient) { c.transport = t }
}

// WithMetrics records connection metrics into m.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *RealtimeClient) { c.metrics = m }
}

// WithLogger overrides Config.Logger.
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *RealtimeClient) { c.log = log }
}

// ============================================================================
// RealtimeClient
// ============================================================================

type dialAttempt struct {
	done chan struct{}
	err  error
}

func (d *dialAttempt) finish(err error) {
	d.err = err
	close(d.done)
}

// RealtimeClient owns the single socket to the chat server: its state
// machine, heartbeat, reconnect policy, outbound queue and subscribers.
//
// Subscribers are never invoked while the client lock is held, so they may
// call Send, On and Unsubscribe.
//
// Wire writes happen under the client lock to keep frames in queue order.
// A stalled write (bounded by WriteTimeout) therefore delays other Sends,
// Connect and Disconnect, but not State, IsConnected, QueueLen, LastPong or
// inbound pong handling, which read lock-free mirrors.
type RealtimeClient struct {
	config    *Config
	log       *slog.Logger
	clock     Clock
	transport Transport
	metrics   *Metrics
	registry  *registry

	mu               sync.Mutex
	state            ConnState
	sock             Socket
	gen              uint64 // bumped by Connect and Disconnect; fences stale timers
	intentionalClose bool
	attempts         int
	queue            []Command
	connectionID     string
	reconnectTimer   Timer
	heartbeatTimer   Timer
	dialing          *dialAttempt
	cancelRead       context.CancelFunc

	// Mirrors readable without mu.
	stateV   atomic.Int32
	queued   atomic.Int64
	lastPong atomic.Int64 // unix nanoseconds
}

// NewRealtimeClient creates a client. Call Connect to open the connection.
func NewRealtimeClient(config *Config, opts ...ClientOption) *RealtimeClient {
	var cfg Config
	if config != nil {
		cfg = *config
	}
	cfg.defaults()

	c := &RealtimeClient{
		config: &cfg,
		log:    cfg.Logger,
		clock:  SystemClock{},
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = &WebSocketTransport{HTTPClient: cfg.HTTPClient, ReadLimit: cfg.ReadLimit}
	}
	c.registry = newRegistry(c.log)
	c.metrics.setState(StateIdle)
	return c
}

// Config returns the effective configuration.
func (c *RealtimeClient) Config() Config {
	return *c.config
}

// State returns the current connection state.
func (c *RealtimeClient) State() ConnState {
	return ConnState(c.stateV.Load())
}

// IsConnected reports whether the connection is open.
func (c *RealtimeClient) IsConnected() bool {
	return c.State() == StateOpen
}

// ConnectionID returns the id announced by connection:ready, if any.
func (c *RealtimeClient) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// Attempts returns the number of reconnect attempts since the last open.
func (c *RealtimeClient) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// QueueLen returns the number of commands waiting for the connection.
func (c *RealtimeClient) QueueLen() int {
	return int(c.queued.Load())
}

// Pending returns a copy of the outbound queue, head first.
func (c *RealtimeClient) Pending() []Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Command(nil), c.queue...)
}

// LastPong returns when the last pong (or the open signal) was seen.
func (c *RealtimeClient) LastPong() time.Time {
	n := c.lastPong.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (c *RealtimeClient) markPong() {
	c.lastPong.Store(c.clock.Now().UnixNano())
}

// ReconnectPending reports whether a reconnect timer is scheduled.
func (c *RealtimeClient) ReconnectPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectTimer != nil
}

// Connect opens the connection. It returns immediately when already open and
// waits for the in-flight attempt when one is running. A failed dial is
// returned to the caller and handed to the reconnect policy.
func (c *RealtimeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateOpen:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		attempt := c.dialing
		c.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.intentionalClose = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.gen++
	gen := c.gen
	attempt := &dialAttempt{done: make(chan struct{})}
	c.dialing = attempt
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	c.log.Debug("chatsync: connecting", "url", c.config.URL)
	dialCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	sock, err := c.transport.Dial(dialCtx, c.config.dialURL())
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		// Disconnect ran while dialing.
		c.mu.Unlock()
		if sock != nil {
			_ = sock.Close(CloseNormal, "client disconnect")
		}
		if err == nil {
			err = ErrClosed
		}
		attempt.finish(err)
		return err
	}
	c.dialing = nil
	if err != nil {
		c.setStateLocked(StateClosed)
		var events []Envelope
		if !c.intentionalClose {
			events = c.scheduleReconnectLocked()
		}
		c.mu.Unlock()
		c.log.Warn("chatsync: connect failed", "url", c.config.URL, "err", err)
		attempt.finish(err)
		c.emitAll(events)
		return err
	}

	readCtx, cancelRead := context.WithCancel(context.Background())
	c.sock = sock
	c.cancelRead = cancelRead
	c.attempts = 0
	c.markPong()
	c.setStateLocked(StateOpen)
	c.startHeartbeatLocked(gen)
	events, failed := c.flushLocked()
	c.mu.Unlock()

	c.log.Debug("chatsync: connected", "url", c.config.URL)
	attempt.finish(nil)
	if failed != nil {
		_ = failed.Close(CloseGoingAway, "write failed")
		c.emitAll(events)
		return nil
	}
	go c.readLoop(readCtx, sock)
	return nil
}

// Resume connects unless the connection is open or an attempt is running.
// Hosts call it when the application regains focus.
func (c *RealtimeClient) Resume(ctx context.Context) error {
	switch c.State() {
	case StateOpen, StateConnecting:
		return nil
	}
	return c.Connect(ctx)
}

// Disconnect closes the connection on purpose: the heartbeat and any pending
// reconnect are cancelled, the queue and connection id are cleared, and no
// reconnect is scheduled.
func (c *RealtimeClient) Disconnect() error {
	c.mu.Lock()
	c.log.Debug("chatsync: disconnecting")
	c.intentionalClose = true
	c.gen++
	gen := c.gen
	c.stopHeartbeatLocked()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	sock := c.sock
	cancelRead := c.cancelRead
	c.sock = nil
	c.cancelRead = nil
	c.dialing = nil
	c.queue = nil
	c.queueChangedLocked()
	c.connectionID = ""
	if sock != nil {
		c.setStateLocked(StateClosing)
	} else {
		c.setStateLocked(StateClosed)
	}
	c.mu.Unlock()

	var err error
	if sock != nil {
		err = sock.Close(CloseNormal, "client disconnect")
	}
	if cancelRead != nil {
		cancelRead()
	}

	c.mu.Lock()
	if c.gen == gen {
		c.setStateLocked(StateClosed)
	}
	c.mu.Unlock()
	return err
}

// Send writes a command immediately when open, otherwise appends it to the
// queue and starts a connection attempt. Network failures are never returned:
// they show up as state changes and queued commands.
func (c *RealtimeClient) Send(t EventType, payload any) (Delivery, error) {
	return c.send(Command{Type: t, Payload: payload}, false)
}

// SendPriority is Send, except that a queued command goes to the head of the
// queue.
func (c *RealtimeClient) SendPriority(t EventType, payload any) (Delivery, error) {
	return c.send(Command{Type: t, Payload: payload}, true)
}

func (c *RealtimeClient) send(cmd Command, priority bool) (Delivery, error) {
	data, err := cmd.Encode()
	if err != nil {
		return Dropped, err
	}

	c.mu.Lock()
	if c.state == StateOpen {
		err := c.writeLocked(data)
		if err == nil {
			c.mu.Unlock()
			c.log.Debug("chatsync: sent", "type", cmd.Type)
			return Delivered, nil
		}
		c.enqueueLocked(cmd, true)
		events, sock := c.failLocked(err)
		c.mu.Unlock()
		_ = sock.Close(CloseGoingAway, "write failed")
		c.emitAll(events)
		return Queued, nil
	}

	if c.config.MaxQueueSize > 0 && len(c.queue) >= c.config.MaxQueueSize {
		c.mu.Unlock()
		return Dropped, fmt.Errorf("%w: %d commands pending", ErrQueueFull, c.config.MaxQueueSize)
	}
	c.enqueueLocked(cmd, priority)
	shouldConnect := c.reconnectTimer == nil && !c.intentionalClose && c.state != StateConnecting
	c.mu.Unlock()

	c.log.Debug("chatsync: not connected, queued", "type", cmd.Type, "priority", priority)
	if shouldConnect {
		go func() { _ = c.Connect(context.Background()) }()
	}
	return Queued, nil
}

// ============================================================================
// Subscriptions
// ============================================================================

// On registers h for events of type t. Handlers run in registration order.
func (c *RealtimeClient) On(t EventType, h EventHandler) *Subscription {
	return c.registry.add(t, func(env Envelope) { h(env.Payload) })
}

// Once registers h for the next event of type t only.
func (c *RealtimeClient) Once(t EventType, h EventHandler) *Subscription {
	var fired atomic.Bool
	sub := &Subscription{key: t, reg: c.registry}
	sub.handler = func(env Envelope) {
		if fired.Swap(true) {
			return
		}
		sub.Unsubscribe()
		h(env.Payload)
	}
	c.registry.insert(sub)
	return sub
}

// OnAny registers h for every inbound envelope.
func (c *RealtimeClient) OnAny(h EnvelopeHandler) *Subscription {
	return c.registry.add(wildcard, func(env Envelope) { h(env) })
}

// Off removes a subscription. It is equivalent to sub.Unsubscribe.
func (c *RealtimeClient) Off(sub *Subscription) {
	sub.Unsubscribe()
}

// Subscribers returns the number of handlers registered for t.
func (c *RealtimeClient) Subscribers(t EventType) int {
	return c.registry.count(t)
}

func onTyped[E Event](c *RealtimeClient, t EventType, h func(E)) *Subscription {
	return c.registry.add(t, func(env Envelope) {
		ev, err := DecodeEvent(env)
		if err != nil {
			c.log.Warn("chatsync: dropping malformed event", "type", env.Type, "err", err)
			c.metrics.malformed()
			return
		}
		if e, ok := ev.(E); ok {
			h(e)
		}
	})
}

// OnReady registers a handler for connection:ready.
func (c *RealtimeClient) OnReady(h func(ReadyPayload)) *Subscription {
	return onTyped(c, EventConnectionReady, func(e ReadyEvent) { h(e.ReadyPayload) })
}

// OnMessageCreated registers a handler for message:created.
func (c *RealtimeClient) OnMessageCreated(h func(Message)) *Subscription {
	return onTyped(c, EventMessageCreated, func(e MessageCreatedEvent) { h(e.Message) })
}

// OnMessageUpdate registers a handler for message:update.
func (c *RealtimeClient) OnMessageUpdate(h func(MessageUpdatePayload)) *Subscription {
	return onTyped(c, EventMessageUpdate, func(e MessageUpdateEvent) { h(e.MessageUpdatePayload) })
}

// OnMessageDelete registers a handler for message:delete.
func (c *RealtimeClient) OnMessageDelete(h func(MessageDeletePayload)) *Subscription {
	return onTyped(c, EventMessageDelete, func(e MessageDeleteEvent) { h(e.MessageDeletePayload) })
}

// OnReactionAdd registers a handler for reaction:add.
func (c *RealtimeClient) OnReactionAdd(h func(ReactionPayload)) *Subscription {
	return onTyped(c, EventReactionAdd, func(e ReactionAddEvent) { h(e.ReactionPayload) })
}

// OnReactionRemove registers a handler for reaction:remove.
func (c *RealtimeClient) OnReactionRemove(h func(ReactionPayload)) *Subscription {
	return onTyped(c, EventReactionRemove, func(e ReactionRemoveEvent) { h(e.ReactionPayload) })
}

// OnPresenceUpdate registers a handler for presence:update.
func (c *RealtimeClient) OnPresenceUpdate(h func(PresenceUpdatePayload)) *Subscription {
	return onTyped(c, EventPresenceUpdate, func(e PresenceUpdateEvent) { h(e.PresenceUpdatePayload) })
}

// OnTypingStart registers a handler for typing:start.
func (c *RealtimeClient) OnTypingStart(h func(TypingPayload)) *Subscription {
	return onTyped(c, EventTypingStart, func(e TypingStartEvent) { h(e.TypingPayload) })
}

// OnTypingStop registers a handler for typing:stop.
func (c *RealtimeClient) OnTypingStop(h func(TypingPayload)) *Subscription {
	return onTyped(c, EventTypingStop, func(e TypingStopEvent) { h(e.TypingPayload) })
}

// OnReconnecting registers a handler for the local connection:reconnecting event.
func (c *RealtimeClient) OnReconnecting(h func(ReconnectingPayload)) *Subscription {
	return onTyped(c, EventReconnecting, func(e ReconnectingEvent) { h(e.ReconnectingPayload) })
}

// OnFailed registers a handler for the local connection:failed event.
func (c *RealtimeClient) OnFailed(h func(FailedPayload)) *Subscription {
	return onTyped(c, EventFailed, func(e FailedEvent) { h(e.FailedPayload) })
}

// ============================================================================
// Internals
// ============================================================================

func (c *RealtimeClient) readLoop(ctx context.Context, sock Socket) {
	for {
		data, err := sock.Read(ctx)
		if err != nil {
			c.mu.Lock()
			events := c.closeLocked(sock)
			intentional := c.intentionalClose
			c.mu.Unlock()
			if !intentional {
				c.log.Debug("chatsync: connection closed", "err", err)
			}
			_ = sock.Close(CloseGoingAway, "read failed")
			c.emitAll(events)
			return
		}
		c.handleFrame(data)
	}
}

func (c *RealtimeClient) handleFrame(data []byte) {
	env, err := ParseEnvelope(data)
	if err != nil {
		c.log.Warn("chatsync: dropping malformed envelope", "err", err)
		c.metrics.malformed()
		return
	}

	switch env.Type {
	case EventPong:
		c.markPong()
		return
	case EventConnectionReady:
		var p ReadyPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			c.mu.Lock()
			c.connectionID = p.ConnectionID
			c.mu.Unlock()
			c.log.Debug("chatsync: connection ready", "connection_id", p.ConnectionID)
		}
	}

	c.metrics.dispatched(env.Type)
	c.registry.dispatch(env)
}

func (c *RealtimeClient) setStateLocked(s ConnState) {
	c.state = s
	c.stateV.Store(int32(s))
	c.metrics.setState(s)
}

func (c *RealtimeClient) enqueueLocked(cmd Command, priority bool) {
	if priority {
		c.queue = append([]Command{cmd}, c.queue...)
	} else {
		c.queue = append(c.queue, cmd)
	}
	c.queueChangedLocked()
}

func (c *RealtimeClient) queueChangedLocked() {
	c.queued.Store(int64(len(c.queue)))
	c.metrics.setQueue(len(c.queue))
}

func (c *RealtimeClient) writeLocked(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.WriteTimeout)
	defer cancel()
	if err := c.sock.Write(ctx, data); err != nil {
		return err
	}
	c.metrics.sent()
	return nil
}

// flushLocked drains the queue in order. On a write failure the failed
// command stays at the head and the socket to close is returned.
func (c *RealtimeClient) flushLocked() ([]Envelope, Socket) {
	if len(c.queue) == 0 {
		return nil, nil
	}
	c.log.Debug("chatsync: flushing queued commands", "count", len(c.queue))
	for len(c.queue) > 0 {
		cmd := c.queue[0]
		data, err := cmd.Encode()
		if err != nil {
			c.log.Warn("chatsync: dropping unencodable command", "type", cmd.Type, "err", err)
			c.queue = c.queue[1:]
			continue
		}
		if err := c.writeLocked(data); err != nil {
			c.queueChangedLocked()
			return c.failLocked(err)
		}
		c.queue = c.queue[1:]
		c.queued.Store(int64(len(c.queue)))
	}
	c.queue = nil
	c.queueChangedLocked()
	return nil, nil
}

// failLocked handles a failed write on the current socket.
func (c *RealtimeClient) failLocked(err error) ([]Envelope, Socket) {
	sock := c.sock
	c.metrics.writeError()
	c.log.Warn("chatsync: write failed", "err", err)
	return c.closeLocked(sock), sock
}

// closeLocked moves an unexpectedly lost socket to Closed and applies the
// reconnect policy. It is a no-op for sockets that are no longer current.
func (c *RealtimeClient) closeLocked(sock Socket) []Envelope {
	if sock == nil || c.sock != sock {
		return nil
	}
	c.sock = nil
	if c.cancelRead != nil {
		c.cancelRead()
		c.cancelRead = nil
	}
	c.stopHeartbeatLocked()
	c.setStateLocked(StateClosed)
	if c.intentionalClose {
		return nil
	}
	return c.scheduleReconnectLocked()
}

// scheduleReconnectLocked applies the linear-capped backoff and returns the
// synthetic events to emit once the lock is released.
func (c *RealtimeClient) scheduleReconnectLocked() []Envelope {
	if c.reconnectTimer != nil {
		return nil
	}
	if c.attempts >= c.config.MaxReconnectAttempts {
		c.log.Warn("chatsync: max reconnection attempts reached", "attempts", c.attempts)
		c.metrics.failed()
		return []Envelope{{
			Type:    EventFailed,
			Payload: mustPayload(FailedPayload{Attempts: c.attempts}),
		}}
	}

	c.attempts++
	delay := c.config.reconnectDelay(c.attempts)
	gen := c.gen
	c.reconnectTimer = c.clock.AfterFunc(delay, func() { c.reconnect(gen) })
	c.metrics.reconnect()
	c.log.Debug("chatsync: scheduling reconnect",
		"attempt", c.attempts,
		"max_attempts", c.config.MaxReconnectAttempts,
		"delay", delay,
	)
	return []Envelope{{
		Type: EventReconnecting,
		Payload: mustPayload(ReconnectingPayload{
			Attempt:     c.attempts,
			MaxAttempts: c.config.MaxReconnectAttempts,
			Delay:       delay,
		}),
	}}
}

func (c *RealtimeClient) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.mu.Unlock()
	// Failures are rescheduled by Connect itself.
	_ = c.Connect(context.Background())
}

func (c *RealtimeClient) startHeartbeatLocked(gen uint64) {
	c.stopHeartbeatLocked()
	c.heartbeatTimer = c.clock.AfterFunc(c.config.HeartbeatInterval, func() { c.heartbeat(gen) })
}

func (c *RealtimeClient) stopHeartbeatLocked() {
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
		c.heartbeatTimer = nil
	}
}

func (c *RealtimeClient) heartbeat(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateOpen {
		c.mu.Unlock()
		return
	}

	var err error
	if timeout := c.config.PongTimeout; timeout > 0 && c.clock.Now().Sub(c.LastPong()) > timeout {
		err = fmt.Errorf("no pong for %s", c.clock.Now().Sub(c.LastPong()))
	} else {
		data, _ := Command{Type: CommandPing}.Encode()
		err = c.writeLocked(data)
	}
	if err != nil {
		sock := c.sock
		events := c.closeLocked(sock)
		c.mu.Unlock()
		c.log.Warn("chatsync: heartbeat failed", "err", err)
		_ = sock.Close(CloseGoingAway, "heartbeat timeout")
		c.emitAll(events)
		return
	}
	c.heartbeatTimer = c.clock.AfterFunc(c.config.HeartbeatInterval, func() { c.heartbeat(gen) })
	c.mu.Unlock()
}

func (c *RealtimeClient) emitAll(events []Envelope) {
	for _, env := range events {
		c.registry.emit(env)
	}
}
