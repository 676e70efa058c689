// Package client is the Go client for a scrawl authority. It performs the
// handshake, merges the reconciliation snapshot with whatever state it
// already held (deduplicating by operation id, as the protocol requires),
// keeps the application heartbeat going, and reconnects with a bounded
// retry loop before surfacing a terminal disconnected state.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/scrawl-dev/scrawl/internal/logging"
	"github.com/scrawl-dev/scrawl/internal/protocol"
)

// Status is the client's connection state as exposed to the UI layer.
type Status int

const (
	StatusConnecting Status = iota
	StatusLive
	StatusDisconnected
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusLive:
		return "live"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Options configures a client.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8320/ws.
	URL string

	ParticipantID string
	DisplayName   string
	Color         string
	// Token is the signed identity token, required when the server runs
	// with an auth secret.
	Token string

	// HeartbeatInterval is the application-level heartbeat cadence,
	// independent of the server's transport ping. Default 15s.
	HeartbeatInterval time.Duration

	// MaxReconnectAttempts bounds the retry loop after a lost connection.
	// Once exhausted the client goes terminally disconnected. Default 5.
	MaxReconnectAttempts uint64

	// WriteTimeout bounds each outbound frame. Default 10s.
	WriteTimeout time.Duration

	Logger logging.Logger
}

func (o *Options) applyDefaults() error {
	if o.URL == "" {
		return fmt.Errorf("client: URL is required")
	}
	if o.ParticipantID == "" {
		return fmt.Errorf("client: ParticipantID is required")
	}
	if o.DisplayName == "" {
		o.DisplayName = o.ParticipantID
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 15 * time.Second
	}
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	return nil
}

// Client mirrors the authority's state for one participant session.
type Client struct {
	opts   Options
	logger logging.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	status       Status
	version      uint64
	order        []string
	byID         map[string]protocol.Operation
	participants map[string]protocol.Participant

	events       chan protocol.Envelope
	eventsClosed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Dial connects, completes the handshake, and starts the read and
// heartbeat loops. The returned client is already reconciled: its first
// snapshot has been applied.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:         opts,
		logger:       opts.Logger.WithComponent("client"),
		status:       StatusConnecting,
		byID:         make(map[string]protocol.Operation),
		participants: make(map[string]protocol.Participant),
		events:       make(chan protocol.Envelope, 256),
		ctx:          runCtx,
		cancel:       cancel,
	}

	if err := c.connect(ctx); err != nil {
		cancel()
		return nil, err
	}

	go c.readLoop()
	go c.heartbeatLoop()
	return c, nil
}

// connect dials, handshakes, and applies the reconciliation snapshot.
func (c *Client) connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}

	hs, err := protocol.Encode(&protocol.Envelope{
		Type:          protocol.TypeHandshake,
		ParticipantID: c.opts.ParticipantID,
		DisplayName:   c.opts.DisplayName,
		Color:         c.opts.Color,
		Token:         c.opts.Token,
	})
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "")
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, hs); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "")
		return fmt.Errorf("send handshake: %w", err)
	}

	// The protocol guarantees the snapshot arrives before any fan-out.
	_, data, err := conn.Read(ctx)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "")
		return fmt.Errorf("read snapshot: %w", err)
	}
	env, err := protocol.Decode(data)
	if err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "")
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if env.Type != protocol.TypeSnapshot {
		_ = conn.Close(websocket.StatusProtocolError, "")
		return fmt.Errorf("expected snapshot, got %s", env.Type)
	}

	c.mu.Lock()
	c.conn = conn
	c.status = StatusLive
	c.applySnapshotLocked(env)
	c.mu.Unlock()

	c.emit(*env)
	return nil
}

// readLoop consumes the server feed, applying each event to local state
// before surfacing it. On a lost connection it runs the bounded reconnect
// loop; exhaustion is terminal.
func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn(c.ctx, err, "connection lost, reconnecting")
			if !c.reconnect() {
				return
			}
			continue
		}

		env, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn(c.ctx, err, "dropping malformed server frame")
			continue
		}
		c.apply(env)
		c.emit(*env)
	}
}

// reconnect retries connect with exponential backoff up to the configured
// ceiling, then flips the client to its terminal disconnected state.
func (c *Client) reconnect() bool {
	c.mu.Lock()
	c.status = StatusConnecting
	c.conn = nil
	c.mu.Unlock()

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.opts.MaxReconnectAttempts),
		c.ctx,
	)
	err := backoff.Retry(func() error {
		return c.connect(c.ctx)
	}, bo)
	if err != nil {
		c.logger.Error(c.ctx, err, "reconnect attempts exhausted")
		c.mu.Lock()
		c.status = StatusDisconnected
		c.mu.Unlock()
		c.closeEvents()
		return false
	}
	return true
}

// heartbeatLoop emits the application-level heartbeat at its own cadence.
// Write failures are left to the read loop to notice.
func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			env := &protocol.Envelope{
				Type:          protocol.TypeHeartbeat,
				ParticipantID: c.opts.ParticipantID,
			}
			if err := c.write(c.ctx, env); err != nil {
				c.logger.Debug(c.ctx, "heartbeat send failed", "error", err.Error())
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// apply folds one server event into local state. Duplicate operation ids
// are skipped, so an event replayed across a reconnect never
// double-renders.
func (c *Client) apply(env *protocol.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch env.Type {
	case protocol.TypeSnapshot:
		c.applySnapshotLocked(env)
	case protocol.TypeOperation:
		if env.Operation != nil {
			c.addOperationLocked(*env.Operation)
			c.version = env.Version
		}
	case protocol.TypeClear:
		c.order = nil
		c.byID = make(map[string]protocol.Operation)
		c.version = env.Version
	case protocol.TypePresenceJoin:
		c.participants[env.ParticipantID] = protocol.Participant{ID: env.ParticipantID, Active: true}
	case protocol.TypePresenceLeave:
		delete(c.participants, env.ParticipantID)
	case protocol.TypeCursorUpdate:
		if p, ok := c.participants[env.ParticipantID]; ok && env.Point != nil {
			pt := *env.Point
			p.Cursor = &pt
			c.participants[env.ParticipantID] = p
		}
	}
}

// applySnapshotLocked replaces local state with the authority's snapshot.
// The snapshot is truth: anything it lacks was cleared or never accepted.
func (c *Client) applySnapshotLocked(env *protocol.Envelope) {
	c.order = nil
	c.byID = make(map[string]protocol.Operation)
	for _, op := range env.Operations {
		c.addOperationLocked(op)
	}
	c.participants = make(map[string]protocol.Participant)
	for _, p := range env.Participants {
		c.participants[p.ID] = p
	}
	c.version = env.Version
}

func (c *Client) addOperationLocked(op protocol.Operation) {
	if _, seen := c.byID[op.ID]; seen {
		return
	}
	c.byID[op.ID] = op
	c.order = append(c.order, op.ID)
}

// SubmitOperation sends a drawing operation and returns its generated id.
// The operation shows up in Operations() once the authority echoes it
// back, confirming acceptance.
func (c *Client) SubmitOperation(ctx context.Context, kind protocol.Kind, payload json.RawMessage) (string, error) {
	op := protocol.Operation{
		ID:       uuid.NewString(),
		Kind:     kind,
		AuthorID: c.opts.ParticipantID,
		Payload:  payload,
	}
	if err := protocol.ValidateOperation(&op); err != nil {
		return "", err
	}
	if err := c.write(ctx, &protocol.Envelope{Type: protocol.TypeOperation, Operation: &op}); err != nil {
		return "", err
	}
	return op.ID, nil
}

// Resubmit re-sends an operation verbatim. Safe under at-least-once
// delivery: the authority's append is idempotent by id.
func (c *Client) Resubmit(ctx context.Context, op protocol.Operation) error {
	return c.write(ctx, &protocol.Envelope{Type: protocol.TypeOperation, Operation: &op})
}

// SubmitCursor relays the local pointer position. Ephemeral, never logged.
func (c *Client) SubmitCursor(ctx context.Context, point protocol.Point) error {
	return c.write(ctx, &protocol.Envelope{
		Type:          protocol.TypeCursorUpdate,
		ParticipantID: c.opts.ParticipantID,
		Point:         &point,
	})
}

// Clear asks the authority to reset the materialized log.
func (c *Client) Clear(ctx context.Context) error {
	return c.write(ctx, &protocol.Envelope{Type: protocol.TypeClear})
}

func (c *Client) write(ctx context.Context, env *protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	status := c.status
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("client is %s", status)
	}

	wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

// Events is the subscription feed handed to the UI layer. It closes when
// the client is closed or goes terminally disconnected.
func (c *Client) Events() <-chan protocol.Envelope {
	return c.events
}

func (c *Client) emit(env protocol.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eventsClosed {
		return
	}
	select {
	case c.events <- env:
	default:
		// A UI that stops draining loses feed events but local state in
		// Operations() stays correct.
		c.logger.Warn(c.ctx, nil, "event feed full, dropping event", "event_type", string(env.Type))
	}
}

// Operations returns the merged, deduplicated operation list in authority
// order.
func (c *Client) Operations() []protocol.Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Operation, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Participants returns the currently known present participants.
func (c *Client) Participants() []protocol.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Participant, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, p)
	}
	return out
}

// Version returns the last version counter received from the authority.
func (c *Client) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Status returns the connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Close tears the client down.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.status = StatusDisconnected
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "client closed")
		}
		c.closeEvents()
	})
	return nil
}

// closeEvents runs at most once: either Close or reconnect exhaustion
// gets to end the feed.
func (c *Client) closeEvents() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.eventsClosed {
		c.eventsClosed = true
		close(c.events)
	}
}
