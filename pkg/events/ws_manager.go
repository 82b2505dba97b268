package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// AccessChecker decides whether identity may observe events for the given
// execution/owner_team pair, mirroring §4.10's WebSocket visibility rule.
type AccessChecker interface {
	CanView(identity Identity, executionID, ownerTeam string) bool
}

// Identity is the caller identity attached to a WebSocket connection,
// sourced from AuthenticationSource at connect time.
type Identity struct {
	UserID string
	Team   string
	Role   string
}

// ClientMessage is a message received from a connected client.
type ClientMessage struct {
	Action string `json:"action"`
}

const writeTimeout = 5 * time.Second

// Connection wraps one accepted WebSocket connection. All mutation of its
// subscription set happens from the single goroutine running
// HandleConnection, so no internal lock is required (mirrors the
// teacher's pkg/events/manager.go Connection).
type Connection struct {
	id       string
	conn     *websocket.Conn
	identity Identity
}

// ConnectionManager tracks connected clients and broadcasts filtered
// domain events to them. Grounded on the teacher's
// pkg/events/manager.go ConnectionManager: snapshot-then-send broadcast
// to avoid holding locks during network writes.
type ConnectionManager struct {
	mu          sync.Mutex
	connections map[string]*Connection
	access      AccessChecker
}

// NewConnectionManager returns a manager that consults access for every
// broadcast.
func NewConnectionManager(access AccessChecker) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		access:      access,
	}
}

// HandleConnection takes ownership of an accepted connection: registers
// it, sends a "connected" message, and reads client messages until the
// connection closes.
func (m *ConnectionManager) HandleConnection(ctx context.Context, id string, conn *websocket.Conn, identity Identity) {
	c := &Connection{id: id, conn: conn, identity: identity}
	m.register(c)
	defer m.unregister(id)

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	_ = wsjson.Write(writeCtx, conn, map[string]string{"type": "connected"})
	cancel()

	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}
		switch msg.Action {
		case "ping":
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			_ = wsjson.Write(writeCtx, conn, map[string]string{"type": "pong"})
			cancel()
		case "refresh":
			// The client's accessible-executions set is recomputed on
			// every broadcast from AccessChecker, so refresh is a no-op
			// acknowledgement rather than a stored filter update.
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			_ = wsjson.Write(writeCtx, conn, map[string]string{"type": "refreshed"})
			cancel()
		}
	}
}

func (m *ConnectionManager) register(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.id] = c
}

func (m *ConnectionManager) unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connections, id)
}

// Broadcast sends evt to every connection authorized to view it. Takes a
// snapshot of the connection list under lock, then writes outside the
// lock so a slow client cannot stall registration/unregistration.
func (m *ConnectionManager) Broadcast(evt Event) {
	m.mu.Lock()
	snapshot := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		snapshot = append(snapshot, c)
	}
	m.mu.Unlock()

	payload := wireEvent{
		Type:        string(evt.Type),
		ExecutionID: evt.ExecutionID,
		StepID:      evt.StepID,
		Sequence:    evt.Sequence,
		OccurredAt:  evt.OccurredAt,
		Payload:     evt.Payload,
	}

	for _, c := range snapshot {
		if m.access != nil && !m.access.CanView(c.identity, evt.ExecutionID, evt.OwnerTeam) {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := wsjson.Write(ctx, c.conn, payload)
		cancel()
		if err != nil {
			slog.Debug("dropping websocket write to closed connection", "connection_id", c.id, "error", err)
		}
	}
}

type wireEvent struct {
	Type        string    `json:"type"`
	ExecutionID string    `json:"execution_id"`
	StepID      string    `json:"step_id,omitempty"`
	Sequence    int64     `json:"sequence"`
	OccurredAt  time.Time `json:"occurred_at"`
	Payload     any       `json:"payload,omitempty"`
}

// MarshalWire renders evt the same way Broadcast does, for callers (tests,
// catch-up queries) that need the exact wire shape without a live socket.
func MarshalWire(evt Event) ([]byte, error) {
	return json.Marshal(wireEvent{
		Type:        string(evt.Type),
		ExecutionID: evt.ExecutionID,
		StepID:      evt.StepID,
		Sequence:    evt.Sequence,
		OccurredAt:  evt.OccurredAt,
		Payload:     evt.Payload,
	})
}
