package events

// WebSocketSink forwards every event to a ConnectionManager, which fans it
// out to connected clients authorized to view it.
type WebSocketSink struct {
	manager *ConnectionManager
}

// NewWebSocketSink returns a sink backed by manager.
func NewWebSocketSink(manager *ConnectionManager) *WebSocketSink {
	return &WebSocketSink{manager: manager}
}

func (s *WebSocketSink) Handle(evt Event) {
	s.manager.Broadcast(evt)
}
