package api

import (
	"net/http"

	"github.com/coder/websocket"

	"github.com/gin-gonic/gin"

	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/events"
)

// wsHandler upgrades the request to a WebSocket and hands it to the
// ConnectionManager for the lifetime of the connection. Grounded on the
// teacher's handler_ws.go (coder/websocket Accept, delegate-and-block).
func (s *Server) wsHandler(c *gin.Context) {
	if s.connManager == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Code: string(errs.InternalError), Message: "websocket not available"})
		return
	}
	id := identityFrom(c)
	if id.UserID == "" {
		respondAuthRequired(c)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// Origin validation is left to the reverse proxy terminating TLS
		// in front of this server, the same boundary the teacher leaves
		// InsecureSkipVerify for.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}

	var role string
	if len(id.Roles) > 0 {
		role = string(id.Roles[0])
	}
	connID := s.ids.NewID()
	s.connManager.HandleConnection(c.Request.Context(), connID, conn, events.Identity{
		UserID: id.UserID,
		Team:   id.Team,
		Role:   role,
	})
}
