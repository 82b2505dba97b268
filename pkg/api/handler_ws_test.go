package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trinity-run/trinity/pkg/events"
)

func TestWsHandlerRejectsWhenConnectionManagerUnset(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws/events", nil)
	s.engine.ServeHTTP(rec, req)
	// No connection manager was wired, so /ws/events was never
	// registered as a route; gin falls through to its default 404.
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWsHandlerRequiresIdentityOnceWired(t *testing.T) {
	s, _ := newTestServer(t)
	s.SetConnectionManager(events.NewConnectionManager(NewAccessChecker(s.authz)))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws/events", nil)
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
