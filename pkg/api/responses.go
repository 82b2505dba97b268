package api

import "github.com/trinity-run/trinity/pkg/models"

// auditListResponse is returned by GET /audit, carrying the total count
// for pagination alongside the current page.
type auditListResponse struct {
	Entries []*models.AuditEntry `json:"entries"`
	Total   int                  `json:"total"`
}

// statusResponse is a minimal acknowledgement for actions with no
// richer result to report (cancel, enable/disable, trigger-now),
// matching the teacher's {"status": "cancelled"} shape.
type statusResponse struct {
	Status string `json:"status"`
}
