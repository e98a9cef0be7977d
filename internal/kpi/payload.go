package kpi

import (
	"encoding/json"

	"github.com/sells-group/claims-router/internal/audit"
	"github.com/sells-group/claims-router/internal/routing"
)

func routingStatus(e *audit.Event) routing.Status {
	var d struct {
		Status routing.Status `json:"status"`
	}
	_ = json.Unmarshal(e.Decision, &d) //nolint:errcheck // missing decision reads as no status
	return d.Status
}

func qaPassedPayload(e *audit.Event) bool {
	var p struct {
		Passed bool `json:"passed"`
	}
	_ = json.Unmarshal(e.Payload, &p) //nolint:errcheck // unreadable payload counts as not passed
	return p.Passed
}
