// Package subscription holds the standing push orchestration request model.
package subscription

import (
	"time"

	"github.com/arrowhead-lite/orchestrator/internal/app/domain/orchestration"
)

// Subscription is a consumer's standing push orchestration request. A
// consumer owns at most one subscription; re-subscribing replaces it.
type Subscription struct {
	ID          string
	Consumer    string
	Form        orchestration.Form
	NotifyURL   string
	CreatedAt   time.Time
	TriggeredAt time.Time
}
