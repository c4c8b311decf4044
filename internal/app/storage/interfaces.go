// Package storage defines the persistence interfaces consumed by the
// orchestration services. Implementations must enforce row-level
// consistency; cross-row invariants (the priority reassignment critical
// section) are owned by the services.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/arrowhead-lite/orchestrator/internal/app/domain/orchestration"
	"github.com/arrowhead-lite/orchestrator/internal/app/domain/storeentry"
	"github.com/arrowhead-lite/orchestrator/internal/app/domain/subscription"
)

// DefaultPageSize applies when a page request carries no size.
const DefaultPageSize = 50

// ErrJobNotFound is returned when a ledger row update targets a missing id.
var ErrJobNotFound = errors.New("orchestration job not found")

// PageRequest selects one page of a sorted result set.
type PageRequest struct {
	Page int
	Size int
}

// Normalize fills defaults for zero or negative fields.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	return p
}

// Offset returns the row offset of the page start.
func (p PageRequest) Offset() int {
	return p.Page * p.Size
}

// StoreEntryStore persists pinned consumer→provider bindings. Entries are
// sorted by creation time; paged reads follow that order.
type StoreEntryStore interface {
	CreateEntries(ctx context.Context, entries []storeentry.Entry) ([]storeentry.Entry, error)
	UpdateEntries(ctx context.Context, entries []storeentry.Entry) ([]storeentry.Entry, error)
	GetEntriesByIDs(ctx context.Context, ids []string) ([]storeentry.Entry, error)
	ListEntries(ctx context.Context, filter storeentry.Filter) ([]storeentry.Entry, error)
	PageEntries(ctx context.Context, page PageRequest) ([]storeentry.Entry, int, error)
	PageEntriesByIDs(ctx context.Context, ids []string, page PageRequest) ([]storeentry.Entry, int, error)
	FindEntryByTriple(ctx context.Context, consumer, serviceInstanceID string, priority int) (storeentry.Entry, bool, error)
	DeleteEntries(ctx context.Context, ids []string) error
}

// SubscriptionStore persists push orchestration subscriptions. Saving a
// subscription replaces any prior subscription of the same consumer.
type SubscriptionStore interface {
	SaveSubscription(ctx context.Context, sub subscription.Subscription) (subscription.Subscription, error)
	GetSubscription(ctx context.Context, id string) (subscription.Subscription, bool, error)
	GetSubscriptionByConsumer(ctx context.Context, consumer string) (subscription.Subscription, bool, error)
	ListSubscriptions(ctx context.Context) ([]subscription.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) (bool, error)
}

// JobStore persists the orchestration ledger.
type JobStore interface {
	CreateJob(ctx context.Context, job orchestration.Job) (orchestration.Job, error)
	UpdateJob(ctx context.Context, job orchestration.Job) (orchestration.Job, error)
	GetJob(ctx context.Context, id string) (orchestration.Job, bool, error)
	QueryJobs(ctx context.Context, filter orchestration.JobFilter, page PageRequest) ([]orchestration.Job, int, error)
	DeleteJobsOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
