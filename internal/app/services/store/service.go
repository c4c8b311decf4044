// Package store implements the orchestration priority store management
// service. Entries pin a consumer to a provider instance at a priority;
// the (consumer, service instance, priority) triple is globally unique.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arrowhead-lite/orchestrator/internal/app/domain/storeentry"
	"github.com/arrowhead-lite/orchestrator/internal/app/storage"
	"github.com/arrowhead-lite/orchestrator/internal/errors"
	"github.com/arrowhead-lite/orchestrator/pkg/logger"
)

// Service manages priority store entries.
type Service struct {
	entries storage.StoreEntryStore
	log     *logger.Logger
	now     func() time.Time

	// mu serializes priority reassignment. Priority moves touch several
	// rows whose uniqueness must hold across the whole batch, which the
	// row-level store cannot guarantee on its own.
	mu sync.Mutex
}

// NewService constructs the priority store service.
func NewService(entries storage.StoreEntryStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("store-service")
	}
	return &Service{
		entries: entries,
		log:     log,
		now:     time.Now,
	}
}

// CreateCandidate is one entry to be created.
type CreateCandidate struct {
	Consumer          string
	ServiceDefinition string
	ServiceInstanceID string
	Priority          int
}

// PriorityChange reassigns one existing entry to a new priority.
type PriorityChange struct {
	EntryID  string
	Priority int
}

type tripleKey struct {
	consumer          string
	serviceInstanceID string
	priority          int
}

func (c CreateCandidate) key() tripleKey {
	return tripleKey{
		consumer:          c.Consumer,
		serviceInstanceID: c.ServiceInstanceID,
		priority:          c.Priority,
	}
}

// CreateBulk creates the given entries. The whole batch is rejected when
// any candidate duplicates another candidate or a persisted entry.
func (s *Service) CreateBulk(ctx context.Context, creator string, candidates []CreateCandidate) ([]storeentry.Entry, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	seen := make(map[tripleKey]struct{}, len(candidates))
	for _, c := range candidates {
		key := c.key()
		if _, dup := seen[key]; dup {
			return nil, errors.Conflict(
				"duplicated fields in the request: consumer %s, service instance %s, priority %d",
				c.Consumer, c.ServiceInstanceID, c.Priority)
		}
		seen[key] = struct{}{}

		_, exists, err := s.entries.FindEntryByTriple(ctx, c.Consumer, c.ServiceInstanceID, c.Priority)
		if err != nil {
			return nil, errors.Internal(err)
		}
		if exists {
			return nil, errors.Conflict(
				"there is already an existing entity with the following fields: consumer %s, service instance %s, priority %d",
				c.Consumer, c.ServiceInstanceID, c.Priority)
		}
	}

	now := s.now().UTC()
	entries := make([]storeentry.Entry, 0, len(candidates))
	for _, c := range candidates {
		entries = append(entries, storeentry.Entry{
			ID:                uuid.NewString(),
			Consumer:          c.Consumer,
			ServiceDefinition: c.ServiceDefinition,
			ServiceInstanceID: c.ServiceInstanceID,
			Priority:          c.Priority,
			CreatedBy:         creator,
			UpdatedBy:         creator,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}

	created, err := s.entries.CreateEntries(ctx, entries)
	if err != nil {
		return nil, errors.Internal(err)
	}
	s.log.WithField("count", len(created)).Info("priority store entries created")
	return created, nil
}

// GetPage returns one page of entries matching the filter, sorted by
// creation time, together with the total match count.
func (s *Service) GetPage(ctx context.Context, filter storeentry.Filter, page storage.PageRequest) ([]storeentry.Entry, int, error) {
	page = page.Normalize()

	if filter.Empty() {
		entries, total, err := s.entries.PageEntries(ctx, page)
		if err != nil {
			return nil, 0, errors.Internal(err)
		}
		return entries, total, nil
	}

	base, err := s.baseSet(ctx, filter)
	if err != nil {
		return nil, 0, errors.Internal(err)
	}

	ids := make([]string, 0, len(base))
	for _, entry := range base {
		if matches(entry, filter) {
			ids = append(ids, entry.ID)
		}
	}
	if len(ids) == 0 {
		return nil, 0, nil
	}

	entries, total, err := s.entries.PageEntriesByIDs(ctx, ids, page)
	if err != nil {
		return nil, 0, errors.Internal(err)
	}
	return entries, total, nil
}

// baseSet fetches the narrowest candidate set the store can produce for
// the filter. The most selective populated field wins; the remaining
// fields are applied in memory afterwards.
func (s *Service) baseSet(ctx context.Context, filter storeentry.Filter) ([]storeentry.Entry, error) {
	switch {
	case len(filter.IDs) > 0:
		return s.entries.GetEntriesByIDs(ctx, filter.IDs)
	case len(filter.Consumers) > 0:
		return s.entries.ListEntries(ctx, storeentry.Filter{Consumers: filter.Consumers})
	case len(filter.ServiceDefinitions) > 0:
		return s.entries.ListEntries(ctx, storeentry.Filter{ServiceDefinitions: filter.ServiceDefinitions})
	case len(filter.ServiceInstanceIDs) > 0:
		return s.entries.ListEntries(ctx, storeentry.Filter{ServiceInstanceIDs: filter.ServiceInstanceIDs})
	case filter.CreatedBy != "":
		return s.entries.ListEntries(ctx, storeentry.Filter{CreatedBy: filter.CreatedBy})
	default:
		return s.entries.ListEntries(ctx, storeentry.Filter{})
	}
}

// Names match exactly, the same convention the backends apply to triple
// uniqueness.
func matches(entry storeentry.Entry, filter storeentry.Filter) bool {
	if len(filter.IDs) > 0 && !contains(filter.IDs, entry.ID) {
		return false
	}
	if len(filter.Consumers) > 0 && !contains(filter.Consumers, entry.Consumer) {
		return false
	}
	if len(filter.ServiceDefinitions) > 0 && !contains(filter.ServiceDefinitions, entry.ServiceDefinition) {
		return false
	}
	if len(filter.ServiceInstanceIDs) > 0 && !contains(filter.ServiceInstanceIDs, entry.ServiceInstanceID) {
		return false
	}
	if filter.CreatedBy != "" && filter.CreatedBy != entry.CreatedBy {
		return false
	}
	if filter.MinPriority != nil && entry.Priority < *filter.MinPriority {
		return false
	}
	if filter.MaxPriority != nil && entry.Priority > *filter.MaxPriority {
		return false
	}
	return true
}

func contains(haystack []string, needle string) bool {
	for _, item := range haystack {
		if item == needle {
			return true
		}
	}
	return false
}

// SetPriorities reassigns priorities on existing entries. Unknown ids are
// skipped. The whole batch is validated before any row changes, and the
// operation runs in a critical section so concurrent reassignments cannot
// interleave into a state that violates triple uniqueness.
func (s *Service) SetPriorities(ctx context.Context, requester string, changes []PriorityChange) ([]storeentry.Entry, error) {
	if len(changes) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(changes))
	wanted := make(map[string]int, len(changes))
	for _, change := range changes {
		ids = append(ids, change.EntryID)
		wanted[change.EntryID] = change.Priority
	}

	current, err := s.entries.GetEntriesByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Internal(err)
	}

	seen := make(map[tripleKey]struct{}, len(current))
	updates := make([]storeentry.Entry, 0, len(current))
	now := s.now().UTC()

	for _, entry := range current {
		priority := wanted[entry.ID]
		target := CreateCandidate{
			Consumer:          entry.Consumer,
			ServiceInstanceID: entry.ServiceInstanceID,
			Priority:          priority,
		}.key()

		if _, dup := seen[target]; dup {
			return nil, errors.Conflict(
				"duplicated fields in the request: consumer %s, service instance %s, priority %d",
				entry.Consumer, entry.ServiceInstanceID, priority)
		}
		seen[target] = struct{}{}

		if priority == entry.Priority {
			// Same entity at the same priority, nothing to move.
			continue
		}

		// A different entity on the target triple always fails the batch,
		// even when that entity is itself being reassigned. Swaps are not
		// supported.
		existing, exists, err := s.entries.FindEntryByTriple(ctx, entry.Consumer, entry.ServiceInstanceID, priority)
		if err != nil {
			return nil, errors.Internal(err)
		}
		if exists && existing.ID != entry.ID {
			return nil, errors.Conflict(
				"there is already an existing entity with the following fields: consumer %s, service instance %s, priority %d",
				entry.Consumer, entry.ServiceInstanceID, priority)
		}

		entry.Priority = priority
		entry.UpdatedBy = requester
		entry.UpdatedAt = now
		updates = append(updates, entry)
	}

	if len(updates) == 0 {
		return current, nil
	}

	updated, err := s.entries.UpdateEntries(ctx, updates)
	if err != nil {
		return nil, errors.Internal(err)
	}
	s.log.WithField("count", len(updated)).Info("priority store entries reassigned")

	refreshed, err := s.entries.GetEntriesByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Internal(err)
	}
	return refreshed, nil
}

// DeleteBulk removes the named entries. Missing ids are ignored.
func (s *Service) DeleteBulk(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.entries.DeleteEntries(ctx, ids); err != nil {
		return errors.Internal(err)
	}
	s.log.WithField("count", len(ids)).Info("priority store entries deleted")
	return nil
}
