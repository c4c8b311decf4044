// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arrowhead-lite/orchestrator/internal/app/domain/orchestration"
	"github.com/arrowhead-lite/orchestrator/internal/app/domain/storeentry"
	"github.com/arrowhead-lite/orchestrator/internal/app/domain/subscription"
	"github.com/arrowhead-lite/orchestrator/internal/app/storage"
)

// Store is the in-memory backing for all three tables.
type Store struct {
	mu                  sync.RWMutex
	entries             map[string]storeentry.Entry
	subscriptions       map[string]subscription.Subscription
	subscriptionOwners  map[string]string
	jobs                map[string]orchestration.Job
	entryOrder          []string
	jobClock            func() time.Time
}

var _ storage.StoreEntryStore = (*Store)(nil)
var _ storage.SubscriptionStore = (*Store)(nil)
var _ storage.JobStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		entries:            make(map[string]storeentry.Entry),
		subscriptions:      make(map[string]subscription.Subscription),
		subscriptionOwners: make(map[string]string),
		jobs:               make(map[string]orchestration.Job),
		jobClock:           func() time.Time { return time.Now().UTC() },
	}
}

// StoreEntryStore implementation ---------------------------------------------

func (s *Store) CreateEntries(_ context.Context, entries []storeentry.Entry) ([]storeentry.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.jobClock()
	created := make([]storeentry.Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		entry.CreatedAt = now
		entry.UpdatedAt = now
		s.entries[entry.ID] = entry
		s.entryOrder = append(s.entryOrder, entry.ID)
		created = append(created, entry)
	}
	return created, nil
}

func (s *Store) UpdateEntries(_ context.Context, entries []storeentry.Entry) ([]storeentry.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.jobClock()
	updated := make([]storeentry.Entry, 0, len(entries))
	for _, entry := range entries {
		original, ok := s.entries[entry.ID]
		if !ok {
			continue
		}
		entry.CreatedAt = original.CreatedAt
		entry.CreatedBy = original.CreatedBy
		entry.UpdatedAt = now
		s.entries[entry.ID] = entry
		updated = append(updated, entry)
	}
	return updated, nil
}

func (s *Store) GetEntriesByIDs(_ context.Context, ids []string) ([]storeentry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]storeentry.Entry, 0, len(ids))
	for _, id := range s.entryOrder {
		if !contains(ids, id) {
			continue
		}
		if entry, ok := s.entries[id]; ok {
			result = append(result, entry)
		}
	}
	return result, nil
}

func (s *Store) ListEntries(_ context.Context, filter storeentry.Filter) ([]storeentry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]storeentry.Entry, 0)
	for _, id := range s.entryOrder {
		entry, ok := s.entries[id]
		if !ok {
			continue
		}
		if matchesFilter(entry, filter) {
			result = append(result, entry)
		}
	}
	return result, nil
}

func (s *Store) PageEntries(_ context.Context, page storage.PageRequest) ([]storeentry.Entry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]storeentry.Entry, 0, len(s.entries))
	for _, id := range s.entryOrder {
		if entry, ok := s.entries[id]; ok {
			all = append(all, entry)
		}
	}
	return pageSlice(all, page.Normalize()), len(all), nil
}

func (s *Store) PageEntriesByIDs(_ context.Context, ids []string, page storage.PageRequest) ([]storeentry.Entry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]storeentry.Entry, 0, len(ids))
	for _, id := range s.entryOrder {
		if !contains(ids, id) {
			continue
		}
		if entry, ok := s.entries[id]; ok {
			all = append(all, entry)
		}
	}
	return pageSlice(all, page.Normalize()), len(all), nil
}

func (s *Store) FindEntryByTriple(_ context.Context, consumer, serviceInstanceID string, priority int) (storeentry.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.entries {
		if entry.Consumer == consumer && entry.ServiceInstanceID == serviceInstanceID && entry.Priority == priority {
			return entry, true, nil
		}
	}
	return storeentry.Entry{}, false, nil
}

func (s *Store) DeleteEntries(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.entries, id)
	}
	remaining := s.entryOrder[:0]
	for _, id := range s.entryOrder {
		if _, ok := s.entries[id]; ok {
			remaining = append(remaining, id)
		}
	}
	s.entryOrder = remaining
	return nil
}

// SubscriptionStore implementation -------------------------------------------

func (s *Store) SaveSubscription(_ context.Context, sub subscription.Subscription) (subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, ok := s.subscriptionOwners[sub.Consumer]; ok {
		delete(s.subscriptions, prior)
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.jobClock()
	}
	sub.Form = sub.Form.Clone()
	s.subscriptions[sub.ID] = sub
	s.subscriptionOwners[sub.Consumer] = sub.ID
	return cloneSubscription(sub), nil
}

func (s *Store) GetSubscription(_ context.Context, id string) (subscription.Subscription, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return subscription.Subscription{}, false, nil
	}
	return cloneSubscription(sub), true, nil
}

func (s *Store) GetSubscriptionByConsumer(_ context.Context, consumer string) (subscription.Subscription, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.subscriptionOwners[consumer]
	if !ok {
		return subscription.Subscription{}, false, nil
	}
	return cloneSubscription(s.subscriptions[id]), true, nil
}

func (s *Store) ListSubscriptions(_ context.Context) ([]subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]subscription.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		result = append(result, cloneSubscription(sub))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) DeleteSubscription(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return false, nil
	}
	delete(s.subscriptions, id)
	if s.subscriptionOwners[sub.Consumer] == id {
		delete(s.subscriptionOwners, sub.Consumer)
	}
	return true, nil
}

// JobStore implementation ----------------------------------------------------

func (s *Store) CreateJob(_ context.Context, job orchestration.Job) (orchestration.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := s.jobClock()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	s.jobs[job.ID] = job
	return job, nil
}

func (s *Store) UpdateJob(_ context.Context, job orchestration.Job) (orchestration.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.jobs[job.ID]
	if !ok {
		return orchestration.Job{}, storage.ErrJobNotFound
	}
	job.CreatedAt = original.CreatedAt
	job.UpdatedAt = s.jobClock()
	s.jobs[job.ID] = job
	return job, nil
}

func (s *Store) GetJob(_ context.Context, id string) (orchestration.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	return job, ok, nil
}

func (s *Store) QueryJobs(_ context.Context, filter orchestration.JobFilter, page storage.PageRequest) ([]orchestration.Job, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]orchestration.Job, 0)
	for _, job := range s.jobs {
		if matchesJobFilter(job, filter) {
			matched = append(matched, job)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return pageJobs(matched, page.Normalize()), len(matched), nil
}

func (s *Store) DeleteJobsOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, job := range s.jobs {
		if job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

// SetClock overrides the timestamp source. Test helper.
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	s.jobClock = clock
	s.mu.Unlock()
}

// Helpers --------------------------------------------------------------------

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func matchesFilter(entry storeentry.Entry, filter storeentry.Filter) bool {
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
	if filter.CreatedBy != "" && entry.CreatedBy != filter.CreatedBy {
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

func matchesJobFilter(job orchestration.Job, filter orchestration.JobFilter) bool {
	if len(filter.IDs) > 0 && !contains(filter.IDs, job.ID) {
		return false
	}
	if filter.Type != "" && job.Type != filter.Type {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, status := range filter.Statuses {
			if job.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(filter.RequesterSystems) > 0 && !contains(filter.RequesterSystems, job.RequesterSystem) {
		return false
	}
	if len(filter.TargetSystems) > 0 && !contains(filter.TargetSystems, job.TargetSystem) {
		return false
	}
	if len(filter.ServiceDefinitions) > 0 && !contains(filter.ServiceDefinitions, job.ServiceDefinition) {
		return false
	}
	if len(filter.SubscriptionIDs) > 0 && !contains(filter.SubscriptionIDs, job.SubscriptionID) {
		return false
	}
	return true
}

func pageSlice(all []storeentry.Entry, page storage.PageRequest) []storeentry.Entry {
	start := page.Offset()
	if start >= len(all) {
		return []storeentry.Entry{}
	}
	end := start + page.Size
	if end > len(all) {
		end = len(all)
	}
	return append([]storeentry.Entry(nil), all[start:end]...)
}

func pageJobs(all []orchestration.Job, page storage.PageRequest) []orchestration.Job {
	start := page.Offset()
	if start >= len(all) {
		return []orchestration.Job{}
	}
	end := start + page.Size
	if end > len(all) {
		end = len(all)
	}
	return append([]orchestration.Job(nil), all[start:end]...)
}

func cloneSubscription(sub subscription.Subscription) subscription.Subscription {
	sub.Form = sub.Form.Clone()
	return sub
}
