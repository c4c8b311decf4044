// Package storeentry holds the pinned consumer→provider binding model of
// the orchestration priority store.
package storeentry

import "time"

// Entry is one pinned binding. The (Consumer, ServiceInstanceID, Priority)
// triple is globally unique.
type Entry struct {
	ID                string
	Consumer          string
	ServiceDefinition string
	ServiceInstanceID string
	Priority          int
	CreatedBy         string
	UpdatedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Filter narrows a store page query. Empty fields match everything.
type Filter struct {
	IDs                []string
	Consumers          []string
	ServiceDefinitions []string
	ServiceInstanceIDs []string
	CreatedBy          string
	MinPriority        *int
	MaxPriority        *int
}

// Empty reports whether no filter field was supplied.
func (f Filter) Empty() bool {
	return len(f.IDs) == 0 &&
		len(f.Consumers) == 0 &&
		len(f.ServiceDefinitions) == 0 &&
		len(f.ServiceInstanceIDs) == 0 &&
		f.CreatedBy == "" &&
		f.MinPriority == nil &&
		f.MaxPriority == nil
}
