// Package orchestration holds the core orchestration request, result and
// job ledger models.
package orchestration

import "time"

// Flag is a policy flag attached to an orchestration request.
type Flag string

const (
	FlagOnlyIntercloud   Flag = "ONLY_INTERCLOUD"
	FlagAllowIntercloud  Flag = "ALLOW_INTERCLOUD"
	FlagAllowTranslation Flag = "ALLOW_TRANSLATION"
	FlagOnlyPreferred    Flag = "ONLY_PREFERRED"
)

// Form is a validated orchestration request. Immutable once validated.
type Form struct {
	RequesterSystem    string
	ServiceDefinition  string
	Operations         []string
	Flags              map[Flag]bool
	PreferredProviders []string
	QoSRequirements    map[string]string
}

// Flag reports whether the named flag is set on the form.
func (f Form) Flag(flag Flag) bool {
	return f.Flags[flag]
}

// HasPreferredProviders reports whether a preferred provider list was given.
func (f Form) HasPreferredProviders() bool {
	return len(f.PreferredProviders) > 0
}

// HasQoSRequirements reports whether any QoS requirement was given.
func (f Form) HasQoSRequirements() bool {
	return len(f.QoSRequirements) > 0
}

// Clone returns a deep copy so validated forms stay immutable.
func (f Form) Clone() Form {
	out := f
	out.Operations = append([]string(nil), f.Operations...)
	out.PreferredProviders = append([]string(nil), f.PreferredProviders...)
	if f.Flags != nil {
		out.Flags = make(map[Flag]bool, len(f.Flags))
		for k, v := range f.Flags {
			out.Flags[k] = v
		}
	}
	if f.QoSRequirements != nil {
		out.QoSRequirements = make(map[string]string, len(f.QoSRequirements))
		for k, v := range f.QoSRequirements {
			out.QoSRequirements[k] = v
		}
	}
	return out
}

// Candidate is one resolved provider in an orchestration result. Pinned
// candidates originate from the priority store and precede registry matches.
type Candidate struct {
	SystemName        string
	ServiceInstanceID string
	ServiceDefinition string
	Addresses         []string
	Metadata          map[string]string
	Pinned            bool
	Priority          int
}

// Result is the ordered provider list produced by one resolution pass.
type Result struct {
	Candidates []Candidate
}

// JobType distinguishes pull and push orchestration attempts.
type JobType string

const (
	JobTypePull JobType = "PULL"
	JobTypePush JobType = "PUSH"
)

// JobStatus is the lifecycle state of a ledger row.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusDone       JobStatus = "DONE"
	JobStatusError      JobStatus = "ERROR"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// Job is one row of the orchestration ledger. Rows are append-only except
// for status transitions during their own processing and are removed only
// by the retention cleaner.
type Job struct {
	ID                string
	Type              JobType
	Status            JobStatus
	RequesterSystem   string
	TargetSystem      string
	ServiceDefinition string
	SubscriptionID    string
	Message           string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// JobFilter narrows a ledger history query. Empty fields match everything.
type JobFilter struct {
	IDs                []string
	Statuses           []JobStatus
	Type               JobType
	RequesterSystems   []string
	TargetSystems      []string
	ServiceDefinitions []string
	SubscriptionIDs    []string
}
