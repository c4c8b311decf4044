// Package history serves the orchestration job ledger: management queries
// and the retention cleaner that ages old rows out.
package history

import (
	"context"

	"github.com/arrowhead-lite/orchestrator/internal/app/domain/orchestration"
	"github.com/arrowhead-lite/orchestrator/internal/app/storage"
	"github.com/arrowhead-lite/orchestrator/internal/errors"
	"github.com/arrowhead-lite/orchestrator/pkg/logger"
)

// Service answers ledger queries.
type Service struct {
	jobs storage.JobStore
	log  *logger.Logger
}

// NewService constructs the history service.
func NewService(jobs storage.JobStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("history-service")
	}
	return &Service{jobs: jobs, log: log}
}

// Query returns one page of ledger rows matching the filter, newest
// first, together with the total match count.
func (s *Service) Query(ctx context.Context, filter orchestration.JobFilter, page storage.PageRequest) ([]orchestration.Job, int, error) {
	jobs, total, err := s.jobs.QueryJobs(ctx, filter, page.Normalize())
	if err != nil {
		return nil, 0, errors.Internal(err)
	}
	return jobs, total, nil
}

// Get returns one ledger row by id.
func (s *Service) Get(ctx context.Context, id string) (orchestration.Job, bool, error) {
	job, found, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return orchestration.Job{}, false, errors.Internal(err)
	}
	return job, found, nil
}
