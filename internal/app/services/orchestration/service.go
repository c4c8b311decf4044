// Package orchestration implements the orchestration coordinator: pull
// resolution, push subscriptions and the push dispatch pipeline. Every
// attempt, pull or push, leaves a row in the job ledger.
package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arrowhead-lite/orchestrator/internal/app/domain/orchestration"
	"github.com/arrowhead-lite/orchestrator/internal/app/domain/subscription"
	"github.com/arrowhead-lite/orchestrator/internal/app/metrics"
	"github.com/arrowhead-lite/orchestrator/internal/app/storage"
	"github.com/arrowhead-lite/orchestrator/internal/errors"
	"github.com/arrowhead-lite/orchestrator/pkg/logger"
)

// Config sizes the push worker pool.
type Config struct {
	PushWorkers   int
	PushQueueSize int
}

// Validator is the policy gate applied to every incoming form.
type Validator interface {
	Validate(form orchestration.Form) error
}

// Service coordinates orchestration requests.
type Service struct {
	validator  Validator
	resolver   *Resolver
	jobs       storage.JobStore
	subs       storage.SubscriptionStore
	notifier   Notifier
	dispatcher *Dispatcher
	log        *logger.Logger
	now        func() time.Time
}

// NewService constructs the coordinator and its push dispatcher.
func NewService(
	validator Validator,
	resolver *Resolver,
	jobs storage.JobStore,
	subs storage.SubscriptionStore,
	notifier Notifier,
	cfg Config,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.NewDefault("orchestration-service")
	}
	s := &Service{
		validator: validator,
		resolver:  resolver,
		jobs:      jobs,
		subs:      subs,
		notifier:  notifier,
		log:       log,
		now:       time.Now,
	}
	s.dispatcher = newDispatcher(cfg.PushWorkers, cfg.PushQueueSize, s.processPush, log.WithField("component", "push-dispatcher"))
	return s
}

// Dispatcher exposes the push worker pool for lifecycle management.
func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Pull runs one synchronous orchestration pass for the form. Every
// attempt leaves a ledger row, policy rejections included.
func (s *Service) Pull(ctx context.Context, form orchestration.Form) (orchestration.Result, error) {
	job, err := s.jobs.CreateJob(ctx, orchestration.Job{
		ID:                uuid.NewString(),
		Type:              orchestration.JobTypePull,
		Status:            orchestration.JobStatusPending,
		RequesterSystem:   form.RequesterSystem,
		ServiceDefinition: form.ServiceDefinition,
		CreatedAt:         s.now().UTC(),
	})
	if err != nil {
		metrics.RecordPull("error")
		return orchestration.Result{}, errors.Internal(err)
	}

	if err := s.validator.Validate(form); err != nil {
		s.transition(ctx, job, orchestration.JobStatusError, err.Error())
		metrics.RecordPull("invalid_policy")
		return orchestration.Result{}, err
	}

	job = s.transition(ctx, job, orchestration.JobStatusInProgress, "")

	result, err := s.resolver.Resolve(ctx, form)
	if err != nil {
		s.transition(ctx, job, orchestration.JobStatusError, err.Error())
		if errors.IsResolutionFailed(err) {
			metrics.RecordPull("no_match")
		} else {
			metrics.RecordPull("error")
		}
		return orchestration.Result{}, err
	}

	job.TargetSystem = result.Candidates[0].SystemName
	s.transition(ctx, job, orchestration.JobStatusDone,
		fmt.Sprintf("%d providers matched", len(result.Candidates)))
	metrics.RecordPull("matched")

	s.log.WithFields(map[string]any{
		"requesterSystem":   form.RequesterSystem,
		"serviceDefinition": form.ServiceDefinition,
		"candidates":        len(result.Candidates),
	}).Info("pull orchestration completed")
	return result, nil
}

// SubscribeOutcome reports the result of a subscribe call.
type SubscribeOutcome struct {
	SubscriptionID string
	Created        bool
}

// Subscribe registers or replaces the consumer's standing push request.
// The subscription id is stable across overwrites so callers can keep
// using it. With trigger set, one push pass is queued immediately.
func (s *Service) Subscribe(ctx context.Context, consumer string, form orchestration.Form, notifyURL string, trigger bool) (SubscribeOutcome, error) {
	if err := s.validator.Validate(form); err != nil {
		return SubscribeOutcome{}, err
	}

	existing, replaced, err := s.subs.GetSubscriptionByConsumer(ctx, consumer)
	if err != nil {
		return SubscribeOutcome{}, errors.Internal(err)
	}
	id := uuid.NewString()
	if replaced {
		id = existing.ID
	}

	saved, err := s.subs.SaveSubscription(ctx, subscription.Subscription{
		ID:        id,
		Consumer:  consumer,
		Form:      form.Clone(),
		NotifyURL: notifyURL,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return SubscribeOutcome{}, errors.Internal(err)
	}

	s.log.WithFields(map[string]any{
		"consumer":       consumer,
		"subscriptionId": saved.ID,
		"replaced":       replaced,
	}).Info("push subscription saved")

	if trigger {
		if err := s.triggerSubscription(ctx, saved); err != nil {
			s.log.WithError(err).WithField("subscriptionId", saved.ID).
				Warn("immediate push trigger not queued")
		}
	}
	return SubscribeOutcome{SubscriptionID: saved.ID, Created: !replaced}, nil
}

// Unsubscribe removes the subscription. It reports whether one existed.
func (s *Service) Unsubscribe(ctx context.Context, subscriptionID string) (bool, error) {
	removed, err := s.subs.DeleteSubscription(ctx, subscriptionID)
	if err != nil {
		return false, errors.Internal(err)
	}
	if removed {
		s.log.WithField("subscriptionId", subscriptionID).Info("push subscription removed")
	}
	return removed, nil
}

// TriggerAll queues one push pass for every active subscription and
// returns the number of passes queued.
func (s *Service) TriggerAll(ctx context.Context) (int, error) {
	subs, err := s.subs.ListSubscriptions(ctx)
	if err != nil {
		return 0, errors.Internal(err)
	}

	queued := 0
	for _, sub := range subs {
		if err := s.triggerSubscription(ctx, sub); err != nil {
			s.log.WithError(err).WithField("subscriptionId", sub.ID).
				Warn("push trigger not queued")
			continue
		}
		queued++
	}
	return queued, nil
}

// triggerSubscription creates the PENDING ledger row and offers the task
// to the dispatcher. A full queue fails the row immediately.
func (s *Service) triggerSubscription(ctx context.Context, sub subscription.Subscription) error {
	job, err := s.jobs.CreateJob(ctx, orchestration.Job{
		ID:                uuid.NewString(),
		Type:              orchestration.JobTypePush,
		Status:            orchestration.JobStatusPending,
		RequesterSystem:   sub.Consumer,
		ServiceDefinition: sub.Form.ServiceDefinition,
		SubscriptionID:    sub.ID,
		CreatedAt:         s.now().UTC(),
	})
	if err != nil {
		return errors.Internal(err)
	}

	if !s.dispatcher.enqueue(pushTask{jobID: job.ID, subscriptionID: sub.ID}) {
		s.transition(ctx, job, orchestration.JobStatusError, "push queue full")
		metrics.RecordPushDispatch("rejected")
		return fmt.Errorf("push queue full")
	}
	return nil
}

// processPush is the worker body for one queued push pass.
func (s *Service) processPush(ctx context.Context, task pushTask) {
	job, found, err := s.jobs.GetJob(ctx, task.jobID)
	if err != nil || !found {
		s.log.WithError(err).WithField("jobId", task.jobID).Error("push job lookup failed")
		return
	}

	// The subscription may have been removed while the task was queued.
	// Nothing to deliver then; the row closes without a notification.
	sub, found, err := s.subs.GetSubscription(ctx, task.subscriptionID)
	if err != nil {
		s.transition(ctx, job, orchestration.JobStatusError, "subscription lookup failed")
		metrics.RecordPushDispatch("error")
		return
	}
	if !found {
		s.transition(ctx, job, orchestration.JobStatusDone, "subscription removed before dispatch")
		metrics.RecordPushDispatch("skipped")
		return
	}

	job = s.transition(ctx, job, orchestration.JobStatusInProgress, "")

	result, err := s.resolver.Resolve(ctx, sub.Form)
	if err != nil {
		s.transition(ctx, job, orchestration.JobStatusError, err.Error())
		if errors.IsResolutionFailed(err) {
			metrics.RecordPushDispatch("no_match")
		} else {
			metrics.RecordPushDispatch("error")
		}
		return
	}

	if err := s.notifier.Notify(ctx, sub, result); err != nil {
		s.transition(ctx, job, orchestration.JobStatusError, fmt.Sprintf("notify subscriber: %v", err))
		metrics.RecordPushDispatch("error")
		return
	}

	sub.TriggeredAt = s.now().UTC()
	if _, err := s.subs.SaveSubscription(ctx, sub); err != nil {
		s.log.WithError(err).WithField("subscriptionId", sub.ID).
			Warn("could not record trigger time")
	}

	job.TargetSystem = result.Candidates[0].SystemName
	s.transition(ctx, job, orchestration.JobStatusDone,
		fmt.Sprintf("notified subscriber, %d providers matched", len(result.Candidates)))
	metrics.RecordPushDispatch("delivered")
}

// transition applies a status change to the ledger row. Update failures
// are logged, not propagated; the ledger is advisory for callers.
func (s *Service) transition(ctx context.Context, job orchestration.Job, status orchestration.JobStatus, message string) orchestration.Job {
	job.Status = status
	if message != "" {
		job.Message = message
	}
	updated, err := s.jobs.UpdateJob(ctx, job)
	if err != nil {
		s.log.WithError(err).WithFields(map[string]any{
			"jobId":  job.ID,
			"status": status,
		}).Error("ledger update failed")
		return job
	}
	return updated
}
