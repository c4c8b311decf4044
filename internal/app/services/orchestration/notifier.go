package orchestration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/arrowhead-lite/orchestrator/internal/app/domain/orchestration"
	"github.com/arrowhead-lite/orchestrator/internal/app/domain/subscription"
	"github.com/arrowhead-lite/orchestrator/pkg/logger"
)

// Notifier delivers a push orchestration result to a subscriber.
type Notifier interface {
	Notify(ctx context.Context, sub subscription.Subscription, result orchestration.Result) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, sub subscription.Subscription, result orchestration.Result) error

func (f NotifierFunc) Notify(ctx context.Context, sub subscription.Subscription, result orchestration.Result) error {
	if f == nil {
		return nil
	}
	return f(ctx, sub, result)
}

// HTTPNotifier posts results to the subscriber's notify URL.
type HTTPNotifier struct {
	client *http.Client
	log    *logger.Logger
}

var _ Notifier = (*HTTPNotifier)(nil)

// NewHTTPNotifier constructs a notifier using the given client.
func NewHTTPNotifier(client *http.Client, log *logger.Logger) *HTTPNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("push-notifier")
	}
	return &HTTPNotifier{client: client, log: log}
}

type notifyPayload struct {
	SubscriptionID string             `json:"subscriptionId"`
	Consumer       string             `json:"consumer"`
	Candidates     []candidatePayload `json:"candidates"`
}

type candidatePayload struct {
	SystemName        string            `json:"systemName"`
	ServiceInstanceID string            `json:"serviceInstanceId"`
	ServiceDefinition string            `json:"serviceDefinition"`
	Addresses         []string          `json:"addresses,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Pinned            bool              `json:"pinned"`
	Priority          int               `json:"priority,omitempty"`
}

// Notify posts the result to the subscriber. Any non-2xx status is an error.
func (n *HTTPNotifier) Notify(ctx context.Context, sub subscription.Subscription, result orchestration.Result) error {
	payload := notifyPayload{
		SubscriptionID: sub.ID,
		Consumer:       sub.Consumer,
		Candidates:     make([]candidatePayload, 0, len(result.Candidates)),
	}
	for _, c := range result.Candidates {
		payload.Candidates = append(payload.Candidates, candidatePayload(c))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.NotifyURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("subscriber returned status %d", resp.StatusCode)
	}
	n.log.WithFields(map[string]any{
		"subscriptionId": sub.ID,
		"consumer":       sub.Consumer,
		"candidates":     len(result.Candidates),
	}).Debug("push notification delivered")
	return nil
}
