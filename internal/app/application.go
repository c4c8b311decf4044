// Package app wires the orchestration services together and manages
// their lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/arrowhead-lite/orchestrator/internal/app/httpapi"
	"github.com/arrowhead-lite/orchestrator/internal/app/metrics"
	"github.com/arrowhead-lite/orchestrator/internal/app/registry"
	historysvc "github.com/arrowhead-lite/orchestrator/internal/app/services/history"
	orchsvc "github.com/arrowhead-lite/orchestrator/internal/app/services/orchestration"
	"github.com/arrowhead-lite/orchestrator/internal/app/services/policy"
	storesvc "github.com/arrowhead-lite/orchestrator/internal/app/services/store"
	"github.com/arrowhead-lite/orchestrator/internal/app/storage"
	"github.com/arrowhead-lite/orchestrator/internal/app/storage/memory"
	"github.com/arrowhead-lite/orchestrator/internal/app/system"
	"github.com/arrowhead-lite/orchestrator/internal/config"
	"github.com/arrowhead-lite/orchestrator/internal/middleware"
	"github.com/arrowhead-lite/orchestrator/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Entries       storage.StoreEntryStore
	Subscriptions storage.SubscriptionStore
	Jobs          storage.JobStore
}

// Application ties the orchestration services together.
type Application struct {
	manager *system.Manager
	cfg     *config.Config
	log     *logger.Logger

	Orchestration *orchsvc.Service
	Store         *storesvc.Service
	History       *historysvc.Service
}

// New builds a fully initialised application from the configuration.
func New(cfg *config.Config, stores Stores, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.New("orchestrator", cfg.LogLevel)
	}

	mem := memory.New()
	if stores.Entries == nil {
		stores.Entries = mem
	}
	if stores.Subscriptions == nil {
		stores.Subscriptions = mem
	}
	if stores.Jobs == nil {
		stores.Jobs = mem
	}

	httpClient := &http.Client{Timeout: cfg.Registry.Timeout}

	var lookup registry.Lookup
	if endpoint := strings.TrimSpace(cfg.Registry.Endpoint); endpoint != "" {
		client, err := registry.NewHTTPClient(httpClient, endpoint, cfg.Registry.APIKey, log.WithField("component", "registry-client"))
		if err != nil {
			return nil, fmt.Errorf("configure registry client: %w", err)
		}
		lookup = client
	} else {
		log.Warn("registry endpoint not set; provider lookups will return no live instances")
		lookup = registry.LookupFunc(nil)
	}

	validator := policy.New(policy.Toggles{
		InterCloudEnabled:  cfg.Features.InterCloudEnabled,
		TranslationEnabled: cfg.Features.TranslationEnabled,
		QoSEnabled:         cfg.Features.QoSEnabled,
	})

	resolver := orchsvc.NewResolver(stores.Entries, lookup, log.WithField("component", "resolver"))
	notifier := orchsvc.NewHTTPNotifier(httpClient, log.WithField("component", "push-notifier"))

	orchestration := orchsvc.NewService(validator, resolver, stores.Jobs, stores.Subscriptions, notifier, orchsvc.Config{
		PushWorkers:   cfg.Push.Workers,
		PushQueueSize: cfg.Push.QueueSize,
	}, log.WithField("component", "orchestration-service"))

	storeService := storesvc.NewService(stores.Entries, log.WithField("component", "store-service"))
	historyService := historysvc.NewService(stores.Jobs, log.WithField("component", "history-service"))

	cleaner := historysvc.NewCleaner(
		stores.Jobs,
		cfg.Cleaner.Interval,
		time.Duration(cfg.Cleaner.MaxAgeDays)*24*time.Hour,
		log.WithField("component", "history-cleaner"),
	)

	manager := system.NewManager()
	for _, svc := range []system.Service{orchestration.Dispatcher(), cleaner} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:       manager,
		cfg:           cfg,
		log:           log,
		Orchestration: orchestration,
		Store:         storeService,
		History:       historyService,
	}, nil
}

// Handler assembles the full HTTP surface: API routes behind identity and
// rate limiting, plus the metrics endpoint, all instrumented.
func (a *Application) Handler() http.Handler {
	mux := http.NewServeMux()
	httpapi.NewHandler(a.Orchestration, a.Store, a.History, a.log.WithField("component", "httpapi")).Register(mux)

	identity := middleware.NewIdentity(a.cfg.Auth.JWTSecret, a.log.WithField("component", "identity"))
	limiter := middleware.NewRateLimiter(a.cfg.RateLimit.RequestsPerSecond, a.cfg.RateLimit.Burst)

	api := identity.Wrap(limiter.Wrap(mux))

	// Probes and scrapers stay outside the identity layer.
	root := http.NewServeMux()
	root.Handle("/metrics", metrics.Handler())
	root.HandleFunc("GET /healthz", httpapi.Healthz)
	root.Handle("/", api)
	return metrics.InstrumentHandler(root)
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
