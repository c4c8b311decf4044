package orchestration

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/arrowhead-lite/orchestrator/internal/app/domain/orchestration"
	"github.com/arrowhead-lite/orchestrator/internal/app/domain/storeentry"
	"github.com/arrowhead-lite/orchestrator/internal/app/registry"
	"github.com/arrowhead-lite/orchestrator/internal/app/storage"
	"github.com/arrowhead-lite/orchestrator/internal/errors"
	"github.com/arrowhead-lite/orchestrator/pkg/logger"
)

// Resolver turns a validated form into an ordered provider list. Pinned
// priority store entries come first in ascending priority order, registry
// matches follow in registry order. A provider never appears twice.
type Resolver struct {
	entries storage.StoreEntryStore
	lookup  registry.Lookup
	log     *logger.Logger
}

// NewResolver constructs a resolver over the priority store and registry.
func NewResolver(entries storage.StoreEntryStore, lookup registry.Lookup, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.NewDefault("resolver")
	}
	return &Resolver{entries: entries, lookup: lookup, log: log}
}

// Resolve produces the candidate list for the form. It returns a
// ResolutionFailed error when nothing matches.
func (r *Resolver) Resolve(ctx context.Context, form orchestration.Form) (orchestration.Result, error) {
	pinned, err := r.entries.ListEntries(ctx, storeentry.Filter{
		Consumers:          []string{form.RequesterSystem},
		ServiceDefinitions: []string{form.ServiceDefinition},
	})
	if err != nil {
		return orchestration.Result{}, errors.Internal(err)
	}
	sort.SliceStable(pinned, func(i, j int) bool { return pinned[i].Priority < pinned[j].Priority })

	providers, err := r.lookup.FindProviders(ctx, form.ServiceDefinition, registry.LookupFilter{
		PreferredProviders: form.PreferredProviders,
	})
	if err != nil {
		return orchestration.Result{}, errors.Internal(fmt.Errorf("registry lookup: %w", err))
	}

	live := make(map[string]registry.ProviderDescriptor, len(providers))
	for _, p := range providers {
		live[strings.ToLower(p.ServiceInstanceID)] = p
	}

	onlyPreferred := form.Flag(orchestration.FlagOnlyPreferred)
	preferred := make(map[string]struct{}, len(form.PreferredProviders))
	for _, id := range form.PreferredProviders {
		preferred[strings.ToLower(id)] = struct{}{}
	}

	seen := make(map[string]struct{})
	candidates := make([]orchestration.Candidate, 0, len(pinned)+len(providers))

	// Pinned entries only qualify while the registry still knows the
	// instance; stale pins are skipped, not errors.
	for _, entry := range pinned {
		key := strings.ToLower(entry.ServiceInstanceID)
		descriptor, alive := live[key]
		if !alive {
			r.log.WithField("serviceInstanceId", entry.ServiceInstanceID).
				Debug("pinned provider not known to the registry, skipping")
			continue
		}
		if onlyPreferred {
			if _, ok := preferred[key]; !ok {
				continue
			}
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		candidates = append(candidates, orchestration.Candidate{
			SystemName:        descriptor.SystemName,
			ServiceInstanceID: descriptor.ServiceInstanceID,
			ServiceDefinition: form.ServiceDefinition,
			Addresses:         descriptor.Addresses,
			Metadata:          descriptor.Metadata,
			Pinned:            true,
			Priority:          entry.Priority,
		})
	}

	// ONLY_PREFERRED resolves from the pinned bindings alone; registry
	// matches never qualify. No surviving pin is a terminal no-match.
	if onlyPreferred {
		if len(candidates) == 0 {
			return orchestration.Result{}, errors.ResolutionFailed("no preferred provider available")
		}
		return orchestration.Result{Candidates: candidates}, nil
	}

	for _, descriptor := range providers {
		key := strings.ToLower(descriptor.ServiceInstanceID)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		candidates = append(candidates, orchestration.Candidate{
			SystemName:        descriptor.SystemName,
			ServiceInstanceID: descriptor.ServiceInstanceID,
			ServiceDefinition: form.ServiceDefinition,
			Addresses:         descriptor.Addresses,
			Metadata:          descriptor.Metadata,
		})
	}

	if len(candidates) == 0 {
		return orchestration.Result{}, errors.ResolutionFailed(
			fmt.Sprintf("no matching provider found for service definition %s", form.ServiceDefinition))
	}
	return orchestration.Result{Candidates: candidates}, nil
}
