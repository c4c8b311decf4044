package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowhead-lite/orchestrator/internal/app/domain/storeentry"
	"github.com/arrowhead-lite/orchestrator/internal/app/storage"
	"github.com/arrowhead-lite/orchestrator/internal/app/storage/memory"
	"github.com/arrowhead-lite/orchestrator/internal/errors"
)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	backing := memory.New()
	return NewService(backing, nil), backing
}

func candidate(consumer, instance string, priority int) CreateCandidate {
	return CreateCandidate{
		Consumer:          consumer,
		ServiceDefinition: "temperature",
		ServiceInstanceID: instance,
		Priority:          priority,
	}
}

func TestCreateBulkAssignsIdentityAndAudit(t *testing.T) {
	svc, _ := newService(t)

	created, err := svc.CreateBulk(context.Background(), "sysop", []CreateCandidate{
		candidate("consumer-1", "provider-1|temperature", 1),
		candidate("consumer-1", "provider-2|temperature", 2),
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	for _, entry := range created {
		assert.NotEmpty(t, entry.ID)
		assert.Equal(t, "sysop", entry.CreatedBy)
		assert.Equal(t, "sysop", entry.UpdatedBy)
		assert.False(t, entry.CreatedAt.IsZero())
	}
}

func TestCreateBulkRejectsWholeBatchOnPersistedConflict(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateBulk(ctx, "sysop", []CreateCandidate{
		candidate("consumer-1", "provider-1|temperature", 1),
	})
	require.NoError(t, err)

	_, err = svc.CreateBulk(ctx, "sysop", []CreateCandidate{
		candidate("consumer-2", "provider-1|temperature", 1),
		candidate("consumer-1", "provider-1|temperature", 1),
	})
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
	assert.Contains(t, err.Error(), "there is already an existing entity")

	// The conflicting batch must not have created its valid member.
	entries, total, err := svc.GetPage(ctx, storeentry.Filter{}, storage.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, "consumer-1", entries[0].Consumer)
}

func TestCreateBulkRejectsInBatchDuplicate(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.CreateBulk(context.Background(), "sysop", []CreateCandidate{
		candidate("consumer-1", "provider-1|temperature", 1),
		candidate("consumer-1", "provider-1|temperature", 1),
	})
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
	assert.Contains(t, err.Error(), "duplicated fields in the request")
}

func TestGetPageFiltersAndPages(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateBulk(ctx, "sysop", []CreateCandidate{
		candidate("consumer-1", "provider-1|temperature", 1),
		candidate("consumer-1", "provider-2|temperature", 2),
		candidate("consumer-2", "provider-1|temperature", 1),
	})
	require.NoError(t, err)

	entries, total, err := svc.GetPage(ctx, storeentry.Filter{Consumers: []string{"consumer-1"}}, storage.PageRequest{Size: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, entries, 1)
	assert.Equal(t, "provider-1|temperature", entries[0].ServiceInstanceID)

	entries, total, err = svc.GetPage(ctx, storeentry.Filter{Consumers: []string{"consumer-1"}}, storage.PageRequest{Page: 1, Size: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, entries, 1)
	assert.Equal(t, "provider-2|temperature", entries[0].ServiceInstanceID)
}

func TestGetPageCombinesBaseAndSecondaryFilters(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateBulk(ctx, "sysop", []CreateCandidate{
		candidate("consumer-1", "provider-1|temperature", 1),
		candidate("consumer-1", "provider-2|temperature", 5),
	})
	require.NoError(t, err)

	max := 3
	entries, total, err := svc.GetPage(ctx, storeentry.Filter{
		Consumers:   []string{"consumer-1"},
		MaxPriority: &max,
	}, storage.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Priority)
}

func TestGetPageNoMatches(t *testing.T) {
	svc, _ := newService(t)

	entries, total, err := svc.GetPage(context.Background(), storeentry.Filter{Consumers: []string{"nobody"}}, storage.PageRequest{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, entries)
}

func TestSetPrioritiesReassigns(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.CreateBulk(ctx, "sysop", []CreateCandidate{
		candidate("consumer-1", "provider-1|temperature", 1),
	})
	require.NoError(t, err)

	updated, err := svc.SetPriorities(ctx, "operator", []PriorityChange{
		{EntryID: created[0].ID, Priority: 7},
	})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, 7, updated[0].Priority)
	assert.Equal(t, "operator", updated[0].UpdatedBy)
	assert.Equal(t, "sysop", updated[0].CreatedBy)
}

func TestSetPrioritiesSameEntitySamePriorityIsNoOp(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.CreateBulk(ctx, "sysop", []CreateCandidate{
		candidate("consumer-1", "provider-1|temperature", 1),
	})
	require.NoError(t, err)

	updated, err := svc.SetPriorities(ctx, "operator", []PriorityChange{
		{EntryID: created[0].ID, Priority: 1},
	})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, 1, updated[0].Priority)
	assert.Equal(t, "sysop", updated[0].UpdatedBy)
}

func TestSetPrioritiesPersistedConflict(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.CreateBulk(ctx, "sysop", []CreateCandidate{
		candidate("consumer-1", "provider-1|temperature", 1),
		candidate("consumer-1", "provider-1|temperature", 2),
	})
	require.NoError(t, err)

	_, err = svc.SetPriorities(ctx, "operator", []PriorityChange{
		{EntryID: created[0].ID, Priority: 2},
	})
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
	assert.Contains(t, err.Error(), "there is already an existing entity")
}

func TestSetPrioritiesInBatchConflict(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.CreateBulk(ctx, "sysop", []CreateCandidate{
		candidate("consumer-1", "provider-1|temperature", 1),
		candidate("consumer-1", "provider-1|temperature", 2),
	})
	require.NoError(t, err)

	_, err = svc.SetPriorities(ctx, "operator", []PriorityChange{
		{EntryID: created[0].ID, Priority: 9},
		{EntryID: created[1].ID, Priority: 9},
	})
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
	assert.Contains(t, err.Error(), "duplicated fields in the request")
}

// Reassigning two entries onto each other's priorities must fail: the
// target triple is held by a different entity, batch membership does not
// waive the conflict.
func TestSetPrioritiesRejectsSwap(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.CreateBulk(ctx, "sysop", []CreateCandidate{
		candidate("consumer-1", "provider-1|temperature", 1),
		candidate("consumer-1", "provider-1|temperature", 2),
	})
	require.NoError(t, err)

	_, err = svc.SetPriorities(ctx, "operator", []PriorityChange{
		{EntryID: created[0].ID, Priority: 2},
		{EntryID: created[1].ID, Priority: 1},
	})
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
	assert.Contains(t, err.Error(), "there is already an existing entity")

	// Nothing moved.
	entries, _, err := svc.GetPage(ctx, storeentry.Filter{}, storage.PageRequest{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Priority)
	assert.Equal(t, 2, entries[1].Priority)
}

func TestSetPrioritiesSkipsUnknownIDs(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.CreateBulk(ctx, "sysop", []CreateCandidate{
		candidate("consumer-1", "provider-1|temperature", 1),
	})
	require.NoError(t, err)

	updated, err := svc.SetPriorities(ctx, "operator", []PriorityChange{
		{EntryID: "missing", Priority: 5},
		{EntryID: created[0].ID, Priority: 7},
	})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, 7, updated[0].Priority)
}

// Triple uniqueness and filter matching are both case-sensitive.
func TestNamesCompareCaseSensitively(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateBulk(ctx, "sysop", []CreateCandidate{
		candidate("consumer-1", "provider-1|temperature", 1),
		candidate("Consumer-1", "provider-1|temperature", 1),
	})
	require.NoError(t, err)

	entries, total, err := svc.GetPage(ctx, storeentry.Filter{Consumers: []string{"consumer-1"}}, storage.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, "consumer-1", entries[0].Consumer)
}

func TestDeleteBulkIsIdempotent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.CreateBulk(ctx, "sysop", []CreateCandidate{
		candidate("consumer-1", "provider-1|temperature", 1),
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteBulk(ctx, []string{created[0].ID}))
	require.NoError(t, svc.DeleteBulk(ctx, []string{created[0].ID, "never-existed"}))

	_, total, err := svc.GetPage(ctx, storeentry.Filter{}, storage.PageRequest{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

// Deleting an entry must free its triple for re-creation.
func TestDeleteThenRecreateTriple(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.CreateBulk(ctx, "sysop", []CreateCandidate{
		candidate("consumer-1", "provider-1|temperature", 1),
	})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteBulk(ctx, []string{created[0].ID}))

	_, err = svc.CreateBulk(ctx, "sysop", []CreateCandidate{
		candidate("consumer-1", "provider-1|temperature", 1),
	})
	require.NoError(t, err)
}
