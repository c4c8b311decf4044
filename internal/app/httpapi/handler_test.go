package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowhead-lite/orchestrator/internal/app/registry"
	historysvc "github.com/arrowhead-lite/orchestrator/internal/app/services/history"
	orchsvc "github.com/arrowhead-lite/orchestrator/internal/app/services/orchestration"
	"github.com/arrowhead-lite/orchestrator/internal/app/services/policy"
	storesvc "github.com/arrowhead-lite/orchestrator/internal/app/services/store"
	"github.com/arrowhead-lite/orchestrator/internal/app/storage/memory"
	"github.com/arrowhead-lite/orchestrator/internal/middleware"
)

func newTestAPI(t *testing.T, providers ...registry.ProviderDescriptor) http.Handler {
	t.Helper()

	backing := memory.New()
	lookup := registry.LookupFunc(func(context.Context, string, registry.LookupFilter) ([]registry.ProviderDescriptor, error) {
		return providers, nil
	})
	notifier := orchsvc.NotifierFunc(nil)

	validator := policy.New(policy.Toggles{})
	resolver := orchsvc.NewResolver(backing, lookup, nil)
	orch := orchsvc.NewService(validator, resolver, backing, backing, notifier, orchsvc.Config{PushWorkers: 1, PushQueueSize: 4}, nil)
	store := storesvc.NewService(backing, nil)
	history := historysvc.NewService(backing, nil)

	mux := http.NewServeMux()
	NewHandler(orch, store, history, nil).Register(mux)
	return middleware.NewIdentity("", nil).Wrap(mux)
}

func doJSON(t *testing.T, handler http.Handler, method, target, requester string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if requester != "" {
		req.Header.Set(middleware.RequesterHeader, requester)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestPullEndpoint(t *testing.T) {
	api := newTestAPI(t, registry.ProviderDescriptor{
		SystemName:        "provider-a",
		ServiceInstanceID: "provider-a|temperature",
		Addresses:         []string{"http://provider-a.local:8080"},
	})

	rec := doJSON(t, api, http.MethodPost, "/orchestration/pull", "consumer-1", map[string]any{
		"serviceDefinition": "temperature",
		"operations":        []string{"read"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	candidates := body["candidates"].([]any)
	require.Len(t, candidates, 1)
	assert.Equal(t, "provider-a", candidates[0].(map[string]any)["systemName"])
}

func TestPullNoMatchIsEmptyOK(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/orchestration/pull", "consumer-1", map[string]any{
		"serviceDefinition": "temperature",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Empty(t, body["candidates"])
	assert.Contains(t, body["message"], "no matching provider")
}

func TestPullPolicyViolationIs400(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/orchestration/pull", "consumer-1", map[string]any{
		"serviceDefinition": "temperature",
		"flags":             []string{"ONLY_PREFERRED"},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "no preferred provider is defined")
}

func TestPullRequiresIdentity(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/orchestration/pull", "", map[string]any{
		"serviceDefinition": "temperature",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubscribeStatusCodes(t *testing.T) {
	api := newTestAPI(t)
	payload := map[string]any{
		"serviceDefinition": "temperature",
		"notifyUrl":         "http://consumer-1.local/notify",
	}

	first := doJSON(t, api, http.MethodPost, "/orchestration/push-subscribe", "consumer-1", payload)
	require.Equal(t, http.StatusCreated, first.Code)
	firstID := decodeBody(t, first)["subscriptionId"].(string)
	require.NotEmpty(t, firstID)

	second := doJSON(t, api, http.MethodPost, "/orchestration/push-subscribe", "consumer-1", payload)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, firstID, decodeBody(t, second)["subscriptionId"])
}

func TestUnsubscribeStatusCodes(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/orchestration/push-subscribe", "consumer-1", map[string]any{
		"serviceDefinition": "temperature",
		"notifyUrl":         "http://consumer-1.local/notify",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBody(t, rec)["subscriptionId"].(string)

	removed := doJSON(t, api, http.MethodDelete, "/orchestration/push-unsubscribe/"+id, "consumer-1", nil)
	assert.Equal(t, http.StatusOK, removed.Code)

	again := doJSON(t, api, http.MethodDelete, "/orchestration/push-unsubscribe/"+id, "consumer-1", nil)
	assert.Equal(t, http.StatusNoContent, again.Code)
}

func TestStoreManagementRoundTrip(t *testing.T) {
	api := newTestAPI(t)

	created := doJSON(t, api, http.MethodPost, "/orchestration/mgmt/store", "sysop", map[string]any{
		"entries": []map[string]any{
			{"consumer": "consumer-1", "serviceDefinition": "temperature", "serviceInstanceId": "provider-a|temperature", "priority": 1},
			{"consumer": "consumer-1", "serviceDefinition": "temperature", "serviceInstanceId": "provider-a|temperature", "priority": 2},
		},
	})
	require.Equal(t, http.StatusCreated, created.Code)
	entries := decodeBody(t, created)["entries"].([]any)
	require.Len(t, entries, 2)
	firstID := entries[0].(map[string]any)["id"].(string)

	dup := doJSON(t, api, http.MethodPost, "/orchestration/mgmt/store", "sysop", map[string]any{
		"entries": []map[string]any{
			{"consumer": "consumer-1", "serviceDefinition": "temperature", "serviceInstanceId": "provider-a|temperature", "priority": 1},
		},
	})
	require.Equal(t, http.StatusConflict, dup.Code)

	queried := doJSON(t, api, http.MethodPost, "/orchestration/mgmt/store/query", "sysop", map[string]any{
		"consumers": []string{"consumer-1"},
	})
	require.Equal(t, http.StatusOK, queried.Code)
	assert.EqualValues(t, 2, decodeBody(t, queried)["total"])

	patched := doJSON(t, api, http.MethodPatch, "/orchestration/mgmt/store/priorities", "operator", map[string]any{
		"changes": []map[string]any{{"id": firstID, "priority": 9}},
	})
	require.Equal(t, http.StatusOK, patched.Code)

	conflict := doJSON(t, api, http.MethodPatch, "/orchestration/mgmt/store/priorities", "operator", map[string]any{
		"changes": []map[string]any{{"id": firstID, "priority": 2}},
	})
	require.Equal(t, http.StatusConflict, conflict.Code)

	deleted := doJSON(t, api, http.MethodDelete, "/orchestration/mgmt/store", "sysop", map[string]any{
		"ids": []string{firstID},
	})
	require.Equal(t, http.StatusOK, deleted.Code)

	queried = doJSON(t, api, http.MethodPost, "/orchestration/mgmt/store/query", "sysop", map[string]any{
		"consumers": []string{"consumer-1"},
	})
	require.Equal(t, http.StatusOK, queried.Code)
	assert.EqualValues(t, 1, decodeBody(t, queried)["total"])
}

func TestHistoryQueryEndpoint(t *testing.T) {
	api := newTestAPI(t, registry.ProviderDescriptor{
		SystemName:        "provider-a",
		ServiceInstanceID: "provider-a|temperature",
	})

	rec := doJSON(t, api, http.MethodPost, "/orchestration/pull", "consumer-1", map[string]any{
		"serviceDefinition": "temperature",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	history := doJSON(t, api, http.MethodPost, "/orchestration/mgmt/history/query", "sysop", map[string]any{
		"statuses": []string{"DONE"},
	})
	require.Equal(t, http.StatusOK, history.Code)
	body := decodeBody(t, history)
	assert.EqualValues(t, 1, body["total"])
	jobs := body["jobs"].([]any)
	require.Len(t, jobs, 1)
	assert.Equal(t, "PULL", jobs[0].(map[string]any)["type"])
}

func TestTriggerAllEndpoint(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/orchestration/mgmt/trigger-all", "sysop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decodeBody(t, rec)["queued"])
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/healthz", "probe", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}
