package calsync

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/klokku/calsync/internal/rest"
	"github.com/klokku/calsync/internal/utils"
	"github.com/klokku/calsync/pkg/conflict"
	"github.com/klokku/calsync/pkg/remote"
	"github.com/klokku/calsync/pkg/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHandler(t *testing.T) (*mux.Router, serviceFixture) {
	f := setupService(t)
	cache := NewMemoryResultCache(&utils.MockClock{FixedNow: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	handler := NewHandler(NewIdempotentService(f.service, cache, time.Hour))
	router := mux.NewRouter()
	router.HandleFunc("/api/calendar/sync", handler.Sync).Methods("POST")
	router.HandleFunc("/api/calendar/sync/conflicts/resolve", handler.ResolveConflicts).Methods("POST")
	router.HandleFunc("/api/calendar/sync/conflicts", handler.DetectConflicts).Methods("GET")
	return router, f
}

func doPost(router *mux.Router, path string, body any, header http.Header) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	for k, v := range header {
		req.Header[k] = v
	}
	req = req.WithContext(user.WithUser(req.Context(), user.User{Id: ownerId, Uid: "owner"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func doGet(router *mux.Router, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req = req.WithContext(user.WithUser(req.Context(), user.User{Id: ownerId, Uid: "owner"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandler_Sync(t *testing.T) {
	t.Run("should sync and return the result", func(t *testing.T) {
		// given
		router, f := setupHandler(t)
		f.addWeeklyClasses()

		// when
		rr := doPost(router, "/api/calendar/sync", keyedRequest("http-1"), nil)

		// then
		require.Equal(t, http.StatusOK, rr.Code)
		var result SyncResult
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
		assert.Equal(t, Summary{Created: 4}, result.Summary)
		assert.Equal(t, 1, result.QuotaUsed)
	})

	t.Run("should take the idempotency key from the header", func(t *testing.T) {
		// given
		router, f := setupHandler(t)
		f.addEvent("e1", "2024-01-08", "09:00", "10:30")
		body := keyedRequest("")
		header := http.Header{"Idempotency-Key": []string{"header-key"}}

		// when
		first := doPost(router, "/api/calendar/sync", body, header)
		second := doPost(router, "/api/calendar/sync", body, header)

		// then
		require.Equal(t, http.StatusOK, first.Code)
		assert.JSONEq(t, first.Body.String(), second.Body.String())
		assert.Equal(t, 1, f.client.WriteCalls())
	})

	t.Run("should answer 400 for an invalid range", func(t *testing.T) {
		// given
		router, _ := setupHandler(t)
		body := keyedRequest("http-2")
		body.Range.From = "yesterday"

		// when
		rr := doPost(router, "/api/calendar/sync", body, nil)

		// then
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		var errResponse rest.ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errResponse))
		assert.Contains(t, errResponse.Details, "range.from")
	})

	t.Run("should answer 422 for a reused key", func(t *testing.T) {
		// given
		router, _ := setupHandler(t)
		first := keyedRequest("http-3")
		second := keyedRequest("http-3")
		second.EventIds = []string{"e1"}
		require.Equal(t, http.StatusOK, doPost(router, "/api/calendar/sync", first, nil).Code)

		// when
		rr := doPost(router, "/api/calendar/sync", second, nil)

		// then
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})

	t.Run("should answer 403 without a user", func(t *testing.T) {
		// given
		router, _ := setupHandler(t)
		req := httptest.NewRequest(http.MethodPost, "/api/calendar/sync", bytes.NewReader([]byte(`{}`)))
		rr := httptest.NewRecorder()

		// when
		router.ServeHTTP(rr, req)

		// then
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestHandler_ResolveConflicts(t *testing.T) {
	t.Run("should resolve the posted conflicts", func(t *testing.T) {
		// given
		router, f := setupHandler(t)
		f.addEvent("e1", "2024-01-08", "09:00", "10:30")
		first, err := f.service.SyncToRemote(f.ctx, ownerId, januaryRequest())
		require.NoError(t, err)
		f.client.Touch(first.Details[0].RemoteEventId, func(p *remote.Payload) { p.Description = "edited" })
		second, err := f.service.SyncToRemote(f.ctx, ownerId, januaryRequest())
		require.NoError(t, err)

		// when
		rr := doPost(router, "/api/calendar/sync/conflicts/resolve", ResolveRequest{
			Conflicts:   second.Conflicts,
			Resolutions: []conflict.Resolution{conflict.Merge},
		}, nil)

		// then
		require.Equal(t, http.StatusOK, rr.Code)
		var result SyncResult
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
		assert.Equal(t, Summary{Updated: 1}, result.Summary)
		assert.Equal(t, conflict.Merge, result.Details[0].Resolution)
	})

	t.Run("should answer 400 for an unknown resolution", func(t *testing.T) {
		// given
		router, _ := setupHandler(t)

		// when
		rr := doPost(router, "/api/calendar/sync/conflicts/resolve", ResolveRequest{
			Conflicts:   []conflict.Conflict{{LocalEventId: "e1", RemoteEventId: "r1", Type: conflict.TypeEtagMismatch}},
			Resolutions: []conflict.Resolution{"ignore"},
		}, nil)

		// then
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestHandler_DetectConflicts(t *testing.T) {
	t.Run("should report conflicts of the range", func(t *testing.T) {
		// given
		router, f := setupHandler(t)
		f.addEvent("e1", "2024-01-08", "09:00", "10:30")
		first, err := f.service.SyncToRemote(f.ctx, ownerId, januaryRequest())
		require.NoError(t, err)
		f.client.Touch(first.Details[0].RemoteEventId, nil)

		// when
		rr := doGet(router, "/api/calendar/sync/conflicts?from=2024-01-01&to=2024-01-31")

		// then
		require.Equal(t, http.StatusOK, rr.Code)
		var result SyncResult
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
		require.Len(t, result.Conflicts, 1)
		assert.Equal(t, conflict.TypeEtagMismatch, result.Conflicts[0].Type)
	})

	t.Run("should answer 400 without a range", func(t *testing.T) {
		// given
		router, _ := setupHandler(t)

		// when
		rr := doGet(router, "/api/calendar/sync/conflicts")

		// then
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}
