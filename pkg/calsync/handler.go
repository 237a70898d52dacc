package calsync

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/klokku/calsync/internal/rest"
	"github.com/klokku/calsync/pkg/conflict"
	"github.com/klokku/calsync/pkg/schedule"
	"github.com/klokku/calsync/pkg/user"
	log "github.com/sirupsen/logrus"
)

const idempotencyKeyHeader = "Idempotency-Key"

type ResolveRequest struct {
	Conflicts   []conflict.Conflict   `json:"conflicts"`
	Resolutions []conflict.Resolution `json:"resolutions"`
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Sync godoc
// @Summary Sync schedule events to the remote calendar
// @Description Creates or updates remote events for planned and synced events in the date range
// @Tags Calendar sync
// @Accept json
// @Produce json
// @Param request body SyncRequest true "Sync request"
// @Param Idempotency-Key header string false "Used when the body carries no idempotencyKey"
// @Success 200 {object} SyncResult
// @Failure 400 {object} rest.ErrorResponse "Invalid request"
// @Failure 422 {object} rest.ErrorResponse "Idempotency key reused"
// @Router /api/calendar/sync [post]
// @Security XUserId
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	ownerId, err := user.CurrentId(r.Context())
	if err != nil {
		http.Error(w, "User not found", http.StatusForbidden)
		return
	}

	var request SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body format", err.Error())
		return
	}
	if request.IdempotencyKey == "" {
		request.IdempotencyKey = r.Header.Get(idempotencyKeyHeader)
	}

	result, err := h.service.SyncToRemote(r.Context(), ownerId, request)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, result)
}

// ResolveConflicts godoc
// @Summary Resolve sync conflicts
// @Description Applies one resolution per conflict, paired by position. Empty resolutions use the suggestion.
// @Tags Calendar sync
// @Accept json
// @Produce json
// @Param request body ResolveRequest true "Conflicts and resolutions"
// @Success 200 {object} SyncResult
// @Failure 400 {object} rest.ErrorResponse "Invalid request"
// @Router /api/calendar/sync/conflicts/resolve [post]
// @Security XUserId
func (h *Handler) ResolveConflicts(w http.ResponseWriter, r *http.Request) {
	ownerId, err := user.CurrentId(r.Context())
	if err != nil {
		http.Error(w, "User not found", http.StatusForbidden)
		return
	}

	var request ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body format", err.Error())
		return
	}

	result, err := h.service.ResolveConflicts(r.Context(), ownerId, request.Conflicts, request.Resolutions)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, result)
}

// DetectConflicts godoc
// @Summary Check synced events against the remote calendar
// @Description Fetches the remote event of every synced event in the range and reports conflicts. Nothing is written.
// @Tags Calendar sync
// @Produce json
// @Param from query string true "First date, YYYY-MM-DD"
// @Param to query string true "Last date, YYYY-MM-DD"
// @Success 200 {object} SyncResult
// @Failure 400 {object} rest.ErrorResponse "Invalid range"
// @Router /api/calendar/sync/conflicts [get]
// @Security XUserId
func (h *Handler) DetectConflicts(w http.ResponseWriter, r *http.Request) {
	ownerId, err := user.CurrentId(r.Context())
	if err != nil {
		http.Error(w, "User not found", http.StatusForbidden)
		return
	}

	query := r.URL.Query()
	dateRange := DateRange{From: query.Get("from"), To: query.Get("to")}
	result, err := h.service.DetectConflicts(r.Context(), ownerId, dateRange)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		rest.WriteError(w, http.StatusBadRequest, "Invalid sync request", err.Error())
	case errors.Is(err, ErrIdempotencyKeyReused):
		rest.WriteError(w, http.StatusUnprocessableEntity, "Idempotency key reused", err.Error())
	case errors.Is(err, schedule.ErrStore):
		log.Errorf("sync failed on local store: %v", err)
		rest.WriteError(w, http.StatusInternalServerError, "Local schedule store failure", "")
	default:
		log.Errorf("sync failed: %v", err)
		rest.WriteError(w, http.StatusInternalServerError, "Sync failed", err.Error())
	}
}
