package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Shivanand-hulikatti/hookdock/internal/model"
	"github.com/Shivanand-hulikatti/hookdock/internal/repository"
	"github.com/Shivanand-hulikatti/hookdock/internal/service"
)

// EventHandler holds the HTTP handlers for captured events.
type EventHandler struct {
	events   *service.EventService
	replayer *service.Replayer
	log      zerolog.Logger
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(events *service.EventService, replayer *service.Replayer, log zerolog.Logger) *EventHandler {
	return &EventHandler{events: events, replayer: replayer, log: log}
}

// GetEvent handles GET /api/events/{eventID}
// Returns the full captured request.
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}

	event, err := h.events.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		h.log.Error().Err(err).Int64("event_id", id).Msg("get event")
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// Replay handles POST /api/events/{eventID}/replay
// Re-sends the event to target_url. A 4xx/5xx from the target is still a
// 200 here; only a missing response is reported as 502.
func (h *EventHandler) Replay(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}

	var req model.ReplayRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.replayer.Replay(r.Context(), id, req.TargetURL)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "event not found")
		case errors.Is(err, service.ErrInvalidTarget):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrTransport):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			h.log.Error().Err(err).Int64("event_id", id).Msg("replay")
			writeError(w, http.StatusInternalServerError, "failed to replay event")
		}
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func eventID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "eventID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "event id must be a positive integer")
		return 0, false
	}
	return id, true
}
