package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Shivanand-hulikatti/hookdock/internal/archive"
	"github.com/Shivanand-hulikatti/hookdock/internal/model"
	"github.com/Shivanand-hulikatti/hookdock/internal/repository"
	"github.com/Shivanand-hulikatti/hookdock/internal/service"
)

// BinHandler holds the HTTP handlers for bin management.
type BinHandler struct {
	bins     *service.BinService
	events   *service.EventService
	archiver *archive.Archiver
	log      zerolog.Logger
}

// NewBinHandler constructs a BinHandler.
func NewBinHandler(bins *service.BinService, events *service.EventService, archiver *archive.Archiver, log zerolog.Logger) *BinHandler {
	return &BinHandler{bins: bins, events: events, archiver: archiver, log: log}
}

// CreateBin handles POST /api/bins
// An empty body creates an unnamed bin.
func (h *BinHandler) CreateBin(w http.ResponseWriter, r *http.Request) {
	var req model.CreateBinRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	bin, err := h.bins.Create(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("create bin")
		writeError(w, http.StatusInternalServerError, "failed to create bin")
		return
	}

	writeJSON(w, http.StatusCreated, model.CreateBinResponse{
		ID:        bin.ID,
		Name:      bin.Name,
		IngestURL: "/i/" + bin.ID,
		CreatedAt: bin.CreatedAt,
	})
}

// ListBins handles GET /api/bins
// Returns every bin with its event count, newest first.
func (h *BinHandler) ListBins(w http.ResponseWriter, r *http.Request) {
	bins, err := h.bins.List(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list bins")
		writeError(w, http.StatusInternalServerError, "failed to list bins")
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if bins == nil {
		bins = []model.BinSummary{}
	}

	writeJSON(w, http.StatusOK, bins)
}

// GetBin handles GET /api/bins/{binID}
func (h *BinHandler) GetBin(w http.ResponseWriter, r *http.Request) {
	bin, err := h.bins.Get(r.Context(), chi.URLParam(r, "binID"))
	if err != nil {
		h.binError(w, err, "failed to get bin")
		return
	}
	writeJSON(w, http.StatusOK, bin)
}

// DeleteBin handles DELETE /api/bins/{binID}
// Deleting a bin deletes all of its events.
func (h *BinHandler) DeleteBin(w http.ResponseWriter, r *http.Request) {
	if err := h.bins.Delete(r.Context(), chi.URLParam(r, "binID")); err != nil {
		h.binError(w, err, "failed to delete bin")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ListEvents handles GET /api/bins/{binID}/events?q=&limit=
// q filters by a case-insensitive substring of the body or headers.
func (h *BinHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter := model.EventFilter{Query: r.URL.Query().Get("q")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	events, err := h.events.ListForBin(r.Context(), chi.URLParam(r, "binID"), filter)
	if err != nil {
		h.binError(w, err, "failed to list events")
		return
	}

	out := make([]model.EventSummary, 0, len(events))
	for i := range events {
		out = append(out, events[i].Summary())
	}
	writeJSON(w, http.StatusOK, out)
}

// ExportBin handles GET /api/bins/{binID}/export
// Streams every event of the bin as gzip-compressed JSON Lines.
func (h *BinHandler) ExportBin(w http.ResponseWriter, r *http.Request) {
	bin, err := h.bins.Get(r.Context(), chi.URLParam(r, "binID"))
	if err != nil {
		h.binError(w, err, "failed to export bin")
		return
	}

	w.Header().Set("Content-Type", archive.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+bin.ID+`.jsonl.gz"`)
	w.WriteHeader(http.StatusOK)

	// Headers are already sent; a failure can only be logged.
	n, err := h.events.Export(r.Context(), bin.ID, w)
	if err != nil {
		h.log.Error().Err(err).Str("bin_id", bin.ID).Int("events", n).Msg("export interrupted")
	}
}

// ArchiveBin handles POST /api/bins/{binID}/archive
// Uploads the bin's export to the configured S3 bucket.
func (h *BinHandler) ArchiveBin(w http.ResponseWriter, r *http.Request) {
	bin, err := h.bins.Get(r.Context(), chi.URLParam(r, "binID"))
	if err != nil {
		h.binError(w, err, "failed to archive bin")
		return
	}

	res, err := h.archiver.Archive(r.Context(), bin.ID)
	if err != nil {
		if errors.Is(err, archive.ErrDisabled) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.log.Error().Err(err).Str("bin_id", bin.ID).Msg("archive bin")
		writeError(w, http.StatusBadGateway, "failed to archive bin")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *BinHandler) binError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "bin not found")
		return
	}
	h.log.Error().Err(err).Msg(msg)
	writeError(w, http.StatusInternalServerError, msg)
}
