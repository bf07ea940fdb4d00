package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Shivanand-hulikatti/hookdock/internal/metrics"
	"github.com/Shivanand-hulikatti/hookdock/internal/model"
	"github.com/Shivanand-hulikatti/hookdock/internal/repository"
	"github.com/Shivanand-hulikatti/hookdock/internal/service"
)

// ingestPrefix routes a request to a bin: /i/{binID} or /i/{binID}/...
const ingestPrefix = "/i/"

// IngestHandler captures every request sent to a bin.
type IngestHandler struct {
	ingester     *service.Ingester
	maxBodyBytes int64
	metrics      *metrics.Metrics
	log          zerolog.Logger
}

// NewIngestHandler constructs an IngestHandler.
func NewIngestHandler(ingester *service.Ingester, maxBodyBytes int64, m *metrics.Metrics, log zerolog.Logger) *IngestHandler {
	return &IngestHandler{ingester: ingester, maxBodyBytes: maxBodyBytes, metrics: m, log: log}
}

// Ingest handles any method on /i/{binID} and /i/{binID}/*
// Stores the request as a new event and acknowledges with its id. The
// request is never forwarded anywhere.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	binID := ingestBinID(r.URL.Path)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.metrics.IngestRejected.WithLabelValues("body_too_large").Inc()
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.metrics.IngestRejected.WithLabelValues("read_error").Inc()
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	event, err := h.ingester.Ingest(r.Context(), binID, service.InboundRequest{
		Method:     r.Method,
		Path:       r.URL.EscapedPath(),
		RemoteAddr: r.RemoteAddr,
		Header:     receivedHeader(r),
		Query:      r.URL.Query(),
		Body:       body,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "bin not found")
			return
		}
		h.log.Error().Err(err).Str("bin_id", binID).Msg("ingest")
		writeError(w, http.StatusInternalServerError, "failed to store request")
		return
	}

	writeJSON(w, http.StatusOK, model.IngestResponse{Status: "ok", EventID: event.ID})
}

// receivedHeader rebuilds the header set as sent by the client: net/http
// moves Host and Transfer-Encoding out of r.Header.
func receivedHeader(r *http.Request) http.Header {
	h := r.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	if r.Host != "" {
		h.Set("Host", r.Host)
	}
	if len(r.TransferEncoding) > 0 {
		h.Set("Transfer-Encoding", strings.Join(r.TransferEncoding, ", "))
	}
	return h
}

func ingestBinID(path string) string {
	id, _, _ := strings.Cut(strings.TrimPrefix(path, ingestPrefix), "/")
	return id
}
