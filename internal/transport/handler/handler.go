package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/trunov/thumbhub/internal/config"
	"github.com/trunov/thumbhub/internal/entities"
	"github.com/trunov/thumbhub/internal/events"
)

type UseCase interface {
	Ingest(ctx context.Context, n events.Notification) (IngestResult, error)
	Status(ctx context.Context, bucket, key string) (entities.RunRecord, error)
}

type Handler struct {
	useCase   UseCase
	cfg       *config.Config
	validator *validator.Validate
	logger    *slog.Logger
}

func New(useCase UseCase, cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		useCase:   useCase,
		cfg:       cfg,
		validator: validator.New(),
		logger:    logger.With("component", "http"),
	}
}

// Events accepts an S3 / MinIO bucket notification.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if !authorized(r, h.cfg.Server.AuthToken) {
		writeJSONError(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Server.MaxRequestBodyKB<<10)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, "notification exceeds maximum allowed size", http.StatusRequestEntityTooLarge)
			return
		}
		writeJSONError(w, "failed to read request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	n, err := events.Parse(body)
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, APIError{Error: "invalid notification", Fields: validationErrorsToMap(err)}, http.StatusBadRequest)
			return
		}
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.useCase.Ingest(r.Context(), n)
	if err != nil {
		h.logger.Error("ingest failed", "err", err)
		writeJSONError(w, "failed to accept notification", http.StatusInternalServerError)
		return
	}

	code := http.StatusOK
	if res.JobID != "" {
		code = http.StatusAccepted
	}
	writeJSON(w, res, code)
}

// Status returns the latest run for a source object.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	params := StatusParams{
		Bucket: r.URL.Query().Get("bucket"),
		Key:    r.URL.Query().Get("key"),
	}
	if err := h.validator.Struct(params); err != nil {
		writeJSON(w, APIError{Error: "invalid query", Fields: validationErrorsToMap(err)}, http.StatusBadRequest)
		return
	}

	rec, err := h.useCase.Status(r.Context(), params.Bucket, params.Key)
	if errors.Is(err, entities.ErrRunNotFound) {
		writeJSONError(w, "no run recorded for "+params.Bucket+"/"+params.Key, http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("status lookup failed", "bucket", params.Bucket, "key", params.Key, "err", err)
		writeJSONError(w, "status lookup failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, rec, http.StatusOK)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}
