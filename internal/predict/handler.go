package predict

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/logger"
)

// Predictor is what the HTTP handler serves.
type Predictor interface {
	Predict(ctx context.Context, text string, limit int) (*Prediction, error)
	Complete(partial string, limit int) ([]string, error)
	Reload(ctx context.Context) error
}

type Handler struct {
	predictor    Predictor
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

func NewHandler(p Predictor, defaultLimit, maxResults int) *Handler {
	return &Handler{
		predictor:    p,
		defaultLimit: defaultLimit,
		maxResults:   maxResults,
		logger:       slog.Default().With("component", "predict-handler"),
	}
}

// Routes registers the API on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/predict", h.Predict)
	mux.HandleFunc("GET /api/v1/complete", h.Complete)
	mux.HandleFunc("POST /api/v1/reload", h.Reload)
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	pred, err := h.predictor.Predict(r.Context(), query, limit)
	if err != nil {
		h.fail(w, r, "prediction failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, pred)
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	prefixes, err := h.predictor.Complete(query, limit)
	if err != nil {
		h.fail(w, r, "completion failed", err)
		return
	}
	if prefixes == nil {
		prefixes = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"query":    query,
		"prefixes": prefixes,
	})
}

func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.predictor.Reload(r.Context()); err != nil {
		h.fail(w, r, "reload failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (h *Handler) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := h.defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return 0, false
		}
		if parsed > h.maxResults {
			parsed = h.maxResults
		}
		limit = parsed
	}
	return limit, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error(msg, "path", r.URL.Path, "error", err)
		h.writeError(w, status, msg)
		return
	}
	log.Debug(msg, "path", r.URL.Path, "error", err)
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
