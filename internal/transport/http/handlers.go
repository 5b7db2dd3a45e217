package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mssola/useragent"

	"consentry/internal/bus"
	"consentry/internal/domain"
	"consentry/internal/platform/middleware"
	"consentry/internal/policy"
	"consentry/internal/storage"
)

// replyTimeout bounds how long a consent listing waits for the dispatcher.
const replyTimeout = 5 * time.Second

// Handler is the thin HTTP layer over the bus and the stores.
type Handler struct {
	dispatcher *bus.Dispatcher
	detections storage.DetectionStore
	settings   storage.SettingsStore
	health     HealthChecker
	logger     *slog.Logger
}

func NewHandler(
	dispatcher *bus.Dispatcher,
	detections storage.DetectionStore,
	settings storage.SettingsStore,
	health HealthChecker,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		detections: detections,
		settings:   settings,
		health:     health,
		logger:     logger,
	}
}

// handleMessage accepts one bus envelope from an observer. Fire-and-forget
// kinds are acknowledged with 202 as soon as they are queued; the token
// listing kind answers inline.
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var env bus.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		h.logger.WarnContext(ctx, "rejecting malformed message",
			"error", err,
			"request_id", middleware.GetRequestID(ctx),
		)
		writeError(w, http.StatusBadRequest, "malformed message")
		return
	}

	// The observer's browser identity comes from transport metadata, not
	// from the payload it controls.
	if env.Detected != nil {
		env.Detected.Client = describeClient(r.UserAgent())
	}

	if env.Kind == bus.KindGetConsentTokens {
		h.replyWithConsents(w, r)
		return
	}

	if err := h.dispatcher.Submit(ctx, env); err != nil {
		h.logger.ErrorContext(ctx, "failed to queue message", "kind", env.Kind, "error", err)
		writeError(w, http.StatusServiceUnavailable, "coordinator busy")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleListConsents(w http.ResponseWriter, r *http.Request) {
	h.replyWithConsents(w, r)
}

// replyWithConsents routes the listing through the dispatcher so reads
// observe the same serialization as writes.
func (h *Handler) replyWithConsents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reply := make(chan []domain.ConsentRecord, 1)

	env := bus.Envelope{Kind: bus.KindGetConsentTokens, Reply: reply}
	if err := h.dispatcher.Submit(ctx, env); err != nil {
		h.logger.ErrorContext(ctx, "failed to queue listing", "error", err)
		writeError(w, http.StatusServiceUnavailable, "coordinator busy")
		return
	}

	select {
	case records := <-reply:
		if records == nil {
			records = []domain.ConsentRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"consentTokens": records})
	case <-time.After(replyTimeout):
		writeError(w, http.StatusGatewayTimeout, "listing timed out")
	case <-ctx.Done():
		writeError(w, http.StatusServiceUnavailable, "request canceled")
	}
}

func (h *Handler) handleListDetections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := policy.DetectionWindowDefault
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.detections.ListDetections(ctx, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list detections", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list detections")
		return
	}
	if events == nil {
		events = []domain.DetectionEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"detections": events})
}

func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.LoadSettings(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to load settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings domain.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "malformed settings")
		return
	}
	if err := h.settings.SaveSettings(r.Context(), settings); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to save settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// describeClient condenses a User-Agent header into "Browser version on OS".
func describeClient(rawUA string) string {
	if rawUA == "" {
		return ""
	}
	ua := useragent.New(rawUA)
	name, version := ua.Browser()
	if name == "" {
		return rawUA
	}
	client := name
	if version != "" {
		client += " " + version
	}
	if os := ua.OS(); os != "" {
		client += " on " + os
	}
	return client
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
