package observer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"consentry/internal/authsignal"
	"consentry/internal/detect"
)

// ControlConfig wires the observer's local callback surface. The issuance
// flow's return hook and the host's visibility notifications land here; the
// listener is bound to loopback and never exposed beyond the machine.
type ControlConfig struct {
	Observer *Observer
	// Snapshot produces a fresh auth-signal view of the page.
	Snapshot func(context.Context) (authsignal.Snapshot, error)
	// Page returns the most recently fetched page snapshot.
	Page func() *detect.Page
	// ScanEnabled reports whether auto-detection currently allows sweeps.
	ScanEnabled func(context.Context) bool
	Logger      *slog.Logger
}

type issuedRequest struct {
	TokenID string `json:"tokenId"`
	Site    string `json:"site"`
}

// NewControlHandler builds the HTTP handler for the observer's control
// surface:
//
//	POST /control/issued     the issuance flow reports a minted token
//	POST /control/rescan     request a delayed re-sweep of the page
//	POST /control/visibility the page became visible again
func NewControlHandler(cfg ControlConfig) http.Handler {
	r := chi.NewRouter()

	r.Post("/control/issued", func(w http.ResponseWriter, req *http.Request) {
		var body issuedRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.TokenID == "" || body.Site == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		cfg.Observer.RecordIssued(body.TokenID, body.Site)
		// Returning from the issuance flow alters the page; re-sweep it
		// once it has settled.
		scheduleRescan(cfg)
		w.WriteHeader(http.StatusAccepted)
	})

	r.Post("/control/rescan", func(w http.ResponseWriter, _ *http.Request) {
		scheduleRescan(cfg)
		w.WriteHeader(http.StatusAccepted)
	})

	r.Post("/control/visibility", func(w http.ResponseWriter, req *http.Request) {
		snap, err := cfg.Snapshot(req.Context())
		if err != nil {
			cfg.Logger.Warn("auth snapshot failed on visibility change", "error", err)
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		cfg.Observer.OnAuthSignal(req.Context(), snap)
		w.WriteHeader(http.StatusAccepted)
	})

	return r
}

func scheduleRescan(cfg ControlConfig) {
	page := cfg.Page()
	if page == nil {
		return
	}
	if cfg.ScanEnabled != nil && !cfg.ScanEnabled(context.Background()) {
		cfg.Logger.Debug("auto-detection disabled, skipping rescan")
		return
	}
	go cfg.Observer.RescanAfterReturn(context.Background(), page)
}
