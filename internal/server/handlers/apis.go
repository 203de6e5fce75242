package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ratewatch/ratewatch/internal/core"
	apperrors "github.com/ratewatch/ratewatch/internal/errors"
)

// APILister yields the current registry contents.
type APILister interface {
	List() []core.MonitoredAPI
	Get(name string) (core.MonitoredAPI, bool)
}

// StatusStore reads persisted alert state and the newest sample.
type StatusStore interface {
	GetAlertState(ctx context.Context, apiName string) (*core.AlertState, error)
	LatestSample(ctx context.Context, apiName string) (*core.UsageSample, error)
}

// APIStatus is the per-API view served by /apis.
type APIStatus struct {
	core.MonitoredAPI
	State  *core.AlertState  `json:"state,omitempty"`
	Latest *core.UsageSample `json:"latest,omitempty"`
	Usage  *float64          `json:"usage_percent,omitempty"`
}

// APIsHandler serves the registry joined with alert state and latest usage.
type APIsHandler struct {
	Registry APILister
	Store    StatusStore
}

func (h *APIsHandler) status(ctx context.Context, api core.MonitoredAPI) (APIStatus, error) {
	out := APIStatus{MonitoredAPI: api}
	if h.Store == nil {
		return out, nil
	}

	state, err := h.Store.GetAlertState(ctx, api.Name)
	if err != nil {
		return out, err
	}
	out.State = state

	latest, err := h.Store.LatestSample(ctx, api.Name)
	if err != nil {
		return out, err
	}
	if latest != nil {
		out.Latest = latest
		usage := latest.UsagePercent()
		out.Usage = &usage
	}
	return out, nil
}

// List handles GET /apis.
func (h *APIsHandler) List(w http.ResponseWriter, r *http.Request) {
	apis := h.Registry.List()
	result := make([]APIStatus, 0, len(apis))
	for _, api := range apis {
		status, err := h.status(r.Context(), api)
		if err != nil {
			apperrors.RespondWithEnvelope(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to load api status"))
			return
		}
		result = append(result, status)
	}

	writeJSON(w, result)
}

// Get handles GET /apis/{name}.
func (h *APIsHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	api, ok := h.Registry.Get(name)
	if !ok {
		apperrors.RespondWithError(w, r, fmt.Errorf("%w: %s", core.ErrNotFound, name))
		return
	}

	status, err := h.status(r.Context(), api)
	if err != nil {
		apperrors.RespondWithEnvelope(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to load api status"))
		return
	}
	writeJSON(w, status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
