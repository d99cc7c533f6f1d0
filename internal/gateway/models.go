package gateway

import (
	"net/http"

	"github.com/af-corp/pplx-bridge/internal/config"
	"github.com/af-corp/pplx-bridge/internal/httputil"
)

// Models handles GET /models, the public catalog.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	entries := h.models().Models
	if entries == nil {
		entries = []config.ModelEntry{}
	}
	httputil.WriteJSON(w, http.StatusOK, catalogResponse{Models: entries})
}

// ListModels handles GET /v1/models
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	entries := h.models().Models
	models := make([]modelObject, 0, len(entries))
	for _, m := range entries {
		owner := m.Provider
		if owner == "" {
			owner = string(h.registry.Rules().Route(m.ID))
		}
		models = append(models, modelObject{
			ID:      m.ID,
			Object:  "model",
			Created: 0,
			OwnedBy: owner,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, modelListResponse{
		Object: "list",
		Data:   models,
	})
}

type catalogResponse struct {
	Models []config.ModelEntry `json:"models"`
}

type modelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelListResponse struct {
	Object string        `json:"object"`
	Data   []modelObject `json:"data"`
}
