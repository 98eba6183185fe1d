package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"mercator-hq/ganymede/pkg/kiro"
	"mercator-hq/ganymede/pkg/proxy/middleware"
	"mercator-hq/ganymede/pkg/proxy/types"
)

// ModelsHandler serves GET /v1/models and GET /v1/models/{id}. The list is
// projected into whichever dialect the client appears to speak: Anthropic
// SDKs identify themselves with x-api-key / anthropic-version headers,
// everything else gets the OpenAI shape.
type ModelsHandler struct {
	models *kiro.ModelCache
	logger *slog.Logger

	// created is stamped once so repeated listings are stable within a run.
	created time.Time
}

// NewModelsHandler creates the model listing handler.
func NewModelsHandler(models *kiro.ModelCache, logger *slog.Logger) *ModelsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelsHandler{
		models:  models,
		logger:  logger.With("handler", "models"),
		created: time.Now().UTC(),
	}
}

// ServeHTTP implements http.Handler.
func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	dialect := middleware.ClientDialect(r)
	if r.Method != http.MethodGet {
		writeError(w, dialect, types.NewRequestError(http.StatusMethodNotAllowed,
			types.ErrInvalidRequest, "method not allowed; use GET"))
		return
	}
	if id := r.PathValue("id"); id != "" {
		h.one(w, r, id, dialect)
		return
	}
	h.list(w, r, dialect)
}

func (h *ModelsHandler) list(w http.ResponseWriter, r *http.Request, dialect types.Dialect) {
	infos, err := h.models.List(r.Context())
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		writeError(w, dialect, classify(err))
		return
	}

	if dialect == types.DialectAnthropic {
		list := types.AnthropicModelList{Data: make([]types.AnthropicModel, 0, len(infos))}
		for _, info := range infos {
			list.Data = append(list.Data, h.anthropicModel(info))
		}
		if n := len(list.Data); n > 0 {
			list.FirstID = list.Data[0].ID
			list.LastID = list.Data[n-1].ID
		}
		_ = writeJSON(w, http.StatusOK, list)
		return
	}

	list := types.OpenAIModelList{Object: "list", Data: make([]types.OpenAIModel, 0, len(infos))}
	for _, info := range infos {
		list.Data = append(list.Data, h.openaiModel(info))
	}
	_ = writeJSON(w, http.StatusOK, list)
}

func (h *ModelsHandler) one(w http.ResponseWriter, r *http.Request, id string, dialect types.Dialect) {
	info, err := h.models.Resolve(r.Context(), id)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		if errors.Is(err, kiro.ErrUnknownModel) {
			writeError(w, dialect, types.NewRequestError(http.StatusNotFound,
				types.ErrNotFound, "model not found: "+id))
			return
		}
		writeError(w, dialect, classify(err))
		return
	}

	if dialect == types.DialectAnthropic {
		_ = writeJSON(w, http.StatusOK, h.anthropicModel(info))
		return
	}
	_ = writeJSON(w, http.StatusOK, h.openaiModel(info))
}

func (h *ModelsHandler) anthropicModel(info kiro.ModelInfo) types.AnthropicModel {
	return types.AnthropicModel{
		Type:        "model",
		ID:          info.ID,
		DisplayName: info.DisplayName,
		CreatedAt:   h.created.Format(time.RFC3339),
	}
}

func (h *ModelsHandler) openaiModel(info kiro.ModelInfo) types.OpenAIModel {
	return types.OpenAIModel{
		ID:      info.ID,
		Object:  "model",
		Created: h.created.Unix(),
		OwnedBy: "anthropic",
	}
}
