package handlers

import (
	"net/http"

	"mercator-hq/ganymede/pkg/auth"
	"mercator-hq/ganymede/pkg/kiro"
	"mercator-hq/ganymede/pkg/proxy/types"
	"mercator-hq/ganymede/pkg/recovery"
)

// HealthHandler serves GET /healthz. It answers 200 while the credential
// manager can still mint tokens and 503 once the refresh token has been
// rejected, so a supervisor restart will not fix what only a new credential
// can.
type HealthHandler struct {
	creds    *auth.Manager
	recovery *recovery.Cache
	models   *kiro.ModelCache
}

// NewHealthHandler creates the health endpoint.
func NewHealthHandler(creds *auth.Manager, cache *recovery.Cache, models *kiro.ModelCache) *HealthHandler {
	return &HealthHandler{creds: creds, recovery: cache, models: models}
}

type healthCredential struct {
	Source   string `json:"source"`
	Provider string `json:"provider"`
	State    string `json:"state"`
	Healthy  bool   `json:"healthy"`
}

type healthRecovery struct {
	ToolRecords    int `json:"tool_records"`
	ContentRecords int `json:"content_records"`
}

type healthModels struct {
	Cached   int  `json:"cached"`
	Fallback bool `json:"fallback"`
}

type healthResponse struct {
	Status     string           `json:"status"`
	Credential healthCredential `json:"credential"`
	Recovery   healthRecovery   `json:"recovery"`
	Models     healthModels     `json:"models"`
}

// ServeHTTP implements http.Handler.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, types.DialectOpenAI, types.NewRequestError(http.StatusMethodNotAllowed,
			types.ErrInvalidRequest, "method not allowed; use GET"))
		return
	}

	healthy := h.creds.IsHealthy()
	resp := healthResponse{
		Status: "ok",
		Credential: healthCredential{
			Source:   string(h.creds.Source()),
			Provider: string(h.creds.Provider()),
			State:    h.creds.State(),
			Healthy:  healthy,
		},
	}
	if !healthy {
		resp.Status = "unavailable"
	}
	if h.recovery != nil {
		st := h.recovery.Stats()
		resp.Recovery = healthRecovery{
			ToolRecords:    st.ToolTruncations,
			ContentRecords: st.ContentTruncations,
		}
	}
	if h.models != nil {
		st := h.models.Stats()
		resp.Models = healthModels{Cached: st.Models, Fallback: st.FromFallback}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	_ = writeJSON(w, status, resp)
}
