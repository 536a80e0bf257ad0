package handler

import (
	"fmt"
	"net/http"
)

// HealthHandler serves the liveness probe endpoint.
type HealthHandler struct {
	state fmt.Stringer
}

// NewHealthHandler takes the processor state reporter; nil omits the field.
func NewHealthHandler(state fmt.Stringer) *HealthHandler { return &HealthHandler{state: state} }

// Health handles GET /health
//
// @Summary  Liveness probe
// @Tags     system
// @Produce  json
// @Success  200  {object}  map[string]string
// @Router   /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok"}
	if h.state != nil {
		body["processor"] = h.state.String()
	}
	respondJSON(w, http.StatusOK, body)
}
