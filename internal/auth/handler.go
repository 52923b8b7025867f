package auth

import (
	"net/http"
	"strings"

	"lv-paperdesk/internal/httputil"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Verify reports the subject, role and expiry of the presented bearer token.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "missing bearer token"})
		return
	}
	c, err := h.svc.Parse(parts[1])
	if err != nil {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid token"})
		return
	}
	out := map[string]any{"subject": c.Subject, "role": c.Role}
	if c.ExpiresAt != nil {
		out["expires_at"] = c.ExpiresAt.Time
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
