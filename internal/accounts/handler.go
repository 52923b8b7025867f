package accounts

import (
	"net/http"

	"lv-paperdesk/internal/httputil"
	"lv-paperdesk/internal/model"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request, accountID string) {
	acc, err := h.svc.Get(accountID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acc)
}

func (h *Handler) Settings(w http.ResponseWriter, r *http.Request, accountID string) {
	st, err := h.svc.Snapshot(accountID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st.Settings)
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request, accountID string) {
	var req model.RiskSettings
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	out, err := h.svc.UpdateSettings(r.Context(), accountID, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
