package positions

import (
	"net/http"

	"lv-paperdesk/internal/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type Handler struct {
	book *Book
}

func NewHandler(book *Book) *Handler {
	return &Handler{book: book}
}

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request, accountID string) {
	m, err := h.book.Metrics(r.Context(), accountID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, accountID string) {
	list, err := h.book.List(accountID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) Closed(w http.ResponseWriter, r *http.Request, accountID string) {
	before, err := httputil.QueryTime(r, "before")
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid before"})
		return
	}
	list, err := h.book.Closed(r.Context(), accountID, before, httputil.QueryInt(r, "limit", DefaultHistoryLimit))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request, accountID string) {
	c, err := h.book.CloseAtMarket(r.Context(), accountID, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

type closeScopeRequest struct {
	Scope string `json:"scope"`
}

func (h *Handler) CloseScope(w http.ResponseWriter, r *http.Request, accountID string) {
	var req closeScopeRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	scope, err := ParseScope(req.Scope)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	closed, err := h.book.CloseByScope(r.Context(), accountID, scope)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"closed": len(closed), "positions": closed})
}

type protectionRequest struct {
	StopLoss   *string `json:"stop_loss"`
	TakeProfit *string `json:"take_profit"`
}

// UpdateProtection treats an empty string as "remove".
func (h *Handler) UpdateProtection(w http.ResponseWriter, r *http.Request, accountID string) {
	var req protectionRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	var upd ProtectionUpdate
	if req.StopLoss != nil {
		if *req.StopLoss == "" {
			upd.ClearSL = true
		} else {
			v, err := decimal.NewFromString(*req.StopLoss)
			if err != nil {
				httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid stop_loss"})
				return
			}
			upd.StopLoss = &v
		}
	}
	if req.TakeProfit != nil {
		if *req.TakeProfit == "" {
			upd.ClearTP = true
		} else {
			v, err := decimal.NewFromString(*req.TakeProfit)
			if err != nil {
				httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid take_profit"})
				return
			}
			upd.TakeProfit = &v
		}
	}
	p, err := h.book.UpdateProtection(r.Context(), accountID, chi.URLParam(r, "id"), upd)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}
