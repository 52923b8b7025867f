package ledger

import (
	"net/http"
	"strconv"
	"strings"

	"lv-paperdesk/internal/httputil"
	"lv-paperdesk/internal/model"

	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type movementRequest struct {
	Amount    string `json:"amount"`
	Reference string `json:"reference"`
}

type fundRequest struct {
	Amount string `json:"amount"`
}

func (h *Handler) Ledger(w http.ResponseWriter, r *http.Request, accountID string) {
	var before int64
	if raw := strings.TrimSpace(r.URL.Query().Get("before")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid before"})
			return
		}
		before = v
	}
	limit := httputil.QueryInt(r, "limit", DefaultHistoryLimit)
	entries, err := h.svc.History(r.Context(), accountID, before, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request, accountID string) {
	var req movementRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entry, err := h.svc.Deposit(r.Context(), accountID, amount, req.Reference)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, entry)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request, accountID string) {
	var req movementRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entry, err := h.svc.Withdraw(r.Context(), accountID, amount, req.Reference)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, entry)
}

// Fund is mounted on the admin router; adminID names the operator.
func (h *Handler) Fund(w http.ResponseWriter, r *http.Request, accountID, adminID string) {
	var req fundRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entry, err := h.svc.Fund(r.Context(), accountID, amount, adminID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, entry)
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request, accountID string) {
	res, err := h.svc.Verify(r.Context(), accountID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, model.ErrInvalidAmount
	}
	return amount, nil
}
