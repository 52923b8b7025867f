package orders

import (
	"net/http"
	"strings"

	"lv-paperdesk/internal/httputil"
	"lv-paperdesk/internal/types"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type placeOrderRequest struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Type       string `json:"order_type"`
	Quantity   string `json:"quantity"`
	Price      string `json:"price"`
	StopPrice  string `json:"stop_price"`
	StopLoss   string `json:"stop_loss"`
	TakeProfit string `json:"take_profit"`
}

type badField string

func (f badField) Error() string { return "invalid " + string(f) }

func optDecimal(raw, field string) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, badField(field)
	}
	return &v, nil
}

func (h *Handler) Place(w http.ResponseWriter, r *http.Request, accountID string) {
	var req placeOrderRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	symbol := strings.TrimSpace(req.Symbol)
	if symbol == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "symbol is required"})
		return
	}
	qty, err := decimal.NewFromString(strings.TrimSpace(req.Quantity))
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid quantity"})
		return
	}
	place := PlaceOrderRequest{
		Symbol:   symbol,
		Side:     types.OrderSide(strings.ToLower(strings.TrimSpace(req.Side))),
		Type:     types.OrderType(strings.ToLower(strings.TrimSpace(req.Type))),
		Quantity: qty,
	}
	if place.Type == "" {
		place.Type = types.OrderTypeMarket
	}
	fields := []struct {
		raw  string
		name string
		dst  **decimal.Decimal
	}{
		{req.Price, "price", &place.Price},
		{req.StopPrice, "stop_price", &place.StopPrice},
		{req.StopLoss, "stop_loss", &place.StopLoss},
		{req.TakeProfit, "take_profit", &place.TakeProfit},
	}
	for _, f := range fields {
		v, err := optDecimal(f.raw, f.name)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
			return
		}
		*f.dst = v
	}
	order, err := h.svc.Submit(r.Context(), accountID, place)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, order)
}

func (h *Handler) Open(w http.ResponseWriter, r *http.Request, accountID string) {
	list, err := h.svc.Pending(accountID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request, accountID string) {
	before, err := httputil.QueryTime(r, "before")
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid before"})
		return
	}
	list, err := h.svc.History(r.Context(), accountID, before, httputil.QueryInt(r, "limit", DefaultHistoryLimit))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

type modifyOrderRequest struct {
	Quantity   string  `json:"quantity"`
	Price      string  `json:"price"`
	StopPrice  string  `json:"stop_price"`
	StopLoss   *string `json:"stop_loss"`
	TakeProfit *string `json:"take_profit"`
}

// Modify treats an explicit empty stop_loss or take_profit as "remove".
func (h *Handler) Modify(w http.ResponseWriter, r *http.Request, accountID string) {
	var req modifyOrderRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	var upd ModifyOrderRequest
	var err error
	if upd.Quantity, err = optDecimal(req.Quantity, "quantity"); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if upd.Price, err = optDecimal(req.Price, "price"); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if upd.StopPrice, err = optDecimal(req.StopPrice, "stop_price"); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if req.StopLoss != nil {
		upd.ClearSL = strings.TrimSpace(*req.StopLoss) == ""
		if upd.StopLoss, err = optDecimal(*req.StopLoss, "stop_loss"); err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
			return
		}
	}
	if req.TakeProfit != nil {
		upd.ClearTP = strings.TrimSpace(*req.TakeProfit) == ""
		if upd.TakeProfit, err = optDecimal(*req.TakeProfit, "take_profit"); err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
			return
		}
	}
	order, err := h.svc.Modify(r.Context(), accountID, chi.URLParam(r, "id"), upd)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, order)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request, accountID string) {
	order, err := h.svc.Cancel(r.Context(), accountID, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, order)
}
