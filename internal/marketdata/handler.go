package marketdata

import (
	"net/http"

	"lv-paperdesk/internal/httputil"
	"lv-paperdesk/internal/model"

	"github.com/shopspring/decimal"
)

type Handler struct {
	svc  *Service
	sink PriceSink
}

// NewHandler pushes prices through sink, or straight into svc when sink is
// nil.
func NewHandler(svc *Service, sink PriceSink) *Handler {
	if sink == nil {
		sink = PriceSinkFunc(svc.Update)
	}
	return &Handler{svc: svc, sink: sink}
}

type instrumentView struct {
	model.Instrument
	Price string `json:"price,omitempty"`
}

func (h *Handler) Instruments(w http.ResponseWriter, r *http.Request) {
	list := h.svc.catalog.List()
	out := make([]instrumentView, 0, len(list))
	for _, inst := range list {
		v := instrumentView{Instrument: inst}
		if px, ok := h.svc.prices.Price(inst.Symbol); ok {
			v.Price = px.StringFixed(inst.PricePrecision)
		}
		out = append(out, v)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// PushPrices accepts {symbol: price} from an external feed.
func (h *Handler) PushPrices(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	prices := make(map[string]decimal.Decimal, len(req))
	for sym, raw := range req {
		px, err := decimal.NewFromString(raw)
		if err != nil || !px.IsPositive() {
			httputil.WriteError(w, model.ErrInvalidAmount)
			return
		}
		prices[sym] = px
	}
	accepted := h.sink.UpdatePrices(r.Context(), prices)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"accepted": accepted})
}
