package httpserver

import (
	"net/http"

	"lv-paperdesk/internal/accounts"
	"lv-paperdesk/internal/admin"
	"lv-paperdesk/internal/auth"
	"lv-paperdesk/internal/health"
	"lv-paperdesk/internal/httputil"
	"lv-paperdesk/internal/ledger"
	"lv-paperdesk/internal/marketdata"
	"lv-paperdesk/internal/orders"
	"lv-paperdesk/internal/positions"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterDeps struct {
	AuthHandler     *auth.Handler
	AccountsHandler *accounts.Handler
	LedgerHandler   *ledger.Handler
	PositionHandler *positions.Handler
	OrderHandler    *orders.Handler
	MarketHandler   *marketdata.Handler
	AdminHandler    *admin.Handler
	AuthService     *auth.Service
	InternalToken   string
	WSHandler       http.Handler
	RateLimiter     *RateLimiter
	HealthHandler   *health.Handler
	Log             *zap.Logger
}

type accountHandler func(w http.ResponseWriter, r *http.Request, accountID string)

// withAccount adapts a handler that needs the authenticated account id.
func withAccount(fn accountHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := AccountID(r)
		if !ok {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
			return
		}
		fn(w, r, accountID)
	}
}

func NewRouter(d RouterDeps) http.Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Internal-Token")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(log))
	r.Use(SecurityHeaders)
	if d.RateLimiter != nil {
		r.Use(d.RateLimiter.Middleware)
	}

	r.Get("/health", d.HealthHandler.Ready)
	r.Get("/health/live", d.HealthHandler.Live)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/auth/verify", d.AuthHandler.Verify)
		r.Get("/instruments", d.MarketHandler.Instruments)
		r.Get("/ws", d.WSHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))
			r.Get("/account", withAccount(d.AccountsHandler.Me))
			r.Get("/account/metrics", withAccount(d.PositionHandler.Metrics))
			r.Get("/ledger", withAccount(d.LedgerHandler.Ledger))
			r.Post("/deposits", withAccount(d.LedgerHandler.Deposit))
			r.Post("/withdrawals", withAccount(d.LedgerHandler.Withdraw))

			r.Get("/positions", withAccount(d.PositionHandler.List))
			r.Get("/positions/closed", withAccount(d.PositionHandler.Closed))
			r.Post("/positions/close", withAccount(d.PositionHandler.CloseScope))
			r.Post("/positions/{id}/close", withAccount(d.PositionHandler.Close))
			r.Patch("/positions/{id}", withAccount(d.PositionHandler.UpdateProtection))

			r.Get("/orders", withAccount(d.OrderHandler.Open))
			r.Post("/orders", withAccount(d.OrderHandler.Place))
			r.Get("/orders/history", withAccount(d.OrderHandler.History))
			r.Patch("/orders/{id}", withAccount(d.OrderHandler.Modify))
			r.Delete("/orders/{id}", withAccount(d.OrderHandler.Cancel))

			r.Get("/risk/settings", withAccount(d.AccountsHandler.Settings))
			r.Put("/risk/settings", withAccount(d.AccountsHandler.UpdateSettings))
		})

		r.Group(func(r chi.Router) {
			r.Use(InternalAuth(d.InternalToken))
			r.Post("/internal/prices", d.MarketHandler.PushPrices)
			r.Get("/internal/health", d.HealthHandler.Full)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", d.AdminHandler.Login)
			r.Group(func(r chi.Router) {
				r.Use(admin.AdminAuthMiddleware(d.AuthService))
				r.Get("/accounts", d.AdminHandler.ListAccounts)
				r.Post("/accounts", d.AdminHandler.CreateAccount)
				r.Post("/accounts/{id}/fund", d.AdminHandler.Fund)
				r.Post("/accounts/{id}/kyc", d.AdminHandler.SetKYC)
				r.Post("/accounts/{id}/status", d.AdminHandler.SetStatus)
				r.Post("/accounts/{id}/token", d.AdminHandler.IssueToken)
				r.Get("/accounts/{id}/ledger/verify", d.AdminHandler.VerifyLedger)
			})
		})
	})
	return r
}
