package admin

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"lv-paperdesk/internal/accounts"
	"lv-paperdesk/internal/auth"
	"lv-paperdesk/internal/httputil"
	"lv-paperdesk/internal/ledger"
	"lv-paperdesk/internal/model"
	"lv-paperdesk/internal/positions"
	"lv-paperdesk/internal/types"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type Credentials struct {
	Username     string
	PasswordHash string
}

type Handler struct {
	creds    Credentials
	authSvc  *auth.Service
	accounts *accounts.Service
	ledger   *ledger.Handler
	book     *positions.Book
	log      *zap.Logger
}

func NewHandler(creds Credentials, authSvc *auth.Service, accountSvc *accounts.Service, ledgerHandler *ledger.Handler, book *positions.Book, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{creds: creds, authSvc: authSvc, accounts: accountSvc, ledger: ledgerHandler, book: book, log: log}
}

// Login handles admin login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid request"})
		return
	}
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.creds.Username)) == 1
	if err := bcrypt.CompareHashAndPassword([]byte(h.creds.PasswordHash), []byte(req.Password)); err != nil || !userOK {
		h.log.Warn("admin login failed", zap.String("username", req.Username))
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid credentials"})
		return
	}
	token, exp, err := h.authSvc.Issue(req.Username, auth.RoleAdmin)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "token generation failed"})
		return
	}
	h.log.Info("admin login", zap.String("username", req.Username))
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"username":   req.Username,
		"expires_at": exp,
	})
}

type accountRow struct {
	model.Account
	Equity      string `json:"equity"`
	MarginLevel string `json:"margin_level"`
	Positions   int    `json:"open_positions"`
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	list := h.accounts.List()
	out := make([]accountRow, 0, len(list))
	for _, acc := range list {
		row := accountRow{Account: acc, MarginLevel: "inf"}
		if m, err := h.book.FreshMetrics(acc.ID); err == nil {
			row.Equity = m.Equity.StringFixed(2)
			row.Positions = m.OpenPositions
			if m.MarginLevel != nil {
				row.MarginLevel = m.MarginLevel.StringFixed(2)
			}
		}
		out = append(out, row)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID        string              `json:"id"`
		Name      string              `json:"name"`
		KYCStatus string              `json:"kyc_status"`
		Settings  *model.RiskSettings `json:"risk_settings"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	acc, err := h.accounts.Create(r.Context(), accounts.NewAccount{
		ID:        req.ID,
		Name:      req.Name,
		KYCStatus: types.KYCStatus(strings.ToLower(strings.TrimSpace(req.KYCStatus))),
		Settings:  req.Settings,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.log.Info("admin created account", zap.String("admin", AdminUsername(r)), zap.String("account_id", acc.ID))
	httputil.WriteJSON(w, http.StatusCreated, acc)
}

func (h *Handler) Fund(w http.ResponseWriter, r *http.Request) {
	h.ledger.Fund(w, r, chi.URLParam(r, "id"), AdminUsername(r))
}

func (h *Handler) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	h.ledger.Verify(w, r, chi.URLParam(r, "id"))
}

func (h *Handler) SetKYC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"kyc_status"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	status := types.KYCStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !status.Valid() {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid kyc_status"})
		return
	}
	acc, err := h.accounts.SetKYCStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acc)
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"account_status"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	status := types.AccountStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !status.Valid() {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid account_status"})
		return
	}
	acc, err := h.accounts.SetStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acc)
}

// IssueToken mints a user token for an account; sign-in flows live outside
// this service.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.accounts.Get(id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	token, exp, err := h.authSvc.Issue(id, auth.RoleUser)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "token generation failed"})
		return
	}
	h.log.Info("account token issued", zap.String("admin", AdminUsername(r)), zap.String("account_id", id))
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"access_token": token, "expires_at": exp})
}

type contextKey string

const adminUsernameKey contextKey = "admin_username"

func AdminUsername(r *http.Request) string {
	v, _ := r.Context().Value(adminUsernameKey).(string)
	return v
}

func AdminAuthMiddleware(svc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "missing authorization"})
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid authorization format"})
				return
			}
			claims, err := svc.Parse(parts[1])
			if err != nil {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid token"})
				return
			}
			if claims.Role != auth.RoleAdmin {
				httputil.WriteJSON(w, http.StatusForbidden, httputil.ErrorResponse{Error: "admin access required"})
				return
			}
			ctx := context.WithValue(r.Context(), adminUsernameKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
