package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lv-paperdesk/internal/accounts"
	"lv-paperdesk/internal/admin"
	"lv-paperdesk/internal/auth"
	"lv-paperdesk/internal/health"
	"lv-paperdesk/internal/httpserver"
	"lv-paperdesk/internal/httputil"
	"lv-paperdesk/internal/ledger"
	"lv-paperdesk/internal/marketdata"
	"lv-paperdesk/internal/model"
	"lv-paperdesk/internal/orders"
	"lv-paperdesk/internal/positions"
	"lv-paperdesk/internal/risk"
	"lv-paperdesk/internal/testutil"
	"lv-paperdesk/internal/types"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const internalToken = "feed-secret"

type harness struct {
	env *testutil.Env
	srv *httptest.Server
}

func newHarness(t *testing.T, limiter *httpserver.RateLimiter) *harness {
	t.Helper()
	env := testutil.New(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	authSvc := auth.NewService("paperdesk", []byte("test-secret"), time.Hour)
	ledgerHandler := ledger.NewHandler(env.Ledger)
	router := httpserver.NewRouter(httpserver.RouterDeps{
		AuthHandler:     auth.NewHandler(authSvc),
		AccountsHandler: accounts.NewHandler(env.Accounts),
		LedgerHandler:   ledgerHandler,
		PositionHandler: positions.NewHandler(env.Book),
		OrderHandler:    orders.NewHandler(env.Orders),
		MarketHandler:   marketdata.NewHandler(env.Market, env.Book),
		AdminHandler:    admin.NewHandler(admin.Credentials{Username: "root", PasswordHash: string(hash)}, authSvc, env.Accounts, ledgerHandler, env.Book, env.Log),
		AuthService:     authSvc,
		InternalToken:   internalToken,
		WSHandler:       httpserver.NewWSHandler(env.Bus, authSvc, env.Book, "", env.Log),
		RateLimiter:     limiter,
		HealthHandler:   health.NewHandler(time.Now(), "memory"),
		Log:             env.Log,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &harness{env: env, srv: srv}
}

func (h *harness) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if strings.HasPrefix(path, "/v1/internal/") {
		req.Header.Set("X-Internal-Token", internalToken)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (h *harness) adminToken(t *testing.T) string {
	t.Helper()
	var login struct {
		Token string `json:"token"`
	}
	code := h.do(t, http.MethodPost, "/v1/admin/login", "", map[string]string{"username": "root", "password": "hunter2"}, &login)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, login.Token)
	return login.Token
}

// userToken creates an approved account funded by the admin and returns its
// bearer token.
func (h *harness) userToken(t *testing.T, adminTok, id, amount string) string {
	t.Helper()
	code := h.do(t, http.MethodPost, "/v1/admin/accounts", adminTok, map[string]string{"id": id, "name": id, "kyc_status": "approved"}, nil)
	require.Equal(t, http.StatusCreated, code)
	code = h.do(t, http.MethodPost, "/v1/admin/accounts/"+id+"/fund", adminTok, map[string]string{"amount": amount}, nil)
	require.Equal(t, http.StatusCreated, code)
	var issued struct {
		AccessToken string `json:"access_token"`
	}
	code = h.do(t, http.MethodPost, "/v1/admin/accounts/"+id+"/token", adminTok, nil, &issued)
	require.Equal(t, http.StatusOK, code)
	return issued.AccessToken
}

func TestAdminAccess(t *testing.T) {
	h := newHarness(t, nil)

	var errResp httputil.ErrorResponse
	code := h.do(t, http.MethodPost, "/v1/admin/login", "", map[string]string{"username": "root", "password": "nope"}, &errResp)
	assert.Equal(t, http.StatusUnauthorized, code)

	assert.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/v1/admin/accounts", "", nil, nil))

	adminTok := h.adminToken(t)
	userTok := h.userToken(t, adminTok, "acc-1", "1000")
	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodGet, "/v1/admin/accounts", userTok, nil, nil))
	assert.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/v1/account", adminTok, nil, nil), "admin token is not a user token")

	code = h.do(t, http.MethodPost, "/v1/admin/accounts", adminTok, map[string]string{"id": "acc-1"}, &errResp)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "account_exists", errResp.Code)

	code = h.do(t, http.MethodPost, "/v1/admin/accounts/acc-1/fund", adminTok, map[string]string{"amount": "100001"}, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_amount", errResp.Code)

	code = h.do(t, http.MethodPost, "/v1/admin/accounts/ghost/token", adminTok, nil, &errResp)
	assert.Equal(t, http.StatusNotFound, code)

	var rows []struct {
		ID          string `json:"id"`
		MarginLevel string `json:"margin_level"`
	}
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/admin/accounts", adminTok, nil, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "inf", rows[0].MarginLevel)

	var verified map[string]any
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/auth/verify", userTok, nil, &verified))
	assert.Equal(t, "acc-1", verified["subject"])
	assert.Equal(t, auth.RoleUser, verified["role"])
}

func TestTradingFlow(t *testing.T) {
	h := newHarness(t, nil)
	adminTok := h.adminToken(t)
	tok := h.userToken(t, adminTok, "acc-1", "50000")

	var acc model.Account
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/account", tok, nil, &acc))
	assert.True(t, acc.Balance.Equal(testutil.D("50000")))

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/v1/internal/prices", strings.NewReader(`{"EURUSD":"1.1"}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "internal token required")

	var pushed struct {
		Accepted []string `json:"accepted"`
	}
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/internal/prices", "", map[string]string{"EURUSD": "1.1000"}, &pushed))
	assert.Equal(t, []string{"EURUSD"}, pushed.Accepted)

	var order model.Order
	code := h.do(t, http.MethodPost, "/v1/orders", tok, map[string]string{"symbol": "EURUSD", "side": "buy", "order_type": "market", "quantity": "1"}, &order)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, types.OrderStatusFilled, order.Status)

	var errResp httputil.ErrorResponse
	code = h.do(t, http.MethodPost, "/v1/orders", tok, map[string]string{"symbol": "EURUSD", "side": "buy", "quantity": "500"}, &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "max_position_size", errResp.Limit)

	code = h.do(t, http.MethodPost, "/v1/orders", tok, map[string]string{"symbol": "EURUSD", "side": "buy", "quantity": "lots"}, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/internal/prices", "", map[string]string{"EURUSD": "1.1005"}, nil))

	var m risk.Metrics
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/account/metrics", tok, nil, &m))
	assert.True(t, m.Equity.Equal(testutil.D("50005")), "equity %s", m.Equity)
	assert.True(t, m.MarginUsed.Equal(testutil.D("1100")))
	require.NotNil(t, m.MarginLevel)
	assert.Equal(t, "4545.9", m.MarginLevel.StringFixed(1))

	var open []model.Position
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/positions", tok, nil, &open))
	require.Len(t, open, 1)

	var closed model.ClosedPosition
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/positions/"+open[0].ID+"/close", tok, nil, &closed))
	assert.True(t, closed.RealizedPnL.Equal(testutil.D("5")))
	code = h.do(t, http.MethodPost, "/v1/positions/"+open[0].ID+"/close", tok, nil, &errResp)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_closed", errResp.Code)

	var entries []model.LedgerEntry
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/ledger?limit=10", tok, nil, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, types.LedgerEntryTypeRealizedPnL, entries[0].Type)
	assert.Equal(t, types.LedgerEntryTypeFunding, entries[1].Type)

	var res ledger.VerifyResult
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/admin/accounts/acc-1/ledger/verify", adminTok, nil, &res))
	assert.True(t, res.Valid)
	assert.True(t, res.Balance.Equal(testutil.D("50005")))

	var pending model.Order
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/v1/orders", tok, map[string]string{"symbol": "EURUSD", "side": "buy", "order_type": "limit", "quantity": "1", "price": "1.0900"}, &pending))
	var cancelled model.Order
	require.Equal(t, http.StatusOK, h.do(t, http.MethodDelete, "/v1/orders/"+pending.ID, tok, nil, &cancelled))
	assert.Equal(t, types.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodDelete, "/v1/orders/"+pending.ID, tok, nil, nil), "cancel is idempotent")
	assert.Equal(t, http.StatusConflict, h.do(t, http.MethodDelete, "/v1/orders/"+order.ID, tok, nil, nil), "filled orders stay filled")
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodDelete, "/v1/orders/nope", tok, nil, nil))

	code = h.do(t, http.MethodPost, "/v1/deposits", tok, map[string]string{"amount": "100000.01"}, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_amount", errResp.Code)

	code = h.do(t, http.MethodPost, "/v1/withdrawals", tok, map[string]string{"amount": "60000"}, &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "insufficient_funds", errResp.Code)
}

func TestPricePushRemarksPositions(t *testing.T) {
	h := newHarness(t, nil)
	tok := h.userToken(t, h.adminToken(t), "acc-1", "50000")
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/internal/prices", "", map[string]string{"EURUSD": "1.1000"}, nil))
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/v1/orders", tok, map[string]string{"symbol": "EURUSD", "side": "sell", "quantity": "1"}, nil))

	marked := h.env.Bus.SubscribeTypes(8, marketdata.EventPositionsMarked)
	defer h.env.Bus.Unsubscribe(marked)

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/internal/prices", "", map[string]string{"EURUSD": "1.0990"}, nil))
	require.Len(t, marked, 1)
	evt := <-marked
	assert.Equal(t, "acc-1", evt.AccountID)
	ps, ok := evt.Data.([]model.Position)
	require.True(t, ok)
	require.Len(t, ps, 1)
	assert.True(t, ps[0].UnrealizedPnL.Equal(testutil.D("10")))

	var open []model.Position
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/positions", tok, nil, &open))
	require.Len(t, open, 1)
	assert.True(t, open[0].CurrentPrice.Equal(testutil.D("1.0990")))

	var entries []model.LedgerEntry
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/ledger", tok, nil, &entries))
	require.Len(t, entries, 1, "marking never writes the ledger")
	assert.Equal(t, types.LedgerEntryTypeFunding, entries[0].Type)
}

func TestRiskSettingsRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	tok := h.userToken(t, h.adminToken(t), "acc-1", "1000")

	var s model.RiskSettings
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/risk/settings", tok, nil, &s))
	s.MaxPositions = 3
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPut, "/v1/risk/settings", tok, s, nil))

	s.StopOutLevel = s.MarginCallLevel
	var errResp httputil.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPut, "/v1/risk/settings", tok, s, &errResp))
	assert.Equal(t, "invalid_settings", errResp.Code)

	var got model.RiskSettings
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/risk/settings", tok, nil, &got))
	assert.Equal(t, 3, got.MaxPositions)
}

func TestHealthAndInstruments(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health", "", nil, nil))
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health/live", "", nil, nil))
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/internal/health", "", nil, nil))

	var list []model.Instrument
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/instruments", "", nil, &list))
	assert.NotEmpty(t, list)

	resp, err := http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "paperdesk_http_requests_total")
}

func TestRateLimiter(t *testing.T) {
	h := newHarness(t, httpserver.NewRateLimiter(0.001, 2))
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health/live", "", nil, nil))
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health/live", "", nil, nil))
	assert.Equal(t, http.StatusTooManyRequests, h.do(t, http.MethodGet, "/health/live", "", nil, nil))
}

func TestWebSocketStreamsOwnEvents(t *testing.T) {
	h := newHarness(t, nil)
	adminTok := h.adminToken(t)
	tok := h.userToken(t, adminTok, "acc-1", "1000")
	h.userToken(t, adminTok, "acc-2", "1000")

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/v1/ws?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.env.Bus.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err = h.env.Ledger.Deposit(context.Background(), "acc-2", testutil.D("5"), "")
	require.NoError(t, err)
	_, err = h.env.Ledger.Deposit(context.Background(), "acc-1", testutil.D("7"), "")
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt struct {
		Type      string `json:"type"`
		AccountID string `json:"account_id"`
	}
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, "ledger_entry", evt.Type)
	assert.Equal(t, "acc-1", evt.AccountID, "other accounts' events are filtered")

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.env.Bus.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocketRequiresToken(t *testing.T) {
	h := newHarness(t, nil)
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
