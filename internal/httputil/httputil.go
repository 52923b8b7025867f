package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lv-paperdesk/internal/model"
)

const maxBody = 1 << 20

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Limit string `json:"limit,omitempty"`
}

func ReadJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorMapping struct {
	err    error
	status int
	code   string
}

var mappings = []errorMapping{
	{model.ErrNotFound, http.StatusNotFound, "not_found"},
	{model.ErrAlreadyClosed, http.StatusConflict, "already_closed"},
	{model.ErrAlreadyFilled, http.StatusConflict, "already_filled"},
	{model.ErrAlreadyCancelled, http.StatusConflict, "already_cancelled"},
	{model.ErrAccountExists, http.StatusConflict, "account_exists"},
	{model.ErrConflict, http.StatusConflict, "conflict"},
	{model.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{model.ErrInsufficientMargin, http.StatusUnprocessableEntity, "insufficient_margin"},
	{model.ErrRiskLimitExceeded, http.StatusUnprocessableEntity, "risk_limit_exceeded"},
	{model.ErrNoPrice, http.StatusUnprocessableEntity, "no_price"},
	{model.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{model.ErrInvalidOrder, http.StatusBadRequest, "invalid_order"},
	{model.ErrUnknownSymbol, http.StatusBadRequest, "unknown_symbol"},
	{model.ErrInvalidSettings, http.StatusBadRequest, "invalid_settings"},
	{model.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
}

// StatusOf maps a domain error to its HTTP status and error code.
func StatusOf(err error) (int, string) {
	for _, m := range mappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func WriteError(w http.ResponseWriter, err error) {
	status, code := StatusOf(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}
	if status == http.StatusInternalServerError {
		resp.Error = "internal error"
	}
	var le *model.LimitError
	if errors.As(err, &le) {
		resp.Limit = le.Limit
	}
	WriteJSON(w, status, resp)
}

func QueryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// QueryTime parses an RFC3339 query parameter; absent yields nil.
func QueryTime(r *http.Request, key string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
