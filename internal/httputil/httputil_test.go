package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lv-paperdesk/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("order x: %w", model.ErrNotFound), http.StatusNotFound, "not_found"},
		{model.ErrAlreadyClosed, http.StatusConflict, "already_closed"},
		{model.ErrAlreadyFilled, http.StatusConflict, "already_filled"},
		{model.ErrInsufficientMargin, http.StatusUnprocessableEntity, "insufficient_margin"},
		{&model.LimitError{Limit: "kyc"}, http.StatusUnprocessableEntity, "risk_limit_exceeded"},
		{model.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
		{model.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, code := StatusOf(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, &model.LimitError{Limit: "max_positions", Detail: "20 open"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "max_positions", body.Limit)
	assert.Equal(t, "risk_limit_exceeded", body.Code)

	rec = httptest.NewRecorder()
	WriteError(rec, errors.New("pq: connection reset"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pq:")
}

func TestReadJSON(t *testing.T) {
	var v struct{ A int }
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"A":3}`))
	require.NoError(t, ReadJSON(r, &v))
	assert.Equal(t, 3, v.A)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	assert.EqualError(t, ReadJSON(r, &v), "empty body")

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.Error(t, ReadJSON(r, &v))
}

func TestQueryHelpers(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=5&bad=-1&before=2026-03-02T10:00:00Z&junk=x", nil)
	assert.Equal(t, 5, QueryInt(r, "limit", 50))
	assert.Equal(t, 50, QueryInt(r, "bad", 50))
	assert.Equal(t, 50, QueryInt(r, "missing", 50))

	ts, err := QueryTime(r, "before")
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.Equal(t, 10, ts.Hour())
	ts, err = QueryTime(r, "missing")
	require.NoError(t, err)
	assert.Nil(t, ts)
	_, err = QueryTime(r, "junk")
	assert.Error(t, err)
}
