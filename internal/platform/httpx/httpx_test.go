package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakturace/fakturace/internal/shared"
)

var errDomainMissing = errors.New("invoice missing")

func TestRespondErrorStatusCodes(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("wrap: %w", ErrNotFound), http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
		{ErrValidation, http.StatusBadRequest},
		{ErrUnauthorized, http.StatusUnauthorized},
		{Classify(errDomainMissing, map[error]error{errDomainMissing: ErrNotFound}), http.StatusNotFound},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		assert.Equal(t, tc.status, rr.Code, tc.err.Error())
		assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	}
}

func TestInternalErrorHidesDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, errors.New("password=secret"))
	var p ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	assert.Empty(t, p.Detail)
}

type decodeTarget struct {
	Status string `json:"status" validate:"required,oneof=matched disputed cancelled"`
}

func TestDecodeJSON(t *testing.T) {
	cases := []struct {
		name string
		body string
		ok   bool
	}{
		{name: "valid", body: `{"status":"disputed"}`, ok: true},
		{name: "fails validation", body: `{"status":"lost"}`},
		{name: "broken json", body: `{"status":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var target decodeTarget
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			err := DecodeJSON(httptest.NewRecorder(), req, &target)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestDecodeJSONLimitRejectsLargeBody(t *testing.T) {
	body := `{"status":"` + strings.Repeat("x", 64) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var target decodeTarget
	assert.Error(t, DecodeJSONLimit(httptest.NewRecorder(), req, &target, 16))
}

func TestIDParam(t *testing.T) {
	for raw, ok := range map[string]bool{"42": true, "0": false, "-3": false, "abc": false} {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", raw)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
		id, err := IDParam(req, "id")
		if ok {
			require.NoError(t, err)
			assert.EqualValues(t, 42, id)
			continue
		}
		assert.ErrorIs(t, err, ErrValidation, raw)
	}
}

func TestRequireIdentity(t *testing.T) {
	rr := httptest.NewRecorder()
	_, ok := RequireIdentity(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(shared.ContextWithIdentity(req.Context(), shared.Identity{CompanyID: 5, UserID: 2}))
	ident, ok := RequireIdentity(httptest.NewRecorder(), req)
	require.True(t, ok)
	assert.EqualValues(t, 5, ident.CompanyID)
}
