package marketrpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nhbchain/rpc/modules"
)

func postRPC(t *testing.T, handler http.Handler, method string, params any) *httptest.ResponseRecorder {
	t.Helper()
	body := map[string]any{"jsonrpc": jsonRPCVersion, "id": 1, "method": method}
	if params != nil {
		raw, err := json.Marshal(params)
		require.NoError(t, err)
		body["params"] = []json.RawMessage{raw}
	}
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) rpcResponse {
	t.Helper()
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestServeHTTPRejectsNonPost(t *testing.T) {
	srv := New(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServeHTTPRejectsMalformedBody(t *testing.T) {
	srv := New(nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestServeHTTPUnknownMethod(t *testing.T) {
	srv := New(nil, nil)
	rec := postRPC(t, srv, "market_doesNotExist", nil)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeHTTPRequiresMethod(t *testing.T) {
	srv := New(nil, nil)
	rec := postRPC(t, srv, "", nil)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestServeHTTPReportsOfflineModules(t *testing.T) {
	srv := New(nil, nil)

	for _, method := range []string{
		"market_subscribeOffer",
		"market_queryEvents",
		"agreement_create",
		"agreement_get",
	} {
		rec := postRPC(t, srv, method, map[string]any{})
		resp := decodeResponse(t, rec)
		require.NotNil(t, resp.Error, "method %s", method)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, "method %s", method)
	}
}

func TestServeHTTPDispatchesToAgreementModule(t *testing.T) {
	agreementModule := modules.NewAgreementModule(nil, 0)
	srv := New(nil, agreementModule)

	rec := postRPC(t, srv, "agreement_approve", map[string]any{"id": "bogus"})
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeServerError, resp.Error.Code)
}
