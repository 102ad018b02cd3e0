package door

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter(f *fixture) *mux.Router {
	h := NewHandler(f.rec, zap.NewNop())
	r := mux.NewRouter()
	r.HandleFunc("/door/open", h.HandleOpen).Methods(http.MethodPut)
	r.HandleFunc("/door/close", h.HandleClose).Methods(http.MethodPut)
	r.HandleFunc("/v1/rooms/{id}/{action}", h.HandleRoomEvent).Methods(http.MethodPost)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return rr, resp
}

func TestHandleLegacyDoor(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)

	rr, resp := doJSON(t, router, http.MethodPut, "/door/close", `{"toilet_id": 11}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, true, resp["success"])

	// rejections keep 200 with success=false
	rr, resp = doJSON(t, router, http.MethodPut, "/door/close", `{"toilet_id": "11"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, false, resp["success"])
	require.Equal(t, string(ReasonDuplicate), resp["reason"])
}

func TestHandleLegacyDoor_BadRequest(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)

	tests := []struct {
		name string
		body string
	}{
		{name: "empty", body: ""},
		{name: "missing id", body: `{}`},
		{name: "null id", body: `{"toilet_id": null}`},
		{name: "object id", body: `{"toilet_id": {"x": 1}}`},
		{name: "malformed", body: `{"toilet_id": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, _ := doJSON(t, router, http.MethodPut, "/door/open", tt.body)
			require.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestHandleRoomEvent(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)

	rr, resp := doJSON(t, router, http.MethodPost, "/v1/rooms/11/close", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, true, resp["success"])

	rr, _ = doJSON(t, router, http.MethodPost, "/v1/rooms/11/open", "")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)

	rr, _ = doJSON(t, router, http.MethodPost, "/v1/rooms/99/open", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = doJSON(t, router, http.MethodPost, "/v1/rooms/11/jiggle", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestParseEntityID(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{raw: `"11"`, want: "11", ok: true},
		{raw: `" a1 "`, want: "a1", ok: true},
		{raw: `11`, want: "11", ok: true},
		{raw: `""`},
		{raw: `null`},
		{raw: `true`},
	}
	for _, tt := range tests {
		got, err := parseEntityID(json.RawMessage(tt.raw))
		if !tt.ok {
			require.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		require.Equal(t, tt.want, got)
	}
}
