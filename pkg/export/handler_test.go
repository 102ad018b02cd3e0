package export

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nicktill/roomwatch/pkg/mode"
	"github.com/nicktill/roomwatch/pkg/storage/memory"
	"github.com/nicktill/roomwatch/pkg/usage"
)

func newTestRouter(t *testing.T, store *memory.Storage) *mux.Router {
	t.Helper()
	reg := testReg(t)
	svc := usage.NewService(store, reg, mode.New(mode.Running), usage.Options{Location: time.UTC})
	h := NewHandler(store, reg, usage.NewHandler(svc, reg, zap.NewNop()), zap.NewNop())

	r := mux.NewRouter()
	r.HandleFunc("/v1/export", h.HandleExport).Methods(http.MethodGet)
	r.HandleFunc("/v1/import", h.HandleImport).Methods(http.MethodPost)
	r.HandleFunc("/v1/logs/export", h.HandleReportExport).Methods(http.MethodGet)
	return r
}

func TestHandleExport(t *testing.T) {
	store := memory.New()
	base := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	seedEvents(t, store, base)
	router := newTestRouter(t, store)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/export", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "roomwatch-events-")

	var backup Backup
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &backup))
	assert.Len(t, backup.Events, 3)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/export?format=csv&entity=12", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.Equal(t, 2, strings.Count(rr.Body.String(), "\n"))
}

func TestHandleExport_BadRequest(t *testing.T) {
	router := newTestRouter(t, memory.New())

	tests := []string{
		"/v1/export?format=xml",
		"/v1/export?start=2019-01-02T00:00:00Z&end=2019-01-01T00:00:00Z",
		"/v1/export?start=2018-01-01T00:00:00Z&end=2019-01-01T00:00:00Z",
	}
	for _, path := range tests {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code, path)
	}
}

func TestHandleImport(t *testing.T) {
	store := memory.New()
	router := newTestRouter(t, store)

	ts := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	body := "timestamp,entity_id,is_closed\n" + ts + ",11,true\n"
	req := httptest.NewRequest(http.MethodPost, "/v1/import", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/csv; charset=utf-8")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var result ImportResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Equal(t, 1, result.EventsImported)

	req = httptest.NewRequest(http.MethodPost, "/v1/import", bytes.NewBufferString("{}"))
	req.Header.Set("Content-Type", "application/xml")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
}

func TestHandleReportExport(t *testing.T) {
	router := newTestRouter(t, memory.New())
	query := "begin_date=20190101&end_date=20190101&begin_hours_per_day=10&end_hours_per_day=14&step_hours=2"

	tests := []struct {
		format      string
		contentType string
		prefix      string
	}{
		{"csv", "text/csv", "bucket,begin"},
		{"pdf", "application/pdf", "%PDF-"},
		{"xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "PK"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/logs/export?format="+tt.format+"&"+query, nil))
			require.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.contentType, rr.Header().Get("Content-Type"))
			assert.True(t, strings.HasPrefix(rr.Body.String(), tt.prefix))
		})
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/logs/export?format=doc", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
