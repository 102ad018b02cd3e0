package mode

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSwitch(t *testing.T) {
	sw := New(Running)
	require.True(t, sw.Running())

	require.Equal(t, Stopped, sw.Toggle())
	require.False(t, sw.Running())

	sw.Set(Running)
	require.Equal(t, Running, sw.State())
}

func TestSwitch_ConcurrentToggle(t *testing.T) {
	sw := New(Running)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sw.Toggle()
		}()
	}
	wg.Wait()
	require.Equal(t, Running, sw.State())
}

func TestParse(t *testing.T) {
	s, err := Parse("Running")
	require.NoError(t, err)
	require.Equal(t, Running, s)

	s, err = Parse("0")
	require.NoError(t, err)
	require.Equal(t, Stopped, s)

	_, err = Parse("paused")
	require.Error(t, err)
}

func TestHandleToggle(t *testing.T) {
	h := NewHandler(New(Running), zap.NewNop())

	rr := httptest.NewRecorder()
	h.HandleToggle(rr, httptest.NewRequest(http.MethodPatch, "/emergency", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, float64(0), resp["valid"])
	require.Equal(t, "stopped", resp["action"])

	rr = httptest.NewRecorder()
	h.HandleToggle(rr, httptest.NewRequest(http.MethodPatch, "/emergency", nil))
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, float64(1), resp["valid"])
	require.Equal(t, "resumed", resp["action"])
}
