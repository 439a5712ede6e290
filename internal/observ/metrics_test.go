package observ

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterLabelsAreOrderInsensitive(t *testing.T) {
	Reset()
	IncCounter("frames_total", map[string]string{"op": "0", "conn": "a"})
	IncCounterBy("frames_total", map[string]string{"conn": "a", "op": "0"}, 2)

	assert.Equal(t, int64(3), Counter("frames_total", map[string]string{"op": "0", "conn": "a"}))
	assert.Equal(t, int64(0), Counter("frames_total", nil))
}

func TestHandlerDumpsRegistry(t *testing.T) {
	Reset()
	IncCounter("gateway_reconnects_total", nil)
	SetGauge("gateway_state", 4, nil)
	Observe("rest_request_ms", 12, map[string]string{"method": "GET"})

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	var body struct {
		Counters map[string]map[string]int64     `json:"counters"`
		Gauges   map[string]map[string]float64   `json:"gauges"`
		Hist     map[string]map[string][]float64 `json:"histograms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Counters["gateway_reconnects_total"][""])
	assert.Equal(t, 4.0, body.Gauges["gateway_state"][""])
	assert.Equal(t, []float64{12}, body.Hist["rest_request_ms"]["method=GET"])
}
