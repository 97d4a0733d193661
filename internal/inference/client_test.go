package inference

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VinByte365/Project-Pamada-sub000/internal/apperr"
	"github.com/VinByte365/Project-Pamada-sub000/internal/models"
)

var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestAnalyze_Success(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predict", r.URL.Path)

		file, header, err := r.FormFile("image")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, jpegHeader, data)
		assert.Equal(t, "leaf.jpg", header.Filename)
		assert.Equal(t, "image/jpeg", header.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"success": true,
			"data": {
				"yolo_predictions": [{"class": "leaf_spot", "confidence": 0.85,
					"bounding_box": {"x": 1, "y": 2, "width": 3, "height": 4}}],
				"visual_features": {"leaf_color_index": 0.6},
				"age_estimation": {"maturity_assessment": "maturing", "estimated_days_to_harvest": 45},
				"confidence_score": 0.85,
				"processing_time_ms": 120.5
			}
		}`))
	})

	c := NewClient(srv.URL, time.Second)
	payload, err := c.Analyze(context.Background(), jpegHeader, "leaf.jpg")
	require.NoError(t, err)

	require.Len(t, payload.Predictions, 1)
	assert.Equal(t, models.ConditionLeafSpot, payload.Predictions[0].Class)
	assert.InDelta(t, 0.85, payload.Predictions[0].Confidence, 1e-9)
	require.NotNil(t, payload.Predictions[0].BoundingBox)
	assert.InDelta(t, 3.0, payload.Predictions[0].BoundingBox.Width, 1e-9)
	require.NotNil(t, payload.VisualFeatures)
	assert.InDelta(t, 0.6, *payload.VisualFeatures.LeafColorIndex, 1e-9)
	require.NotNil(t, payload.AgeEstimation)
	assert.Equal(t, models.MaturityMaturing, payload.AgeEstimation.MaturityAssessment)
	assert.Equal(t, 45, *payload.AgeEstimation.EstimatedDaysToHarvest)
	assert.InDelta(t, 120.5, *payload.ProcessingTimeMs, 1e-9)
}

func TestAnalyze_EmptyPredictionsNormalized(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "data": {"confidence_score": 0.9}}`))
	})

	payload, err := NewClient(srv.URL, time.Second).Analyze(context.Background(), jpegHeader, "a.jpg")
	require.NoError(t, err)
	assert.NotNil(t, payload.Predictions)
	assert.Empty(t, payload.Predictions)
}

func TestAnalyze_ErrorKinds(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    apperr.Kind
		message string
	}{
		{"non-2xx", http.StatusInternalServerError, `{"error":"boom"}`, apperr.KindInvalidResponse, "unexpected status 500"},
		{"malformed json", http.StatusOK, `{"success": tru`, apperr.KindInvalidResponse, "decode response"},
		{"success false", http.StatusOK, `{"success": false, "error": "model not loaded"}`, apperr.KindInvalidResponse, "model not loaded"},
		{"missing data", http.StatusOK, `{"success": true}`, apperr.KindInvalidResponse, "no data"},
		{"confidence out of range", http.StatusOK,
			`{"success": true, "data": {"yolo_predictions": [{"class": "healthy", "confidence": 1.4}]}}`,
			apperr.KindInvalidResponse, "outside [0,1]"},
		{"overall confidence out of range", http.StatusOK,
			`{"success": true, "data": {"confidence_score": -0.1}}`,
			apperr.KindInvalidResponse, "confidence_score"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := NewClient(srv.URL, time.Second).Analyze(context.Background(), jpegHeader, "a.jpg")
			require.Error(t, err)
			assert.Equal(t, tt.want, apperr.KindOf(err))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestAnalyze_ServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second).Analyze(context.Background(), jpegHeader, "a.jpg")
	require.Error(t, err)
	assert.Equal(t, apperr.KindServiceUnavailable, apperr.KindOf(err))
	assert.ErrorIs(t, err, apperr.ErrServiceUnavailable)
}

func TestAnalyze_Timeout(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	start := time.Now()
	_, err := NewClient(srv.URL, 50*time.Millisecond).Analyze(context.Background(), jpegHeader, "a.jpg")
	require.Error(t, err)
	assert.Equal(t, apperr.KindTimeout, apperr.KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestAnalyze_EmptyImage(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1", time.Second).Analyze(context.Background(), nil, "a.jpg")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestAnalyzeBatch(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict/batch", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Len(t, r.MultipartForm.File["images"], 3)

		w.Write([]byte(`{
			"success": true,
			"data": {"results": [
				{"filename": "a.jpg", "success": true, "data": {"yolo_predictions": [{"class": "healthy", "confidence": 0.9}]}},
				{"filename": "b.jpg", "success": false, "error": "corrupt image"},
				{"filename": "c.jpg", "success": true, "data": {"yolo_predictions": [{"class": "sunburn", "confidence": 7}]}}
			]}
		}`))
	})

	results, err := NewClient(srv.URL, time.Second).AnalyzeBatch(context.Background(), []Image{
		{Filename: "a.jpg", Data: jpegHeader},
		{Filename: "b.jpg", Data: jpegHeader},
		{Filename: "c.jpg", Data: jpegHeader},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.Equal(t, models.ConditionHealthy, results[0].Data.Predictions[0].Class)

	assert.False(t, results[1].Success)
	assert.Equal(t, "corrupt image", results[1].Error)

	assert.False(t, results[2].Success, "out-of-range confidence is demoted to a failed result")
	assert.Nil(t, results[2].Data)
}

func TestAnalyzeBatch_Empty(t *testing.T) {
	results, err := NewClient("http://127.0.0.1:1", time.Second).AnalyzeBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHealthCheck(t *testing.T) {
	healthy := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	unhealthy := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	assert.True(t, NewClient(healthy.URL, time.Second).HealthCheck(context.Background()))
	assert.False(t, NewClient(unhealthy.URL, time.Second).HealthCheck(context.Background()))
	assert.False(t, NewClient("http://127.0.0.1:1", time.Second).HealthCheck(context.Background()))
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("http://ml:5000/", 0)
	assert.Equal(t, "http://ml:5000", c.BaseURL())
	assert.Equal(t, DefaultTimeout, c.timeout)
}
