package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cuongbtq/predict-queue/internal/api/dispatcher"
	"github.com/cuongbtq/predict-queue/internal/api/dto"
	"github.com/cuongbtq/predict-queue/internal/api/handler"
	"github.com/cuongbtq/predict-queue/internal/domain"
	"github.com/cuongbtq/predict-queue/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePredictor struct {
	prediction domain.Prediction
	err        error
	got        dispatcher.Payload
	calls      int
}

func (f *fakePredictor) SubmitAndAwait(ctx context.Context, payload dispatcher.Payload) (domain.Prediction, error) {
	f.calls++
	f.got = payload
	return f.prediction, f.err
}

func newTestRouter(predictor handler.Predictor, health func(ctx context.Context) error) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return SetupRouter(&handler.Dependencies{
		Logger:      logger.NewDiscard().Logger,
		Dispatcher:  predictor,
		HealthCheck: health,
		MetricsPath: "/metrics",
	})
}

func postPredict(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPredict_Success(t *testing.T) {
	predictor := &fakePredictor{prediction: domain.Prediction{Label: "cat", Score: 0.946}}
	r := newTestRouter(predictor, nil)

	w := postPredict(r, `{"image_name":"cat.png","model":"EfficientNetB0"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.PredictResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.PredictResponse{Success: true, Prediction: "cat", Score: 0.946}, resp)
	assert.Equal(t, dispatcher.Payload{ImageName: "cat.png", Model: domain.ModelEfficientNetB0}, predictor.got)
}

func TestPredict_DefaultModel(t *testing.T) {
	predictor := &fakePredictor{prediction: domain.Prediction{Label: "dog", Score: 0.5}}
	r := newTestRouter(predictor, nil)

	w := postPredict(r, `{"image_name":"dog.jpg"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.ModelResNet50, predictor.got.Model)
}

func TestPredict_InvalidRequest(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantDetail string
	}{
		{name: "malformed json", body: `{"image_name":`},
		{name: "missing image", body: `{"model":"ResNet50"}`, wantDetail: "required"},
		{name: "unknown model", body: `{"image_name":"cat.png","model":"VGG16"}`, wantDetail: "model_selector"},
		{name: "unsupported extension", body: `{"image_name":"cat.bmp"}`, wantDetail: "image_file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			predictor := &fakePredictor{}
			r := newTestRouter(predictor, nil)

			w := postPredict(r, tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.Zero(t, predictor.calls)

			var resp dto.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			if tt.wantDetail != "" {
				require.NotEmpty(t, resp.Details)
				assert.Contains(t, strings.Join(resp.Details, " "), tt.wantDetail)
			}
		})
	}
}

func TestPredict_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "inference failure", err: fmt.Errorf("%w for job 1", domain.ErrInferenceFailure), wantStatus: http.StatusUnprocessableEntity},
		{name: "timeout", err: fmt.Errorf("job 1: %w", domain.ErrDispatchTimeout), wantStatus: http.StatusGatewayTimeout},
		{name: "submission", err: &domain.SubmissionError{JobID: "1", Err: errors.New("connection refused")}, wantStatus: http.StatusServiceUnavailable},
		{name: "unexpected", err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&fakePredictor{err: tt.err}, nil)

			w := postPredict(r, `{"image_name":"cat.png"}`)
			assert.Equal(t, tt.wantStatus, w.Code)

			var resp dto.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		check      func(ctx context.Context) error
		wantStatus int
	}{
		{name: "no check", wantStatus: http.StatusOK},
		{name: "healthy", check: func(ctx context.Context) error { return nil }, wantStatus: http.StatusOK},
		{name: "broker down", check: func(ctx context.Context) error { return errors.New("redis: connection refused") }, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&fakePredictor{}, tt.check)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(&fakePredictor{prediction: domain.Prediction{Label: "cat", Score: 1}}, nil)
	postPredict(r, `{"image_name":"cat.png"}`)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(&fakePredictor{}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/predict", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
