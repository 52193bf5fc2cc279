package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nirogai/backend/internal/screening"
)

func sampleResult() screening.Result {
	return screening.Result{
		Disease:         "diabetes",
		RiskProbability: 62.3,
		RiskLevel:       "high",
		KeyFactors:      []string{"High blood pressure", "Obesity (BMI 31.0)"},
		Recommendation:  "High risk. Consult a doctor urgently for HbA1c and OGTT.",
		ThresholdUsed:   0.31,
		ThresholdType:   "screening",
		ModelConfidence: map[string]float64{"xgb": 64.1, "lr": 58.2},
		Disclaimer:      screening.Disclaimer,
	}
}

func sampleInput() screening.Input {
	return screening.Input{BMI: 31, Age: 9, GenHlth: 4, PhysActivity: 0, HighBP: 1, CholCheck: 1, AnyHealthcare: 1, Education: 4, Income: 5}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{BaseURL: srv.URL + "/", Timeout: timeout})
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "  "})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestPredictReturnsRealOutcome(t *testing.T) {
	var received map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/diabetes/predict", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sampleResult())
	}, time.Second)

	outcome, err := client.Predict(context.Background(), sampleInput(), Policy{})
	require.NoError(t, err)
	assert.Equal(t, Real, outcome.Kind)
	assert.Equal(t, sampleResult(), outcome.Result)
	assert.Equal(t, "screening", received["mode"], "empty mode defaults to screening")
	assert.EqualValues(t, 31, received["BMI"])
	assert.EqualValues(t, 1, received["CholCheck"])
}

func TestPredictForwardsModeVerbatim(t *testing.T) {
	var mode string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mode, _ = body["mode"].(string)
		_ = json.NewEncoder(w).Encode(sampleResult())
	}, time.Second)

	input := sampleInput()
	input.Mode = "balanced"
	_, err := client.Predict(context.Background(), input, Policy{})
	require.NoError(t, err)
	assert.Equal(t, "balanced", mode)
}

func TestPredictFailureClassification(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "validation rejected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnprocessableEntity)
				_, _ = w.Write([]byte(`{"detail":"BMI 5 must be between 10 and 80"}`))
			},
			want: ErrPrediction,
		},
		{
			name: "model not loaded",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			want: ErrUnavailable,
		},
		{
			name: "internal error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			want: ErrPrediction,
		},
		{
			name: "unknown risk level",
			handler: func(w http.ResponseWriter, r *http.Request) {
				res := sampleResult()
				res.RiskLevel = "extreme"
				_ = json.NewEncoder(w).Encode(res)
			},
			want: ErrPrediction,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>"))
			},
			want: ErrPrediction,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, tc.handler, time.Second)
			_, err := client.Predict(context.Background(), sampleInput(), Policy{AllowDegraded: false})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestPredictTimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 50*time.Millisecond)
	defer close(release)

	start := time.Now()
	_, err := client.Predict(context.Background(), sampleInput(), Policy{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPredictUnreachableProductionFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(Config{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)

	outcome, err := client.Predict(context.Background(), sampleInput(), Policy{AllowDegraded: false})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, Outcome{}, outcome)
}

func TestPredictUnreachableDegradedSimulates(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(Config{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)

	input := sampleInput()
	input.Mode = "balanced"
	outcome, err := client.Predict(context.Background(), input, Policy{AllowDegraded: true})
	require.NoError(t, err)
	assert.Equal(t, Simulated, outcome.Kind)
	assert.ErrorIs(t, outcome.Cause, ErrUnavailable)
	assert.Contains(t, outcome.Result.KeyFactors, SimulatedFactor)
	assert.Equal(t, screening.Disclaimer, outcome.Result.Disclaimer)
	assert.Equal(t, "balanced", outcome.Result.ThresholdType)
	assert.NoError(t, outcome.Result.Check())
}

func TestHealth(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/diabetes/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"healthy","model":"diabetes_model_v6"}`))
	}, time.Second)
	assert.NoError(t, client.Health(context.Background()))

	unhealthy := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"unhealthy","error":"model missing"}`))
	}, time.Second)
	assert.ErrorIs(t, unhealthy.Health(context.Background()), ErrUnavailable)
}
