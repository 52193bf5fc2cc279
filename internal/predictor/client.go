package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"nirogai/backend/internal/screening"
	"nirogai/backend/internal/util"
)

const defaultTimeout = 15 * time.Second

var (
	// ErrUnavailable means the ML service could not be reached within the timeout.
	ErrUnavailable = errors.New("prediction service unavailable")
	// ErrPrediction means the ML service answered but rejected the request or
	// returned an unusable result.
	ErrPrediction = errors.New("prediction failed")
	// ErrNotConfigured is returned by NewClient when no base URL is set.
	ErrNotConfigured = errors.New("prediction service url not configured")
)

// Predictor produces a prediction outcome for a validated questionnaire.
type Predictor interface {
	Predict(ctx context.Context, input screening.Input, policy Policy) (Outcome, error)
	Health(ctx context.Context) error
}

// Config holds ML service connection settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client calls the external ML service. It makes exactly one attempt per call.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
}

// NewClient constructs a Client if the supplied configuration is valid.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrNotConfigured
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		timeout:    timeout,
	}, nil
}

// Predict forwards input to the ML service. When the call fails and policy
// allows degraded responses, a Simulated outcome is returned instead of an error.
func (c *Client) Predict(ctx context.Context, input screening.Input, policy Policy) (Outcome, error) {
	if strings.TrimSpace(input.Mode) == "" {
		input.Mode = screening.ModeScreening
	}

	timer := util.StartTimer()
	result, err := c.call(ctx, input)
	if err == nil {
		logrus.WithFields(timer.Fields()).WithField("risk_level", result.RiskLevel).Debug("ml prediction received")
		return Outcome{Kind: Real, Result: result}, nil
	}

	entry := logrus.WithError(err).WithFields(timer.Fields())
	if !policy.AllowDegraded {
		entry.Error("ml prediction failed")
		return Outcome{}, err
	}
	entry.Warn("ml prediction failed; serving simulated result")
	return Outcome{Kind: Simulated, Result: Simulate(input.Mode), Cause: err}, nil
}

func (c *Client) call(ctx context.Context, input screening.Input) (screening.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(input)
	if err != nil {
		return screening.Result{}, fmt.Errorf("%w: marshal request: %v", ErrPrediction, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/diabetes/predict", bytes.NewReader(body))
	if err != nil {
		return screening.Result{}, fmt.Errorf("%w: create request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return screening.Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail := readDetail(resp.Body)
		switch resp.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return screening.Result{}, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, detail)
		default:
			return screening.Result{}, fmt.Errorf("%w: status %d: %s", ErrPrediction, resp.StatusCode, detail)
		}
	}

	var result screening.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if ctx.Err() != nil {
			return screening.Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return screening.Result{}, fmt.Errorf("%w: decode response: %v", ErrPrediction, err)
	}
	sanitizeResult(&result)
	if err := result.Check(); err != nil {
		return screening.Result{}, fmt.Errorf("%w: %v", ErrPrediction, err)
	}
	return result, nil
}

// Health probes the ML service's diabetes model endpoint.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/diabetes/health", nil)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrUnavailable, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrUnavailable, resp.StatusCode)
	}
	var payload struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("%w: decode health: %v", ErrUnavailable, err)
	}
	if !strings.EqualFold(payload.Status, "healthy") {
		return fmt.Errorf("%w: model %s: %s", ErrUnavailable, payload.Status, payload.Error)
	}
	return nil
}

func readDetail(r io.Reader) string {
	var apiErr struct {
		Detail any `json:"detail"`
	}
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Detail != nil {
		return fmt.Sprint(apiErr.Detail)
	}
	return strings.TrimSpace(string(raw))
}

func sanitizeResult(result *screening.Result) {
	result.Disease = strings.TrimSpace(result.Disease)
	if result.Disease == "" {
		result.Disease = screening.DiseaseDiabetes
	}
	result.RiskLevel = strings.ToLower(strings.TrimSpace(result.RiskLevel))
	if result.KeyFactors == nil {
		result.KeyFactors = []string{}
	}
	if result.ModelConfidence == nil {
		result.ModelConfidence = map[string]float64{}
	}
	if strings.TrimSpace(result.Disclaimer) == "" {
		result.Disclaimer = screening.Disclaimer
	}
}
