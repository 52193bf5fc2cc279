package api

import (
	"encoding/json"
	"time"

	"nirogai/backend/internal/screening"
	"nirogai/backend/internal/store"
)

// PredictResponse is returned once the screening has been recorded.
type PredictResponse struct {
	Success     bool             `json:"success"`
	ScreeningID uint             `json:"screening_id"`
	CreatedAt   time.Time        `json:"created_at"`
	Result      screening.Result `json:"result"`
}

// ValidationResponse enumerates the fields that blocked a submission.
type ValidationResponse struct {
	Error   string   `json:"error"`
	Missing []string `json:"missing"`
	Invalid []string `json:"invalid,omitempty"`
}

// HistoryResponse is one page of the caller's screenings.
type HistoryResponse struct {
	Success bool           `json:"success"`
	Count   int            `json:"count"`
	History []ScreeningDTO `json:"history"`
}

// ResultResponse wraps a single stored screening.
type ResultResponse struct {
	Success bool         `json:"success"`
	Result  ScreeningDTO `json:"result"`
}

// ScreeningDTO is the API representation of a persisted screening.
type ScreeningDTO struct {
	ID              uint               `json:"id"`
	Disease         string             `json:"disease"`
	RiskProbability float64            `json:"risk_probability"`
	RiskLevel       string             `json:"risk_level"`
	KeyFactors      []string           `json:"key_factors"`
	Recommendation  string             `json:"recommendation"`
	ThresholdUsed   float64            `json:"threshold_used"`
	ThresholdType   string             `json:"threshold_type"`
	ModelConfidence map[string]float64 `json:"model_confidence"`
	Disclaimer      string             `json:"disclaimer"`
	Simulated       bool               `json:"simulated"`
	InputData       json.RawMessage    `json:"input_data,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

// FromModel converts a store.Screening into the DTO representation. Input
// data is only included when withInput is set.
func FromModel(s store.Screening, withInput bool) ScreeningDTO {
	dto := ScreeningDTO{
		ID:              s.ID,
		Disease:         s.Disease,
		RiskProbability: s.RiskProbability,
		RiskLevel:       s.RiskLevel,
		KeyFactors:      s.Factors(),
		Recommendation:  s.Recommendation,
		ThresholdUsed:   s.ThresholdUsed,
		ThresholdType:   s.ThresholdType,
		ModelConfidence: s.Confidence(),
		Disclaimer:      s.Disclaimer,
		Simulated:       s.Simulated,
		CreatedAt:       s.CreatedAt,
	}
	if withInput && len(s.InputData) > 0 {
		dto.InputData = json.RawMessage(s.InputData)
	}
	return dto
}

// Result restores the prediction payload carried by a stored screening.
func (dto ScreeningDTO) Result() screening.Result {
	return screening.Result{
		Disease:         dto.Disease,
		RiskProbability: dto.RiskProbability,
		RiskLevel:       dto.RiskLevel,
		KeyFactors:      dto.KeyFactors,
		Recommendation:  dto.Recommendation,
		ThresholdUsed:   dto.ThresholdUsed,
		ThresholdType:   dto.ThresholdType,
		ModelConfidence: dto.ModelConfidence,
		Disclaimer:      dto.Disclaimer,
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
