package screening

import (
	"errors"
	"fmt"
	"math"
)

// DiseaseDiabetes identifies diabetes screenings in results and storage.
const DiseaseDiabetes = "diabetes"

// Screening modes understood by the ML service.
const (
	ModeScreening = "screening"
	ModeBalanced  = "balanced"
)

// Disclaimer is attached to every result, real or simulated.
const Disclaimer = "Screening only. Does not replace medical diagnosis."

// Risk levels reported by the predictor.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// ErrInvalidResult marks a prediction payload that violates the result invariants.
var ErrInvalidResult = errors.New("invalid prediction result")

// Input is the typed questionnaire forwarded to the ML service. Field names
// match the wire format of the predictor.
type Input struct {
	BMI                  float64 `json:"BMI"`
	Age                  int     `json:"Age"`
	GenHlth              int     `json:"GenHlth"`
	PhysActivity         int     `json:"PhysActivity"`
	HighBP               int     `json:"HighBP"`
	HighChol             int     `json:"HighChol"`
	CholCheck            int     `json:"CholCheck"`
	Smoker               int     `json:"Smoker"`
	Stroke               int     `json:"Stroke"`
	HeartDiseaseorAttack int     `json:"HeartDiseaseorAttack"`
	Fruits               int     `json:"Fruits"`
	Veggies              int     `json:"Veggies"`
	HvyAlcoholConsump    int     `json:"HvyAlcoholConsump"`
	AnyHealthcare        int     `json:"AnyHealthcare"`
	NoDocbcCost          int     `json:"NoDocbcCost"`
	MentHlth             int     `json:"MentHlth"`
	PhysHlth             int     `json:"PhysHlth"`
	DiffWalk             int     `json:"DiffWalk"`
	Sex                  int     `json:"Sex"`
	Education            int     `json:"Education"`
	Income               int     `json:"Income"`
	Mode                 string  `json:"mode"`
}

// Result is the prediction returned by the ML service.
type Result struct {
	Disease         string             `json:"disease"`
	RiskProbability float64            `json:"risk_probability"`
	RiskLevel       string             `json:"risk_level"`
	KeyFactors      []string           `json:"key_factors"`
	Recommendation  string             `json:"recommendation"`
	ThresholdUsed   float64            `json:"threshold_used"`
	ThresholdType   string             `json:"threshold_type"`
	ModelConfidence map[string]float64 `json:"model_confidence"`
	Disclaimer      string             `json:"disclaimer"`
}

// Check enforces the result invariants: a known risk level and a finite
// probability within [0,100].
func (r Result) Check() error {
	switch r.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		return fmt.Errorf("%w: risk_level %q", ErrInvalidResult, r.RiskLevel)
	}
	if math.IsNaN(r.RiskProbability) || math.IsInf(r.RiskProbability, 0) {
		return fmt.Errorf("%w: risk_probability is not finite", ErrInvalidResult)
	}
	if r.RiskProbability < 0 || r.RiskProbability > 100 {
		return fmt.Errorf("%w: risk_probability %.2f out of range", ErrInvalidResult, r.RiskProbability)
	}
	return nil
}
