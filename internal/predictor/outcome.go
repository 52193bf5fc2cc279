package predictor

import "nirogai/backend/internal/screening"

// SimulatedFactor is the key factor that marks a locally synthesized result.
const SimulatedFactor = "ML service offline - simulated result"

// Kind distinguishes real predictions from degraded substitutes.
type Kind int

const (
	Real Kind = iota
	Simulated
)

func (k Kind) String() string {
	if k == Simulated {
		return "simulated"
	}
	return "real"
}

// Policy is the deployment's stance on degraded responses. Production
// deployments leave AllowDegraded false.
type Policy struct {
	AllowDegraded bool
}

// Outcome is the result of one Predict call. Cause holds the upstream error
// that triggered a Simulated outcome.
type Outcome struct {
	Kind   Kind
	Result screening.Result
	Cause  error
}

// Simulate builds the placeholder result served while the ML service is down.
func Simulate(mode string) screening.Result {
	if mode == "" {
		mode = screening.ModeScreening
	}
	return screening.Result{
		Disease:         screening.DiseaseDiabetes,
		RiskProbability: 50,
		RiskLevel:       screening.RiskMedium,
		KeyFactors:      []string{SimulatedFactor},
		Recommendation:  "Prediction service is offline. Retry later or consult a doctor for an HbA1c test.",
		ThresholdUsed:   0.5,
		ThresholdType:   mode,
		ModelConfidence: map[string]float64{},
		Disclaimer:      screening.Disclaimer,
	}
}
