package store

import (
	"time"

	"gorm.io/datatypes"
)

// User is the account a screening belongs to. Rows are owned by the auth
// service; this package only references them.
type User struct {
	ID        uint   `gorm:"primaryKey"`
	Email     string `gorm:"size:255;index"`
	Name      string `gorm:"size:255"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Screening is the immutable audit row written once per accepted submission.
type Screening struct {
	ID              uint                        `gorm:"primaryKey"`
	UserID          uint                        `gorm:"not null;index"`
	User            User                        `gorm:"constraint:OnDelete:CASCADE"`
	Disease         string                      `gorm:"size:64;not null;index"`
	RiskProbability float64                     `gorm:"not null"`
	RiskLevel       string                      `gorm:"size:16;not null"`
	KeyFactors      datatypes.JSONSlice[string] `gorm:"not null"`
	Recommendation  string                      `gorm:"type:text"`
	ThresholdUsed   float64
	ThresholdType   string `gorm:"size:32"`
	ModelConfidence datatypes.JSONType[map[string]float64]
	Disclaimer      string         `gorm:"type:text"`
	Simulated       bool           `gorm:"not null;default:false"`
	InputData       datatypes.JSON `gorm:"not null"`
	CreatedAt       time.Time      `gorm:"not null;index"`
}

// Factors returns the key factors as a plain slice.
func (s *Screening) Factors() []string {
	if s.KeyFactors == nil {
		return []string{}
	}
	return []string(s.KeyFactors)
}

// Confidence returns the per-model confidence map.
func (s *Screening) Confidence() map[string]float64 {
	data := s.ModelConfidence.Data()
	if data == nil {
		return map[string]float64{}
	}
	return data
}
