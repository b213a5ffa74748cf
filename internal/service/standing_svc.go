package service

import (
	"math"
	"time"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

const (
	ageWeight      = 0.30
	accuracyWeight = 0.50
	volumeWeight   = 0.20

	// Full age factor after 60 days
	ageDaysMax = 60.0

	// Default accuracy for accounts with fewer than 10 validations
	defaultAccuracy          = 0.5
	minValidationsForAccuracy = 10

	// Full volume factor at 100 validations
	volumeValidationsMax = 100.0
)

// StandingService derives a 0..1 standing score for an account from its
// age, accuracy and validation volume. Standing is informational: it never
// weights votes, which are weighted by stake alone.
type StandingService struct {
	now func() time.Time
}

func NewStandingService(now func() time.Time) *StandingService {
	if now == nil {
		now = time.Now
	}
	return &StandingService{now: now}
}

// ComputeStanding calculates the standing score:
//
//	standing = (age_factor * 0.30) + (accuracy_factor * 0.50) + (volume_factor * 0.20)
func (s *StandingService) ComputeStanding(a model.Account) float64 {
	ageFactor := s.AgeFactor(a.CreatedAt)
	accuracyFactor := s.AccuracyFactor(a.AccuracyRate(), a.TotalValidations)
	volumeFactor := s.VolumeFactor(a.TotalValidations)

	score := (ageFactor * ageWeight) + (accuracyFactor * accuracyWeight) + (volumeFactor * volumeWeight)
	return math.Min(score, 1.0)
}

// AgeFactor returns a value between 0.0 and 1.0 based on account age.
// Full weight (1.0) after 60 days.
func (s *StandingService) AgeFactor(createdAt time.Time) float64 {
	days := s.now().Sub(createdAt).Hours() / 24
	return math.Max(0, math.Min(days/ageDaysMax, 1.0))
}

// AccuracyFactor returns the accuracy rate as a fraction for accounts with
// 10+ validations, or the default 0.5 for accounts with fewer.
func (s *StandingService) AccuracyFactor(accuracyRate, totalValidations int64) float64 {
	if totalValidations < minValidationsForAccuracy {
		return defaultAccuracy
	}
	return float64(accuracyRate) / 100
}

// VolumeFactor returns a value between 0.0 and 1.0 based on total validations.
// Full weight (1.0) at 100+ validations.
func (s *StandingService) VolumeFactor(totalValidations int64) float64 {
	return math.Min(float64(totalValidations)/volumeValidationsMax, 1.0)
}
