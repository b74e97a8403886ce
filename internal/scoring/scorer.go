// Package scoring computes the weighted two-way match confidence from
// per-factor observations. The scorer is pure: given the same factors it
// always produces the same confidence and breakdown.
package scoring

import (
	"errors"
	"math"

	"github.com/ledgerline/recon-engine/pkg/models"
)

// ErrInvalidConfig is returned when the factor weights do not sum to 1.0.
var ErrInvalidConfig = errors.New("scoring: factor weights must sum to 1.0")

// weightTolerance is the accepted deviation from 1.0 when validating
// weights; matches the platform-wide invariant.
const weightTolerance = 1e-3

// Factors carries the raw per-factor observations for one candidate pair.
type Factors struct {
	VendorSimilarity float64 // composite similarity in [0,1]

	AmountWithinTolerance bool
	AmountVariance        float64 // relative variance in [0,1]

	DateWithinTolerance bool
	DateGapDays         int

	ReferenceExact      bool
	ReferenceSimilarity float64
}

// Breakdown exposes the per-factor scores for explainability; the keys
// mirror the configured factor names.
type Breakdown struct {
	VendorName float64 `json:"vendor_name"`
	Amount     float64 `json:"amount"`
	Date       float64 `json:"date"`
	Reference  float64 `json:"reference"`
}

// Map renders the breakdown as the opaque factor map persisted on match
// results and audit events.
func (b Breakdown) Map() map[string]any {
	return map[string]any{
		"vendor_name": b.VendorName,
		"amount":      b.Amount,
		"date":        b.Date,
		"reference":   b.Reference,
	}
}

// Scorer aggregates factor scores under the tenant's configured weights.
type Scorer struct {
	weights models.FactorWeights
}

// NewScorer validates the weights and builds a scorer. Weights that do
// not sum to 1.0 (within 1e-3) are refused with ErrInvalidConfig.
func NewScorer(weights models.FactorWeights) (*Scorer, error) {
	if math.Abs(weights.Sum()-1.0) > weightTolerance {
		return nil, ErrInvalidConfig
	}
	return &Scorer{weights: weights}, nil
}

// Score returns the weighted confidence in [0,1], rounded half-up to 4
// decimal places, together with the per-factor breakdown.
func (s *Scorer) Score(f Factors) (float64, Breakdown) {
	bd := Breakdown{
		VendorName: clamp01(f.VendorSimilarity),
		Amount:     amountScore(f),
		Date:       dateScore(f),
		Reference:  referenceScore(f),
	}

	confidence := bd.VendorName*s.weights.VendorName +
		bd.Amount*s.weights.Amount +
		bd.Date*s.weights.Date +
		bd.Reference*s.weights.Reference

	return round4(clamp01(confidence)), bd
}

// amountScore rewards small variances and degrades sharply once the
// tolerance is breached.
func amountScore(f Factors) float64 {
	if f.AmountWithinTolerance {
		return math.Max(0, 1.0-f.AmountVariance)
	}
	return math.Max(0, 0.5-f.AmountVariance)
}

// dateScore keeps a floor of 0.7 inside the window; outside it decays
// over two months.
func dateScore(f Factors) float64 {
	days := float64(f.DateGapDays)
	if f.DateWithinTolerance {
		return math.Max(0.7, 1.0-days/30.0)
	}
	return math.Max(0, 0.5-days/60.0)
}

func referenceScore(f Factors) float64 {
	if f.ReferenceExact {
		return 1.0
	}
	return clamp01(f.ReferenceSimilarity)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// round4 rounds half-up to 4 decimal places.
func round4(v float64) float64 {
	return math.Floor(v*10000+0.5) / 10000
}
