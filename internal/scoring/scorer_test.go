package scoring

import (
	"math"
	"testing"

	"github.com/ledgerline/recon-engine/pkg/models"
)

var defaultWeights = models.FactorWeights{
	VendorName: 0.30,
	Amount:     0.35,
	Date:       0.15,
	Reference:  0.20,
}

func TestNewScorer_RejectsBadWeights(t *testing.T) {
	_, err := NewScorer(models.FactorWeights{VendorName: 0.5, Amount: 0.2, Date: 0.1, Reference: 0.1})
	if err != ErrInvalidConfig {
		t.Fatalf("weights summing to 0.9 must be refused, got err=%v", err)
	}

	// Within the 1e-3 band is accepted.
	if _, err := NewScorer(models.FactorWeights{VendorName: 0.3004, Amount: 0.35, Date: 0.15, Reference: 0.20}); err != nil {
		t.Fatalf("weights within the 1e-3 band should pass: %v", err)
	}
}

func TestScore_PerfectMatch(t *testing.T) {
	s, err := NewScorer(defaultWeights)
	if err != nil {
		t.Fatal(err)
	}
	conf, bd := s.Score(Factors{
		VendorSimilarity:      1.0,
		AmountWithinTolerance: true,
		AmountVariance:        0,
		DateWithinTolerance:   true,
		DateGapDays:           0,
		ReferenceExact:        true,
	})
	if conf != 1.0 {
		t.Errorf("perfect factors should score 1.0, got %f", conf)
	}
	if bd.Amount != 1.0 || bd.Date != 1.0 || bd.Reference != 1.0 || bd.VendorName != 1.0 {
		t.Errorf("unexpected breakdown: %+v", bd)
	}
}

func TestScore_FactorTransforms(t *testing.T) {
	s, _ := NewScorer(defaultWeights)

	// Amount within tolerance: 1 - variance.
	_, bd := s.Score(Factors{AmountWithinTolerance: true, AmountVariance: 0.02})
	if math.Abs(bd.Amount-0.98) > 1e-9 {
		t.Errorf("amount score = %f, want 0.98", bd.Amount)
	}

	// Amount outside tolerance: 0.5 - variance, floored at 0.
	_, bd = s.Score(Factors{AmountWithinTolerance: false, AmountVariance: 0.3})
	if math.Abs(bd.Amount-0.2) > 1e-9 {
		t.Errorf("out-of-tolerance amount score = %f, want 0.2", bd.Amount)
	}
	_, bd = s.Score(Factors{AmountWithinTolerance: false, AmountVariance: 0.9})
	if bd.Amount != 0 {
		t.Errorf("amount score should floor at 0, got %f", bd.Amount)
	}

	// Date within window keeps a 0.7 floor.
	_, bd = s.Score(Factors{DateWithinTolerance: true, DateGapDays: 29})
	if math.Abs(bd.Date-0.7) > 1e-9 {
		t.Errorf("29-day in-window gap should floor at 0.7, got %f", bd.Date)
	}
	_, bd = s.Score(Factors{DateWithinTolerance: true, DateGapDays: 3})
	if math.Abs(bd.Date-0.9) > 1e-9 {
		t.Errorf("3-day gap score = %f, want 0.9", bd.Date)
	}
	_, bd = s.Score(Factors{DateWithinTolerance: false, DateGapDays: 12})
	if math.Abs(bd.Date-0.3) > 1e-9 {
		t.Errorf("12-day out-of-window score = %f, want 0.3", bd.Date)
	}

	// Reference: exact beats similarity.
	_, bd = s.Score(Factors{ReferenceExact: true, ReferenceSimilarity: 0.1})
	if bd.Reference != 1.0 {
		t.Errorf("exact reference should score 1.0, got %f", bd.Reference)
	}
	_, bd = s.Score(Factors{ReferenceSimilarity: 0.8})
	if math.Abs(bd.Reference-0.8) > 1e-9 {
		t.Errorf("reference similarity should pass through, got %f", bd.Reference)
	}
}

func TestScore_Rounding(t *testing.T) {
	s, _ := NewScorer(models.FactorWeights{VendorName: 0.25, Amount: 0.25, Date: 0.25, Reference: 0.25})
	conf, _ := s.Score(Factors{
		VendorSimilarity:      0.33333,
		AmountWithinTolerance: true,
		AmountVariance:        0.66667,
		DateWithinTolerance:   true,
		DateGapDays:           0,
		ReferenceSimilarity:   0.5,
	})
	// 0.25*(0.33333 + 0.33333 + 1.0 + 0.5) = 0.541665 -> 0.5417 half-up.
	if conf != 0.5417 {
		t.Errorf("confidence = %v, want 0.5417", conf)
	}
}

func TestScore_Bounds(t *testing.T) {
	s, _ := NewScorer(defaultWeights)
	for _, f := range []Factors{
		{},
		{VendorSimilarity: 2.0, ReferenceSimilarity: -1.0},
		{VendorSimilarity: 1.0, AmountWithinTolerance: true, DateWithinTolerance: true, ReferenceExact: true},
	} {
		conf, _ := s.Score(f)
		if conf < 0 || conf > 1 {
			t.Errorf("confidence %f out of [0,1] for %+v", conf, f)
		}
	}
}
