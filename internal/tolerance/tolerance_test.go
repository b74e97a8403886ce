package tolerance

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/recon-engine/pkg/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCheckAmount_WithinPercentage(t *testing.T) {
	// 1020 vs 1000 is 1.96% variance, inside the 5% default.
	ok, variance := CheckAmount(dec("1020.00"), dec("1000.00"), DefaultAmount())
	if !ok {
		t.Fatal("1020 vs 1000 should be within the 5% default")
	}
	want := dec("20").Div(dec("1020"))
	if !variance.Sub(want).Abs().LessThan(dec("0.0001")) {
		t.Errorf("variance = %s, want ~%s", variance, want)
	}
}

func TestCheckAmount_WithinAbsoluteOnly(t *testing.T) {
	// 108 vs 100 is 7.4% variance (fails percentage) but |delta|=8 <= $10.
	ok, _ := CheckAmount(dec("108.00"), dec("100.00"), DefaultAmount())
	if !ok {
		t.Fatal("8-dollar delta should pass the $10 absolute bound")
	}
}

func TestCheckAmount_Outside(t *testing.T) {
	ok, variance := CheckAmount(dec("1200.00"), dec("1000.00"), DefaultAmount())
	if ok {
		t.Fatal("20% variance should fail the default tolerance")
	}
	if variance.LessThan(dec("0.16")) {
		t.Errorf("variance = %s, expected ~0.1667", variance)
	}
}

func TestCheckAmount_ZeroHandling(t *testing.T) {
	// (0, 0) is within tolerance with zero variance.
	ok, variance := CheckAmount(decimal.Zero, decimal.Zero, DefaultAmount())
	if !ok || !variance.IsZero() {
		t.Errorf("(0,0) should be within tolerance with 0 variance, got ok=%v variance=%s", ok, variance)
	}

	// Zero reference against a non-zero amount is 100% variance.
	ok, variance = CheckAmount(dec("50.00"), decimal.Zero, DefaultAmount())
	if ok {
		t.Error("50 vs 0 exceeds the 5% bound and the $10 absolute bound")
	}
	if !variance.Equal(decimal.NewFromInt(1)) {
		t.Errorf("variance = %s, want 1", variance)
	}
}

func TestCheckQuantity_Defaults(t *testing.T) {
	ok, _ := CheckQuantity(dec("10"), dec("10"), DefaultQuantity())
	if !ok {
		t.Fatal("equal quantities are within tolerance")
	}
	// 11 vs 10 fails 2% but passes the 1-unit absolute bound.
	ok, _ = CheckQuantity(dec("11"), dec("10"), DefaultQuantity())
	if !ok {
		t.Fatal("1-unit delta should pass the absolute bound")
	}
	ok, _ = CheckQuantity(dec("13"), dec("10"), DefaultQuantity())
	if ok {
		t.Fatal("3-unit / 23% delta should fail")
	}
}

func TestCheckDate(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ok, gap := CheckDate(base.AddDate(0, 0, 5), base, DefaultDateDays)
	if !ok || gap != 5 {
		t.Errorf("5-day gap should pass the 7-day default, got ok=%v gap=%d", ok, gap)
	}
	ok, gap = CheckDate(base.AddDate(0, 0, -9), base, DefaultDateDays)
	if ok || gap != 9 {
		t.Errorf("9-day gap should fail, got ok=%v gap=%d", ok, gap)
	}
}

func TestResolve_PriorityAndScope(t *testing.T) {
	tenantID := uuid.New()
	vendorID := uuid.New()
	broadPct := dec("0.10")
	vendorPct := dec("0.01")
	threshold := dec("500")

	rules := []models.MatchingTolerance{
		{
			ID: uuid.New(), TenantID: tenantID, ToleranceType: models.ToleranceTypePrice,
			PercentageTolerance: &broadPct, Priority: 1, Active: true,
		},
		{
			ID: uuid.New(), TenantID: tenantID, VendorID: &vendorID,
			ToleranceType: models.ToleranceTypePrice, AmountThreshold: &threshold,
			PercentageTolerance: &vendorPct, Priority: 5, Active: true,
		},
	}

	// Vendor-scoped high-priority rule wins when its scope applies.
	vid := vendorID.String()
	cfg := Resolve(rules, &vid, dec("1000"), models.ToleranceTypePrice)
	if cfg.Percentage == nil || !cfg.Percentage.Equal(vendorPct) {
		t.Errorf("expected vendor rule (1%%), got %+v", cfg)
	}

	// Below the amount threshold the vendor rule is out of scope.
	cfg = Resolve(rules, &vid, dec("100"), models.ToleranceTypePrice)
	if cfg.Percentage == nil || !cfg.Percentage.Equal(broadPct) {
		t.Errorf("expected broad rule (10%%), got %+v", cfg)
	}

	// Different vendor falls back to the unscoped rule.
	other := uuid.New().String()
	cfg = Resolve(rules, &other, dec("1000"), models.ToleranceTypePrice)
	if cfg.Percentage == nil || !cfg.Percentage.Equal(broadPct) {
		t.Errorf("expected broad rule for other vendor, got %+v", cfg)
	}
}

func TestResolve_DefaultWhenNoRules(t *testing.T) {
	cfg := Resolve(nil, nil, dec("100"), models.ToleranceTypePrice)
	if cfg.Percentage == nil || !cfg.Percentage.Equal(dec("0.05")) {
		t.Errorf("expected 5%% default amount tolerance, got %+v", cfg)
	}
	cfg = Resolve(nil, nil, dec("100"), models.ToleranceTypeQuantity)
	if cfg.Percentage == nil || !cfg.Percentage.Equal(dec("0.02")) {
		t.Errorf("expected 2%% default quantity tolerance, got %+v", cfg)
	}
}

func TestResolve_InactiveRulesIgnored(t *testing.T) {
	pct := dec("0.50")
	rules := []models.MatchingTolerance{
		{ToleranceType: models.ToleranceTypePrice, PercentageTolerance: &pct, Priority: 10, Active: false},
	}
	cfg := Resolve(rules, nil, dec("100"), models.ToleranceTypePrice)
	if cfg.Percentage != nil && cfg.Percentage.Equal(pct) {
		t.Error("inactive rule must not be selected")
	}
}
