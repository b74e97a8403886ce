package threeway

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/recon-engine/pkg/models"
)

// Sub-factor weights for invoice-line vs PO-line scoring. A line needs
// lineMatchThreshold to be considered matched.
const (
	itemCodeWeight    = 0.4
	itemCodeBothEmpty = 0.1
	descriptionWeight = 0.3
	unitPriceWeight   = 0.2
	quantityWeight    = 0.1

	lineMatchThreshold = 0.7
)

// receiptAgg is the receipt roll-up for one PO line.
type receiptAgg struct {
	Quantity decimal.Decimal
	Value    decimal.Decimal
}

// aggregateReceipts sums received quantities and values per PO line.
func aggregateReceipts(lines []models.ReceiptLine) map[string]receiptAgg {
	agg := make(map[string]receiptAgg, len(lines))
	for _, l := range lines {
		a := agg[l.POLineID.String()]
		a.Quantity = a.Quantity.Add(l.QuantityReceived)
		a.Value = a.Value.Add(l.LineValue)
		agg[l.POLineID.String()] = a
	}
	return agg
}

// lineScore computes the weighted sub-factor confidence of an invoice
// line against a PO line.
func lineScore(inv *models.InvoiceLine, po *models.PurchaseOrderLine) float64 {
	score := 0.0

	switch {
	case inv.ItemCode != "" && po.ItemCode != "":
		if strings.EqualFold(inv.ItemCode, po.ItemCode) {
			score += itemCodeWeight
		}
	case inv.ItemCode == "" && po.ItemCode == "":
		score += itemCodeBothEmpty
	}

	score += jaccard(inv.Description, po.Description) * descriptionWeight
	score += priceSimilarity(inv.UnitPrice, po.UnitPrice) * unitPriceWeight
	score += quantityReasonableness(inv.Quantity, po.Quantity) * quantityWeight

	return score
}

// jaccard computes set overlap of lowercased words.
func jaccard(a, b string) float64 {
	wa := wordSet(a)
	wb := wordSet(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1.0
	}
	if len(wa) == 0 || len(wb) == 0 {
		return 0.0
	}
	inter := 0
	for w := range wa {
		if wb[w] {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = true
	}
	return set
}

// priceSimilarity is max(0, 1 - |Δ|/po_price).
func priceSimilarity(invPrice, poPrice decimal.Decimal) float64 {
	if poPrice.IsZero() {
		if invPrice.IsZero() {
			return 1.0
		}
		return 0.0
	}
	ratio, _ := invPrice.Sub(poPrice).Abs().Div(poPrice).Float64()
	if ratio > 1 {
		return 0.0
	}
	return 1.0 - ratio
}

// quantityReasonableness is min(a/b, b/a), penalizing quantities far
// apart in either direction.
func quantityReasonableness(a, b decimal.Decimal) float64 {
	if a.IsZero() || b.IsZero() {
		if a.IsZero() && b.IsZero() {
			return 1.0
		}
		return 0.0
	}
	r1, _ := a.Div(b).Float64()
	r2, _ := b.Div(a).Float64()
	if r1 < r2 {
		return r1
	}
	return r2
}

// relativeVariance is |a-b| / max(|a|, |b|), 0 for (0,0).
func relativeVariance(a, b decimal.Decimal) decimal.Decimal {
	if a.IsZero() && b.IsZero() {
		return decimal.Zero
	}
	maxVal := a.Abs()
	if b.Abs().GreaterThan(maxVal) {
		maxVal = b.Abs()
	}
	return a.Sub(b).Abs().Div(maxVal)
}
