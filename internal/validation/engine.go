package validation

import (
	"context"

	"github.com/google/uuid"
)

// Engine runs the rule chain in fixed order against each row. An engine
// carries batch-scoped state (the in-batch duplicate set), so a fresh
// engine is built per import batch.
type Engine struct {
	rules []Rule
}

// NewEngine builds the standard chain for one import batch:
// required fields -> types -> business rules -> vendor -> duplicates.
func NewEngine(tenantID uuid.UUID, lookup VendorLookup) *Engine {
	return &Engine{
		rules: []Rule{
			RequiredFieldsRule{},
			TypesRule{},
			BusinessRulesRule{},
			VendorValidationRule{TenantID: tenantID, Lookup: lookup},
			NewDuplicateDetectionRule(tenantID, lookup),
		},
	}
}

// NewEngineWithRules builds an engine over an explicit chain, used by
// tests and by callers that need a trimmed pipeline.
func NewEngineWithRules(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// Validate runs every rule against the row and collects the findings.
// Later rules still run when earlier ones fail, so a row's diagnostics
// are complete in one pass.
func (e *Engine) Validate(ctx context.Context, row *Row) []Error {
	var errs []Error
	for _, rule := range e.rules {
		errs = append(errs, rule.Validate(ctx, row)...)
	}
	return errs
}
