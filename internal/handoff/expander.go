package handoff

import (
	"fmt"
	"time"

	"finzcore/internal/taxonomy"
	"finzcore/pkg/domain"
)

// Expand prices a canonical baseline into rubros. Labor rows cost
// hours x fte x rate x (1 + oncost/100) per month over their month span;
// non-labor rows cost their amount once, or per month when recurring.
//
// Each rubro's ID is derived from its canonical code, the baseline ID, and a
// running ordinal over the expansion order, so re-expanding the same baseline
// always yields the same identifiers. That derivation, not content
// memoization, is what makes materialization idempotent.
func Expand(b domain.Baseline, lookup taxonomy.Lookup, projectID string, now time.Time) []domain.Rubro {
	rubros := make([]domain.Rubro, 0, len(b.Labor)+len(b.NonLabor))
	ordinal := 0

	for _, e := range b.Labor {
		code := taxonomy.Resolve(lookup, e.Role)
		start, end := clampMonths(e.StartMonth, e.EndMonth)
		months := float64(end - start + 1)
		monthly := e.HoursPerMonth * e.FTECount * e.HourlyRate * (1 + e.OnCostPct/100)
		rubros = append(rubros, domain.Rubro{
			ID:          rubroID(code, b.ID, ordinal),
			ProjectID:   projectID,
			BaselineID:  b.ID,
			Code:        code,
			Kind:        domain.RubroLabor,
			Ordinal:     ordinal,
			Description: e.Role,
			MonthlyCost: monthly,
			TotalCost:   monthly * months,
			StartMonth:  start,
			EndMonth:    end,
			CreatedAt:   now,
		})
		ordinal++
	}

	for _, e := range b.NonLabor {
		code := taxonomy.Resolve(lookup, e.Category)
		start, end := clampMonths(e.StartMonth, e.EndMonth)
		months := float64(end - start + 1)
		monthly, total := 0.0, e.Amount
		if e.Recurring {
			monthly = e.Amount
			total = e.Amount * months
		}
		rubros = append(rubros, domain.Rubro{
			ID:          rubroID(code, b.ID, ordinal),
			ProjectID:   projectID,
			BaselineID:  b.ID,
			Code:        code,
			Kind:        domain.RubroNonLabor,
			Ordinal:     ordinal,
			Description: e.Description,
			MonthlyCost: monthly,
			TotalCost:   total,
			StartMonth:  start,
			EndMonth:    end,
			OneTime:     !e.Recurring,
			CreatedAt:   now,
		})
		ordinal++
	}

	return rubros
}

func rubroID(code, baselineID string, ordinal int) string {
	return fmt.Sprintf("%s#%s#%03d", code, baselineID, ordinal)
}
