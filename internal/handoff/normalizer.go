package handoff

import (
	"encoding/json"
	"strconv"
	"strings"

	"finzcore/pkg/domain"
)

// NormalizeBaseline converts a raw baseline payload of unknown shape into the
// canonical Baseline. The estimation side has produced several generations of
// payloads: fields may sit under a "payload" wrapper, be named in snake_case
// or camelCase, or be absent entirely. Normalization never fails; a payload
// with no estimates yields empty sequences, which is a valid state the caller
// reports, not an error.
func NormalizeBaseline(raw map[string]any) domain.Baseline {
	fields := unwrap(raw)

	b := domain.Baseline{
		ID:             str(fields, "baseline_id", "baselineId"),
		ProjectName:    str(fields, "project_name", "projectName"),
		ClientName:     str(fields, "client_name", "clientName"),
		Currency:       str(fields, "currency"),
		DurationMonths: integer(fields, "duration_months", "durationMonths"),
		Labor:          []domain.LaborEstimate{},
		NonLabor:       []domain.NonLaborEstimate{},
	}

	for _, row := range rows(fields, "labor_estimates", "laborEstimates") {
		start, end := clampMonths(
			integer(row, "start_month", "startMonth"),
			integer(row, "end_month", "endMonth"),
		)
		b.Labor = append(b.Labor, domain.LaborEstimate{
			Role:          str(row, "role"),
			HoursPerMonth: number(row, "hours_per_month", "hoursPerMonth"),
			FTECount:      number(row, "fte_count", "fteCount"),
			HourlyRate:    number(row, "hourly_rate", "hourlyRate"),
			OnCostPct:     number(row, "on_cost_percentage", "onCostPercentage"),
			StartMonth:    start,
			EndMonth:      end,
		})
	}

	for _, row := range rows(fields, "non_labor_estimates", "nonLaborEstimates") {
		start, end := clampMonths(
			integer(row, "start_month", "startMonth"),
			integer(row, "end_month", "endMonth"),
		)
		b.NonLabor = append(b.NonLabor, domain.NonLaborEstimate{
			Category:    str(row, "category"),
			Description: str(row, "description"),
			Amount:      number(row, "amount"),
			Recurring:   recurring(row),
			StartMonth:  start,
			EndMonth:    end,
		})
	}

	return b
}

// unwrap flattens an optional "payload" wrapper, with inner fields taking
// precedence over outer ones.
func unwrap(raw map[string]any) map[string]any {
	inner, ok := raw["payload"].(map[string]any)
	if !ok {
		return raw
	}
	merged := make(map[string]any, len(raw)+len(inner))
	for k, v := range raw {
		merged[k] = v
	}
	for k, v := range inner {
		merged[k] = v
	}
	return merged
}

// pick returns the first present value among the candidate field names.
func pick(m map[string]any, names ...string) (any, bool) {
	for _, name := range names {
		if v, ok := m[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func rows(m map[string]any, names ...string) []map[string]any {
	v, ok := pick(m, names...)
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []map[string]any
	for _, entry := range list {
		if row, ok := entry.(map[string]any); ok {
			out = append(out, row)
		}
	}
	return out
}

func str(m map[string]any, names ...string) string {
	v, ok := pick(m, names...)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func number(m map[string]any, names ...string) float64 {
	v, ok := pick(m, names...)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f
	default:
		return 0
	}
}

func integer(m map[string]any, names ...string) int {
	return int(number(m, names...))
}

// recurring reads the spend cadence, tolerating both a boolean field and the
// older "type": "recurring"|"one_time" convention.
func recurring(row map[string]any) bool {
	if v, ok := pick(row, "recurring"); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	if v, ok := pick(row, "one_time", "oneTime"); ok {
		if b, ok := v.(bool); ok {
			return !b
		}
	}
	switch strings.ToLower(str(row, "type")) {
	case "recurring":
		return true
	case "one_time", "one-time":
		return false
	}
	return false
}

// clampMonths enforces 1 <= start <= end.
func clampMonths(start, end int) (int, int) {
	if start < 1 {
		start = 1
	}
	if end < start {
		end = start
	}
	return start, end
}
