// Package taxonomy maps free-text roles and spend categories to canonical
// rubro codes. The real lookup service is an external collaborator; this
// package defines its interface plus the static table the engine falls back
// on.
package taxonomy

import "strings"

// DefaultCode is the documented fallback for roles and categories the lookup
// cannot map. Unmapped input is never an error.
const DefaultCode = "MOD-GEN"

// Lookup resolves a role or category to a canonical rubro code.
type Lookup interface {
	Code(roleOrCategory string) (string, bool)
}

// Resolve applies the lookup and falls back to DefaultCode when the input is
// empty or unmapped.
func Resolve(l Lookup, roleOrCategory string) string {
	if l != nil {
		if code, ok := l.Code(roleOrCategory); ok {
			return code
		}
	}
	return DefaultCode
}

// Static is an in-memory lookup over a fixed table.
type Static struct {
	codes map[string]string
}

var _ Lookup = (*Static)(nil)

// NewStatic builds a lookup from the given table. Keys are matched
// case-insensitively after trimming.
func NewStatic(codes map[string]string) *Static {
	normalized := make(map[string]string, len(codes))
	for k, v := range codes {
		normalized[normalize(k)] = v
	}
	return &Static{codes: normalized}
}

// Default returns the built-in table covering the roles and non-labor
// categories the estimation side produces.
func Default() *Static {
	return NewStatic(map[string]string{
		"ingeniero":          "MOD-ING",
		"engineer":           "MOD-ING",
		"sdm":                "MOD-SDM",
		"service delivery manager": "MOD-SDM",
		"arquitecto":         "MOD-ARQ",
		"architect":          "MOD-ARQ",
		"pm":                 "MOD-PM",
		"project manager":    "MOD-PM",
		"qa":                 "MOD-QA",
		"software":           "NL-SW",
		"hardware":           "NL-HW",
		"licencias":          "NL-SW",
		"licenses":           "NL-SW",
		"viajes":             "NL-TRV",
		"travel":             "NL-TRV",
		"capacitacion":       "NL-TRN",
		"training":           "NL-TRN",
		"infraestructura":    "NL-INF",
		"infrastructure":     "NL-INF",
	})
}

// Code implements Lookup.
func (s *Static) Code(roleOrCategory string) (string, bool) {
	code, ok := s.codes[normalize(roleOrCategory)]
	return code, ok
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
