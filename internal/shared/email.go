package shared

import (
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeEmail trims and case-folds an address. Every lookup keyed by email
// goes through it. A Caser is stateful, so one is built per call.
func NormalizeEmail(email string) string {
	return cases.Fold().String(strings.TrimSpace(email))
}
