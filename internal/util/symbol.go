package util

import (
	"fmt"
	"regexp"
	"strings"
)

var symbolPattern = regexp.MustCompile(`^[A-Z]{1,10}$`)

// NormalizeSymbol trims and upper-cases s and checks that the result is 1-10
// ASCII letters.
func NormalizeSymbol(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if !symbolPattern.MatchString(sym) {
		return "", fmt.Errorf("symbol %q must be 1-10 letters", s)
	}
	return sym, nil
}
