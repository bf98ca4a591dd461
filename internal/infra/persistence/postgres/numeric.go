package postgres

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// decimalFromText converts a numeric column selected with ::text into a
// decimal. Empty text is an error: numeric columns in the mirror are NOT NULL.
func decimalFromText(value string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return decimal.Decimal{}, fmt.Errorf("numeric value required")
	}
	out, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse numeric %q: %w", trimmed, err)
	}
	return out, nil
}

// decimalsFromTexts converts a numeric array selected as text elements.
func decimalsFromTexts(values []string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, 0, len(values))
	for _, value := range values {
		d, err := decimalFromText(value)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
