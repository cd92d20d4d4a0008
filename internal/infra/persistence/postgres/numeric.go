package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// numericFromDecimal converts a decimal value into a pgtype.Numeric value.
func numericFromDecimal(value decimal.Decimal) (pgtype.Numeric, error) {
	var out pgtype.Numeric
	if err := out.Scan(value.String()); err != nil {
		return out, fmt.Errorf("parse numeric %q: %w", value.String(), err)
	}
	return out, nil
}
