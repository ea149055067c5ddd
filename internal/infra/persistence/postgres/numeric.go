package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// numericFromDecimal converts a decimal into a pgtype.Numeric value.
func numericFromDecimal(value decimal.Decimal) (pgtype.Numeric, error) {
	var out pgtype.Numeric
	if err := out.Scan(value.String()); err != nil {
		return out, fmt.Errorf("parse numeric %q: %w", value.String(), err)
	}
	return out, nil
}

// decimalFromNumeric converts a pgtype.Numeric column back into a decimal.
func decimalFromNumeric(value pgtype.Numeric) (decimal.Decimal, error) {
	if !value.Valid {
		return decimal.Zero, nil
	}
	driverValue, err := value.Value()
	if err != nil {
		return decimal.Zero, fmt.Errorf("read numeric: %w", err)
	}
	text, ok := driverValue.(string)
	if !ok {
		return decimal.Zero, fmt.Errorf("read numeric: unexpected driver type %T", driverValue)
	}
	out, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read numeric %q: %w", text, err)
	}
	return out, nil
}
