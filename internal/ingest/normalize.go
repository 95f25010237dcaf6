package ingest

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aristath/cryptocore/internal/errs"
	"github.com/aristath/cryptocore/pkg/types"
)

// maxSaneMagnitude rejects wire values whose magnitude is implausible for
// any real price or quantity, guarding against a malformed or adversarial
// feed silently entering the store.
var maxSaneMagnitude = decimal.New(1, 12)

func validatePositive(field string, v decimal.Decimal) error {
	if v.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: %s must be > 0, got %s", errs.ErrUnsupportedSymbol, field, v.String())
	}
	if v.Abs().GreaterThan(maxSaneMagnitude) {
		return fmt.Errorf("%w: %s magnitude %s exceeds sanity bound", errs.ErrUnsupportedSymbol, field, v.String())
	}
	return nil
}

// ValidateTick rejects ticks with a non-positive or implausible price or quantity.
func ValidateTick(t types.Tick) error {
	if err := validatePositive("price", t.Price); err != nil {
		return err
	}
	if err := validatePositive("quantity", t.Quantity); err != nil {
		return err
	}
	return nil
}

// ValidateL1 rejects quotes with a crossed or implausible book.
func ValidateL1(q types.L1Quote) error {
	if err := validatePositive("bid", q.Bid); err != nil {
		return err
	}
	if err := validatePositive("ask", q.Ask); err != nil {
		return err
	}
	if q.Bid.GreaterThan(q.Ask) {
		return fmt.Errorf("%w: crossed book, bid %s > ask %s", errs.ErrUnsupportedSymbol, q.Bid, q.Ask)
	}
	return nil
}

// ValidateL2Level rejects a single book level with a non-positive price or a
// negative quantity; a zero quantity is accepted.
func ValidateL2Level(l types.L2Level) error {
	if err := validatePositive("level price", l.Price); err != nil {
		return err
	}
	if l.Quantity.LessThan(decimal.Zero) {
		return fmt.Errorf("%w: level quantity must be >= 0, got %s", errs.ErrUnsupportedSymbol, l.Quantity.String())
	}
	return nil
}

// FilterValidLevels drops any level that fails ValidateL2Level, preserving order.
func FilterValidLevels(levels []types.L2Level) []types.L2Level {
	out := make([]types.L2Level, 0, len(levels))
	for _, l := range levels {
		if ValidateL2Level(l) == nil {
			out = append(out, l)
		}
	}
	return out
}
