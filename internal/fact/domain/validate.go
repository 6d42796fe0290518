package domain

import (
	"fmt"
	"time"
)

// ValidateCost flags costs that must be excluded from financial aggregates.
func ValidateCost(c Cost, asOf time.Time) error {
	if !c.CostType.Valid() {
		return fmt.Errorf("%w: unknown cost_type %q", ErrInvalidAmount, c.CostType)
	}
	if !c.Amount.IsPositive() {
		return fmt.Errorf("%w: cost amount %s is not positive", ErrInvalidAmount, c.Amount.String())
	}
	if c.CostDate.After(asOf) {
		return fmt.Errorf("%w: cost dated %s is after %s", ErrInvalidAmount, c.CostDate.Format(time.DateOnly), asOf.Format(time.RFC3339))
	}
	return nil
}

// ValidateRevenue flags revenue that must be excluded from financial aggregates.
func ValidateRevenue(r RevenueEvent, asOf time.Time) error {
	if !r.Source.Valid() {
		return fmt.Errorf("%w: unknown revenue source %q", ErrInvalidAmount, r.Source)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: revenue amount %s is not positive", ErrInvalidAmount, r.Amount.String())
	}
	if r.RevenueDate.After(asOf) {
		return fmt.Errorf("%w: revenue dated %s is after %s", ErrInvalidAmount, r.RevenueDate.Format(time.DateOnly), asOf.Format(time.RFC3339))
	}
	return nil
}
