package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrRuleNotFound      = errors.New("rule_not_found")
	ErrRuleConflict      = errors.New("rule_conflict")
	ErrInvalidRuleType   = errors.New("invalid_rule_type")
	ErrInvalidRuleName   = errors.New("invalid_rule_name")
	ErrInvalidFragment   = errors.New("invalid_rule_fragment")
	ErrInvalidInterval   = errors.New("invalid_effective_interval")
	ErrDuplicateRuleName = errors.New("duplicate_rule_name")
	ErrOverrideNotFound  = errors.New("override_not_found")
	ErrMissingReason     = errors.New("missing_reason")
)

// ResolutionError reports that nothing governs (RuleType, TargetID) at AsOf.
type ResolutionError struct {
	RuleType RuleType
	TargetID string
	AsOf     time.Time
}

func (e *ResolutionError) Error() string {
	target := e.TargetID
	if target == "" {
		target = "*"
	}
	return fmt.Sprintf("%s: no %s rule for target %s at %s", ErrRuleNotFound, e.RuleType, target, e.AsOf.UTC().Format(time.RFC3339))
}

func (e *ResolutionError) Unwrap() error { return ErrRuleNotFound }

// ConflictError reports an override whose interval overlaps an active one.
type ConflictError struct {
	OverrideType RuleType
	TargetID     string
	ExistingID   snowflake.ID
	From         time.Time
	To           *time.Time
}

func (e *ConflictError) Error() string {
	to := "open"
	if e.To != nil {
		to = e.To.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s: %s override for target %q overlaps override %s [%s, %s)",
		ErrRuleConflict, e.OverrideType, e.TargetID, e.ExistingID, e.From.UTC().Format(time.RFC3339), to)
}

func (e *ConflictError) Unwrap() error { return ErrRuleConflict }
