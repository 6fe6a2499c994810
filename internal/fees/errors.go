package fees

import (
	"fmt"
	"strings"

	"github.com/school-portal/portal/internal/shared"
)

// SkipReason explains why a collection item recorded nothing.
type SkipReason string

const (
	// SkipNotFound marks an item naming a fee structure that does not exist.
	SkipNotFound SkipReason = "not_found"
	// SkipAlreadyPaid marks an item whose obligation is fully settled.
	SkipAlreadyPaid SkipReason = "already_paid"
	// SkipNotApplicable marks an item whose fee structure is not among the
	// student's resolved obligations.
	SkipNotApplicable SkipReason = "not_applicable"
)

// SkippedItem is a collection item that recorded nothing.
type SkippedItem struct {
	FeeStructureID int64      `json:"fee_structure_id"`
	Reason         SkipReason `json:"reason"`
}

// Exhaustion reasons reported when a collection records nothing.
const (
	ExhaustedAllPaid      = "all_already_paid"
	ExhaustedNoValidItems = "no_valid_items"
)

// AllocationExhaustedError is returned when every submitted item was skipped.
type AllocationExhaustedError struct {
	Reason  string
	Skipped []SkippedItem
}

func newAllocationExhausted(skipped []SkippedItem) *AllocationExhaustedError {
	reason := ExhaustedAllPaid
	for _, item := range skipped {
		if item.Reason != SkipAlreadyPaid {
			reason = ExhaustedNoValidItems
			break
		}
	}
	return &AllocationExhaustedError{Reason: reason, Skipped: skipped}
}

func (e *AllocationExhaustedError) Error() string {
	if e.Reason == ExhaustedAllPaid {
		return "nothing collected: all selected fees are already paid"
	}
	reasons := make([]string, 0, len(e.Skipped))
	for _, item := range e.Skipped {
		reasons = append(reasons, fmt.Sprintf("%d:%s", item.FeeStructureID, item.Reason))
	}
	return "nothing collected: no valid items (" + strings.Join(reasons, ", ") + ")"
}

func (e *AllocationExhaustedError) Unwrap() error {
	return shared.ErrAllocationExhausted
}

// ErrorData exposes the skip detail to the response envelope.
func (e *AllocationExhaustedError) ErrorData() any {
	return map[string]any{"reason": e.Reason, "skipped": e.Skipped}
}

func notFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, shared.ErrNotFound)
}

func conflict(msg string) error {
	return fmt.Errorf("%s: %w", msg, shared.ErrConflict)
}
