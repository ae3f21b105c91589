package engine

import (
	"time"

	"sourceline/internal/domain"
)

// Decision is the admission verdict for a bid-affecting operation.
type Decision int

const (
	Admit Decision = iota
	DeadlinePassed
	NotOpen
)

func (d Decision) String() string {
	switch d {
	case Admit:
		return "admit"
	case DeadlinePassed:
		return "deadline_passed"
	default:
		return "not_open"
	}
}

// Admissible is the single gating authority for submissions, updates and
// withdrawals. Admit iff the RFQ is open and now is at or before the
// deadline. The deadline is checked first so a late operation reports
// deadline_passed regardless of RFQ status.
func Admissible(rfq domain.RFQ, now time.Time) Decision {
	deadline, err := time.Parse(time.RFC3339, rfq.Deadline)
	if err != nil || now.After(deadline) {
		return DeadlinePassed
	}
	if rfq.Status != domain.RFQOpen {
		return NotOpen
	}
	return Admit
}

// admit maps a non-admit decision to the ConflictError returned to callers.
func (e Engine) admit(rfq domain.RFQ) error {
	switch Admissible(rfq, e.now()) {
	case Admit:
		return nil
	case DeadlinePassed:
		return conflict("deadline", "rfq %s deadline has passed", rfq.ID)
	default:
		return conflict("rfq_not_open", "rfq %s is %s", rfq.ID, rfq.Status)
	}
}
