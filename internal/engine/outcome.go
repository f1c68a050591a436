package engine

import "errors"

// Outcome classifies what a completed transition did
type Outcome int

const (
	OutcomeNoOp Outcome = iota
	OutcomeClosedOnly
	OutcomeOpenedDirect
	OutcomeOpenedAfterClose
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClosedOnly:
		return "closed_only"
	case OutcomeOpenedDirect:
		return "opened_direct"
	case OutcomeOpenedAfterClose:
		return "opened_after_close"
	default:
		return "no_op"
	}
}

// Opened reports whether the transition placed an opening order
func (o Outcome) Opened() bool {
	return o == OutcomeOpenedDirect || o == OutcomeOpenedAfterClose
}

// Transition failure classes. Wrapped errors keep the underlying exchange
// error in the chain, so both the class and the cause match errors.Is.
var (
	// ErrInvalidNotional rejects opens with a non-positive or sub-lot notional
	ErrInvalidNotional = errors.New("invalid_notional")

	// ErrPositionQuery means the initial position read failed; nothing was done
	ErrPositionQuery = errors.New("error_getting_position")

	// ErrCloseFailed means the reduce-only close order was rejected
	ErrCloseFailed = errors.New("close_failed")

	// ErrCloseTimeout means the close order was placed but the position
	// never read flat within the bound. Operational state is ambiguous:
	// a human must verify before trusting this account again.
	ErrCloseTimeout = errors.New("close_timeout")

	// ErrOpenFailed means the opening order failed. Any opposing position
	// was already closed by then and is deliberately not reopened.
	ErrOpenFailed = errors.New("open_failed")
)
