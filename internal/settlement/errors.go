package settlement

import (
	fpmath "CoverLedger/internal/math"
	"errors"
	"fmt"
)

var (
	// ErrStaleSnapshot: an update ran before BeforeUpdate for the current epoch.
	ErrStaleSnapshot = errors.New("stale epoch snapshot")
	// ErrInsufficientBalance: a withdrawal exceeds what the account holds.
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnknownCategory     = errors.New("unknown category")
	ErrUnknownAccount      = errors.New("unknown account")
	ErrInvalidAmount       = errors.New("invalid amount")
	// ErrAmountOverflow: a category total no longer fits in int64.
	ErrAmountOverflow = errors.New("amount overflow")
)

// checkAmount rejects amounts outside (0, MaxAmount].
func checkAmount(op string, amount int64) error {
	if amount <= 0 || amount > fpmath.MaxAmount {
		return fmt.Errorf("%w: %s %d", ErrInvalidAmount, op, amount)
	}
	return nil
}
