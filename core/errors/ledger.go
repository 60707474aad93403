package errors

import stderrors "errors"

var (
	ErrInvalidAmount         = stderrors.New("ledger: amount must be positive")
	ErrInsufficientBalance   = stderrors.New("ledger: insufficient balance")
	ErrInsufficientAllowance = stderrors.New("ledger: insufficient allowance")
	ErrNegativeAllowance     = stderrors.New("ledger: allowance must not be negative")
	ErrBalanceOverflow       = stderrors.New("ledger: balance exceeds 256 bits")
	ErrGenesisAlreadyApplied = stderrors.New("ledger: genesis already applied")
)

// IsInsufficientFunds reports whether err came from a balance or allowance
// shortfall.
func IsInsufficientFunds(err error) bool {
	return stderrors.Is(err, ErrInsufficientBalance) || stderrors.Is(err, ErrInsufficientAllowance)
}
