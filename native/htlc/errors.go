package htlc

import "errors"

var (
	ErrNilState           = errors.New("htlc: state not configured")
	ErrInvalidParty       = errors.New("htlc: invalid party")
	ErrInvalidAmount      = errors.New("htlc: amount must be positive")
	ErrInvalidTimelock    = errors.New("htlc: timelock must be positive")
	ErrInsufficientFunds  = errors.New("htlc: insufficient funds")
	ErrDuplicateOrder     = errors.New("htlc: order already exists")
	ErrOrderNotFound      = errors.New("htlc: order not found")
	ErrAlreadyFulfilled   = errors.New("htlc: order already fulfilled")
	ErrSecretMismatch     = errors.New("htlc: secret does not match hash")
	ErrTimelockNotExpired = errors.New("htlc: timelock not expired")
	ErrSignatureInvalid   = errors.New("htlc: invalid initiator signature")
)
