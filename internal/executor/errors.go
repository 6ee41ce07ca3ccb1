package executor

import "errors"

var (
	ErrSignatureInvalid     = errors.New("signature invalid")
	ErrNoInstructions       = errors.New("transaction carries no instructions")
	ErrUnknownProgram       = errors.New("unknown program index")
	ErrMalformedInstruction = errors.New("malformed instruction data")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrAccountNotTouched    = errors.New("account not found in referenced keys")
)
