package settlement

import "errors"

var (
	ErrFieldElementOutOfRange = errors.New("decimal string is not a valid BN254 field element")
	ErrFieldElementNegative   = errors.New("decimal string encodes a negative number")
	ErrVerifyingKeyUnreadable = errors.New("verification key file could not be read or parsed")
)
