package chain

import (
	"errors"
	"strings"
)

var (
	ErrKeypairEnvUnset  = errors.New("keypair environment variable is not set")
	ErrKeypairMalformed = errors.New("keypair file does not contain a valid hex-encoded private key")
)

// transientSubstrings is the allow-list of RPC error text that settlement
// treats as retryable. "nonce too low" is deliberately excluded: it
// indicates a logic error, not a transient RPC hiccup.
var transientSubstrings = []string{
	"timeout",
	"connection refused",
	"context deadline exceeded",
	"i/o timeout",
	"eof",
	"rate limit",
}

// IsTransient classifies an error returned from a Layer1Client call as
// transient (worth retrying) or permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range transientSubstrings {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}
