package prover

import "errors"

var (
	ErrSubprocessFailed  = errors.New("prover subprocess exited with a non-zero status")
	ErrArtifactMissing   = errors.New("prover artifact not found at either candidate path")
	ErrArtifactMalformed = errors.New("prover artifact is not valid JSON")
)
