package loader

import "errors"

var (
	// ErrAccountUnknown is returned when an account is absent from the
	// cache and the layer-1 fetch also fails to find it.
	ErrAccountUnknown = errors.New("account unknown")
	// ErrNilChainReader is returned by New when constructed without a
	// chain reader.
	ErrNilChainReader = errors.New("chain reader cannot be nil")
)
