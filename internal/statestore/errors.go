package statestore

import "errors"

var (
	ErrTxNotFound     = errors.New("transaction not found")
	ErrBatchNotFound  = errors.New("batch proof record not found")
	ErrSettlementFull = errors.New("settlement queue full or disconnected")
)
