package statestore

import "github.com/certen/rollup-coordinator/internal/rollup"

// Message is the sum type the StateStore's single goroutine dispatches on.
// Each variant carries its own reply channel (when a reply is expected),
// which is what gives the single-reader/single-writer-per-request property
// without any extra bookkeeping.
type Message interface {
	isMessage()
}

// AddrRecord pairs an address with the account record LockAccounts fetched
// or found cached for it.
type AddrRecord struct {
	Addr   rollup.Address
	Record rollup.AccountRecord
}

type lockAccountsMsg struct {
	addrs []rollup.Address
	reply chan []AddrRecord
}

func (lockAccountsMsg) isMessage() {}

type commitTxMsg struct {
	tx        rollup.Transaction
	postState map[rollup.Address]rollup.AccountRecord
	reply     chan struct{}
}

func (commitTxMsg) isMessage() {}

type getTxResult struct {
	tx    rollup.Transaction
	found bool
}

type getTxMsg struct {
	sig   rollup.Signature
	reply chan getTxResult
}

func (getTxMsg) isMessage() {}

// ListTxResult is the stable page ListTx replies with.
type ListTxResult struct {
	Items   []rollup.Transaction
	Total   int
	HasMore bool
}

type listTxMsg struct {
	offset, limit int
	reply         chan ListTxResult
}

func (listTxMsg) isMessage() {}

type storeProofMsg struct {
	record rollup.BatchProofRecord
	reply  chan struct{}
}

func (storeProofMsg) isMessage() {}

type updateProofStatusMsg struct {
	batchID string
	status  rollup.ProofStatus
	errMsg  string
	reply   chan struct{}
}

func (updateProofStatusMsg) isMessage() {}

type manualRetryMsg struct {
	reply chan int
}

func (manualRetryMsg) isMessage() {}

type autoRetryTickMsg struct{}

func (autoRetryTickMsg) isMessage() {}
