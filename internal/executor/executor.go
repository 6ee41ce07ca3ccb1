// Package executor runs a sequencer's candidate batch of transactions
// against the AccountLoader, one instruction kind at a time, and reports a
// tagged outcome per transaction instead of an optional-field result.
package executor

import (
	"context"
	"encoding/binary"

	"github.com/certen/rollup-coordinator/internal/loader"
	"github.com/certen/rollup-coordinator/internal/rollup"
)

// SystemProgramIndex is the well-known program index for the transfer
// instruction this module understands.
const SystemProgramIndex = 0

// TransferDiscriminator identifies a system-transfer instruction, per the
// layout the prover driver also recognizes when extracting amounts.
var TransferDiscriminator = [4]byte{2, 0, 0, 0}

// ComputeBudget bounds the number of instructions a single transaction may
// run; exceeding it fails the transaction rather than hanging the batch.
const ComputeBudget = 64

// Outcome is the tagged result of executing one transaction. Exactly one of
// the concrete types below is returned.
type Outcome interface {
	isOutcome()
}

// Executed means the transaction ran to completion and touched the
// returned addresses.
type Executed struct {
	PostState map[rollup.Address]rollup.AccountRecord
}

// Failed means the transaction's execution produced an error; the batch
// containing it is invalid.
type Failed struct {
	Err error
}

// NoEffect means the transaction loaded but mutated nothing; it is treated
// the same as a batch failure.
type NoEffect struct{}

func (Executed) isOutcome() {}
func (Failed) isOutcome()   {}
func (NoEffect) isOutcome() {}

// Env carries the per-batch execution environment. It currently holds only
// the context used for loader reads (nil means context.Background()), and is
// kept distinct from the loader so callers can thread deadlines or feature
// flags through without changing the Execute signature.
type Env struct {
	Ctx context.Context
}

// Execute runs a batch's transactions in submission order against loader,
// applying each transaction's post-state before running the next so that
// intra-batch data dependencies are observed. It returns one Outcome per
// transaction, always len(results) == len(batch).
func Execute(batch []rollup.Transaction, l *loader.AccountLoader, env Env) []Outcome {
	ctx := env.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	results := make([]Outcome, len(batch))
	for i, tx := range batch {
		results[i] = executeOne(ctx, tx, l)
		if exec, ok := results[i].(Executed); ok {
			for addr, rec := range exec.PostState {
				l.Put(addr, rec)
			}
		}
	}
	return results
}

// Succeeded reports whether every outcome is Executed, per the batch-level
// success rule: one Failed or NoEffect invalidates the whole batch.
func Succeeded(results []Outcome) bool {
	for _, r := range results {
		if _, ok := r.(Executed); !ok {
			return false
		}
	}
	return true
}

func executeOne(ctx context.Context, tx rollup.Transaction, l *loader.AccountLoader) Outcome {
	if _, ok := tx.FirstSignature(); !ok {
		return Failed{Err: ErrSignatureInvalid}
	}
	if len(tx.Message.Instructions) == 0 {
		return Failed{Err: ErrNoInstructions}
	}
	if len(tx.Message.Instructions) > ComputeBudget {
		return Failed{Err: ErrMalformedInstruction}
	}

	inst := tx.Message.Instructions[0]
	if int(inst.ProgramIDIndex) != SystemProgramIndex {
		return Failed{Err: ErrUnknownProgram}
	}
	if len(inst.AccountIndexes) < 2 {
		return Failed{Err: ErrMalformedInstruction}
	}
	if len(inst.Data) < 12 || [4]byte(inst.Data[:4]) != TransferDiscriminator {
		return Failed{Err: ErrMalformedInstruction}
	}
	amount := binary.LittleEndian.Uint64(inst.Data[4:12])

	fromIdx, toIdx := inst.AccountIndexes[0], inst.AccountIndexes[1]
	if int(fromIdx) >= len(tx.Message.AccountKeys) || int(toIdx) >= len(tx.Message.AccountKeys) {
		return Failed{Err: ErrAccountNotTouched}
	}
	from := tx.Message.AccountKeys[fromIdx]
	to := tx.Message.AccountKeys[toIdx]

	if amount == 0 {
		return NoEffect{}
	}

	fromRec, err := l.Get(ctx, from)
	if err != nil {
		return Failed{Err: err}
	}
	toRec, err := l.Get(ctx, to)
	if err != nil {
		return Failed{Err: err}
	}

	if fromRec.Lamports < amount {
		return Failed{Err: ErrInsufficientFunds}
	}

	fromRec.Lamports -= amount
	toRec.Lamports += amount

	post := map[rollup.Address]rollup.AccountRecord{
		from: fromRec,
	}
	if to == from {
		// Self-transfer: net effect is zero, matches the NoEffect rule.
		return NoEffect{}
	}
	post[to] = toRec

	return Executed{PostState: post}
}
