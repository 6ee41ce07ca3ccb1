// Package rollup holds the data model shared by every pipeline stage: the
// account state, transaction, batch and proof-record shapes the sequencer,
// state store and settlement worker all pass by value or by small key.
package rollup

import "time"

// Address is an opaque 32-byte layer-1 account address.
type Address [32]byte

// Signature is the base58 text form of a layer-1 transaction signature.
type Signature string

// AccountRecord is the cached, opaque state of a single account.
type AccountRecord struct {
	Lamports   uint64
	Owner      Address
	Data       []byte
	Executable bool
	RentEpoch  uint64
}

// Clone returns a deep copy so callers can mutate the result without
// corrupting the loader's cached entry.
func (a AccountRecord) Clone() AccountRecord {
	data := make([]byte, len(a.Data))
	copy(data, a.Data)
	a.Data = data
	return a
}

// Instruction is one opaque instruction inside a transaction message.
type Instruction struct {
	ProgramIDIndex uint8
	AccountIndexes []uint8
	Data           []byte
}

// Message references the accounts a transaction touches and the
// instructions to run against them.
type Message struct {
	AccountKeys  []Address
	Instructions []Instruction
}

// Transaction is an opaque layer-1 transaction: one or more signatures plus
// a message.
type Transaction struct {
	Signatures []Signature
	Message    Message
}

// FirstSignature returns the transaction's first signature, used to derive
// the transaction index key.
func (t Transaction) FirstSignature() (Signature, bool) {
	if len(t.Signatures) == 0 {
		return "", false
	}
	return t.Signatures[0], true
}

// ProofStatus is the lifecycle state of a batch proof record.
type ProofStatus string

const (
	ProofGenerated ProofStatus = "generated"
	ProofPosted    ProofStatus = "posted"
	ProofVerified  ProofStatus = "verified"
	ProofFailed    ProofStatus = "failed"
)

// MaxRetries bounds a proof record's retry_count.
const MaxRetries = 3

// Groth16Proof is the three coordinate groups produced by the prover
// subprocess, mirroring the snarkjs/on-chain artifact shape.
type Groth16Proof struct {
	PiA      [3]string    `json:"pi_a"`
	PiB      [3][2]string `json:"pi_b"`
	PiC      [3]string    `json:"pi_c"`
	Protocol string       `json:"protocol"`
	Curve    string       `json:"curve"`
}

// BatchProofRecord is the StateStore's record of one batch's proof
// lifecycle.
type BatchProofRecord struct {
	BatchID      string
	Proof        *Groth16Proof
	PublicInputs []string
	Signatures   []Signature
	Status       ProofStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	RetryCount   int
	Error        string

	// ProofFilePath is carried so a retried proof can rebuild the same
	// SettlementJob without re-reading the prover's output directory.
	ProofFilePath string
}

// Batch is a fixed-cardinality ordered group of transactions that together
// produce one proof.
type Batch struct {
	ID           string
	Transactions []Transaction
}

// SettlementJob is what the Sequencer enqueues for the Settlement worker
// once a batch's proof has been generated.
type SettlementJob struct {
	BatchID       string
	Proof         *Groth16Proof
	PublicInputs  []string
	Signatures    []Signature
	ProofFilePath string
}

// BatchCircuitInput is the four-parallel-array payload the prover
// subprocess consumes. Balances are pre-scaled to fit the circuit's
// field-element ranges.
type BatchCircuitInput struct {
	TransferAmounts []uint64 `json:"transfer_amounts"`
	FirstSigBytes   []uint64 `json:"first_sig_bytes"`
	PreBalances     []uint64 `json:"pre_balances"`
	PostBalances    []uint64 `json:"post_balances"`
}
