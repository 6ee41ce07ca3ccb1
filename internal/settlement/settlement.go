package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/certen/rollup-coordinator/internal/chain"
	"github.com/certen/rollup-coordinator/internal/metrics"
	"github.com/certen/rollup-coordinator/internal/rollup"
)

// proofAccountSeed prefixes the proof account derivation.
const proofAccountSeed = "groth16_proof"

// DeriveProofAccount stands in for Solana's find_program_address over
// ["groth16_proof", payer, batch_id]: this binding has no Solana PDA
// primitive, so the seed bytes are hashed with keccak256 and folded to a
// 20-byte address instead (see DESIGN.md).
func DeriveProofAccount(payer common.Address, batchID string) common.Address {
	sum := crypto.Keccak256([]byte(proofAccountSeed), payer.Bytes(), []byte(batchID))
	var out common.Address
	copy(out[:], sum[12:])
	return out
}

// verifierInstruction is the settlement transaction's instruction payload,
// JSON-encoded (see DESIGN.md for the encoding decision).
type verifierInstruction struct {
	ProofID      string         `json:"proof_id"`
	Proof        OnchainProof   `json:"proof"`
	PublicInputs [][32]byte     `json:"public_inputs"`
	VerifyingKey *VerifyingKey  `json:"verifying_key,omitempty"`
	ProofAccount common.Address `json:"proof_account"`
}

// ProofStore is the narrow StateStore capability the worker needs.
type ProofStore interface {
	UpdateProofStatus(ctx context.Context, batchID string, status rollup.ProofStatus, errMsg string) error
}

// Config wires a Worker's collaborators.
type Config struct {
	Store            ProofStore
	Chain            chain.Layer1Client
	Keypair          *chain.Keypair
	VerifyingKeyPath string // default build/keys/verification_key_batch.json
	Logger           *log.Logger
	Metrics          *metrics.Metrics // optional; nil disables instrumentation
}

func (c *Config) setDefaults() {
	if c.VerifyingKeyPath == "" {
		c.VerifyingKeyPath = "build/keys/verification_key_batch.json"
	}
	if c.Logger == nil {
		c.Logger = log.New(log.Writer(), "[Settlement] ", log.LstdFlags)
	}
}

// Worker is the single-consumer settlement loop.
type Worker struct {
	jobs   <-chan rollup.SettlementJob
	cfg    Config
	stopCh chan struct{}
	doneCh chan struct{}

	verifyingKey *VerifyingKey // lazily loaded, shared across batches
}

// New constructs a Worker. Start must be called to begin draining jobs.
func New(jobs <-chan rollup.SettlementJob, cfg Config) *Worker {
	cfg.setDefaults()
	return &Worker{jobs: jobs, cfg: cfg}
}

// Start runs the worker loop in a new goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.run(ctx)
}

// Stop signals the loop to exit and waits for it to finish.
func (w *Worker) Stop() {
	if w.stopCh == nil {
		return
	}
	close(w.stopCh)
	<-w.doneCh
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case job := <-w.jobs:
			w.process(ctx, job)
		}
	}
}

func (w *Worker) process(ctx context.Context, job rollup.SettlementJob) {
	if err := w.cfg.Store.UpdateProofStatus(ctx, job.BatchID, rollup.ProofPosted, ""); err != nil {
		w.cfg.Logger.Printf("batch %s: failed to mark posted: %v", job.BatchID, err)
	}

	var (
		payload []byte
		err     error
	)
	if job.Proof != nil {
		payload, err = w.buildProofPayload(job)
	} else {
		payload, err = w.buildFallbackPayload(job)
	}
	if err != nil {
		w.fail(ctx, job.BatchID, err)
		return
	}

	confirmed, txHash, err := w.cfg.Chain.SubmitAndConfirm(ctx, w.cfg.Keypair, payload)
	if err != nil {
		if chain.IsTransient(err) {
			w.cfg.Logger.Printf("batch %s: transient settlement error, eligible for retry: %v", job.BatchID, err)
		} else {
			w.cfg.Logger.Printf("batch %s: permanent settlement error: %v", job.BatchID, err)
		}
		w.fail(ctx, job.BatchID, err)
		return
	}
	if !confirmed {
		w.fail(ctx, job.BatchID, fmt.Errorf("settlement transaction %s did not confirm", txHash))
		return
	}

	if err := w.cfg.Store.UpdateProofStatus(ctx, job.BatchID, rollup.ProofVerified, ""); err != nil {
		w.cfg.Logger.Printf("batch %s: failed to mark verified: %v", job.BatchID, err)
	}
	w.cfg.Logger.Printf("batch %s: settled in %s", job.BatchID, txHash)
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.SettlementAttempts.WithLabelValues("verified").Inc()
	}
}

func (w *Worker) fail(ctx context.Context, batchID string, cause error) {
	if err := w.cfg.Store.UpdateProofStatus(ctx, batchID, rollup.ProofFailed, cause.Error()); err != nil {
		w.cfg.Logger.Printf("batch %s: failed to mark failed: %v", batchID, err)
	}
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.SettlementAttempts.WithLabelValues("failed").Inc()
	}
}

func (w *Worker) buildProofPayload(job rollup.SettlementJob) ([]byte, error) {
	vk, err := w.loadVerifyingKey()
	if err != nil {
		return nil, err
	}
	proof, err := ConvertProof(job.Proof)
	if err != nil {
		return nil, fmt.Errorf("converting proof for batch %s: %w", job.BatchID, err)
	}
	publicInputs, err := ConvertPublicInputs(job.PublicInputs)
	if err != nil {
		return nil, fmt.Errorf("converting public inputs for batch %s: %w", job.BatchID, err)
	}

	ix := verifierInstruction{
		ProofID:      job.BatchID,
		Proof:        proof,
		PublicInputs: publicInputs,
		VerifyingKey: vk,
		ProofAccount: DeriveProofAccount(w.cfg.Keypair.Address, job.BatchID),
	}
	return json.Marshal(ix)
}

// buildFallbackPayload mirrors settle_with_fallback_proof: a recognizable
// no-op payload, submitted as a zero-value self-transfer by the Chain
// client regardless of payload contents.
func (w *Worker) buildFallbackPayload(job rollup.SettlementJob) ([]byte, error) {
	return json.Marshal(map[string]string{
		"type":     "noop_settlement",
		"batch_id": job.BatchID,
	})
}

func (w *Worker) loadVerifyingKey() (*VerifyingKey, error) {
	if w.verifyingKey != nil {
		return w.verifyingKey, nil
	}
	raw, err := os.ReadFile(w.cfg.VerifyingKeyPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", w.cfg.VerifyingKeyPath, ErrVerifyingKeyUnreadable)
	}
	var jvk jsonVerifyingKey
	if err := json.Unmarshal(raw, &jvk); err != nil {
		return nil, fmt.Errorf("%s: %w", w.cfg.VerifyingKeyPath, ErrVerifyingKeyUnreadable)
	}
	vk, err := convertVerifyingKey(jvk)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", w.cfg.VerifyingKeyPath, err)
	}
	w.verifyingKey = &vk
	return w.verifyingKey, nil
}
