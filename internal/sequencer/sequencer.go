// Package sequencer implements the pipeline's ingress actor: it buffers
// incoming transactions into fixed-size batches, drives account locking,
// execution, proving, and commit, and hands successful batches off to the
// settlement worker. It owns no state beyond its own buffer and the
// AccountLoader; everything else it reaches by message.
package sequencer

import (
	"context"
	"log"
	"time"

	"github.com/certen/rollup-coordinator/internal/executor"
	"github.com/certen/rollup-coordinator/internal/loader"
	"github.com/certen/rollup-coordinator/internal/metrics"
	"github.com/certen/rollup-coordinator/internal/rollup"
	"github.com/certen/rollup-coordinator/internal/statestore"
)

// StateStore is the narrow capability the Sequencer needs from the
// StateStore actor: lock accounts before executing a batch, commit each
// successfully-executed transaction, and store the resulting proof.
type StateStore interface {
	LockAccounts(ctx context.Context, addrs []rollup.Address) ([]statestore.AddrRecord, error)
	CommitTx(ctx context.Context, tx rollup.Transaction, postState map[rollup.Address]rollup.AccountRecord) error
	StoreProof(ctx context.Context, record rollup.BatchProofRecord) error
	UpdateProofStatus(ctx context.Context, batchID string, status rollup.ProofStatus, errMsg string) error
}

// Prover is the narrow capability the Sequencer needs from the prover
// driver.
type Prover interface {
	BuildInput(ctx context.Context, batch []rollup.Transaction, l *loader.AccountLoader) (rollup.BatchCircuitInput, error)
	Run(ctx context.Context, batchID string, input rollup.BatchCircuitInput) (*rollup.Groth16Proof, string, error)
	ReadPublicInputs() ([]string, error)
}

// DefaultBatchSize is the fixed batch cardinality.
const DefaultBatchSize = 3

// lockTimeout bounds how long the Sequencer waits for a LockAccounts reply
// before dropping the batch.
const lockTimeout = 2 * time.Second

// Config wires a Sequencer's collaborators.
type Config struct {
	Store     StateStore
	Loader    *loader.AccountLoader
	Prover    Prover
	BatchSize int
	Settle    chan<- rollup.SettlementJob
	Logger    *log.Logger
	Metrics   *metrics.Metrics // optional; nil disables instrumentation
}

func (c *Config) setDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Logger == nil {
		c.Logger = log.New(log.Writer(), "[Sequencer] ", log.LstdFlags)
	}
}

// Sequencer pulls transactions from an ingress channel, accumulates a
// fixed-size batch, and drives it through locking, execution, proving, and
// settlement hand-off.
type Sequencer struct {
	cfg    Config
	buffer []rollup.Transaction

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Sequencer. Start must be called to begin draining ingress.
func New(cfg Config) *Sequencer {
	cfg.setDefaults()
	return &Sequencer{
		cfg:    cfg,
		buffer: make([]rollup.Transaction, 0, cfg.BatchSize),
	}
}

// Start runs the Sequencer's receive loop in a new goroutine, draining txs.
func (s *Sequencer) Start(ctx context.Context, ingress <-chan rollup.Transaction) {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(ctx, ingress)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Sequencer) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
}

func (s *Sequencer) run(ctx context.Context, ingress <-chan rollup.Transaction) {
	defer close(s.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case tx := <-ingress:
			s.buffer = append(s.buffer, tx)
			if len(s.buffer) >= s.cfg.BatchSize {
				s.drainBatch(ctx)
			}
		}
	}
}

// drainBatch runs the pending buffer through the full
// lock -> execute -> commit -> prove -> settle pipeline, then always clears
// the buffer regardless of outcome.
func (s *Sequencer) drainBatch(ctx context.Context) {
	txs := s.buffer
	s.buffer = make([]rollup.Transaction, 0, s.cfg.BatchSize)

	addrs := unionAccountKeys(txs)

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	recs, err := s.cfg.Store.LockAccounts(lockCtx, addrs)
	cancel()
	if err != nil || len(recs) == 0 {
		s.cfg.Logger.Printf("lock accounts failed or empty reply, dropping batch: %v", err)
		return
	}
	for _, r := range recs {
		s.cfg.Loader.Put(r.Addr, r.Record)
	}

	results := executor.Execute(txs, s.cfg.Loader, executor.Env{Ctx: ctx})
	if !executor.Succeeded(results) {
		s.cfg.Logger.Printf("batch failed execution, dropping (%d txs, no commit, no proof)", len(txs))
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.BatchesFailed.Inc()
		}
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.BatchesSequenced.Inc()
	}

	for i, tx := range txs {
		exec := results[i].(executor.Executed)
		if err := s.cfg.Store.CommitTx(ctx, tx, exec.PostState); err != nil {
			s.cfg.Logger.Printf("commit tx %d failed: %v", i, err)
		}
	}

	batch := rollup.Batch{
		ID:           newBatchID(txs),
		Transactions: txs,
	}

	input, err := s.cfg.Prover.BuildInput(ctx, batch.Transactions, s.cfg.Loader)
	if err != nil {
		s.cfg.Logger.Printf("batch %s: building circuit input failed: %v", batch.ID, err)
		return
	}
	proof, proofPath, err := s.cfg.Prover.Run(ctx, batch.ID, input)
	if err != nil {
		s.cfg.Logger.Printf("batch %s: prover failed, transactions committed but unproven: %v", batch.ID, err)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.ProofsFailed.Inc()
		}
		return
	}
	publicInputs, err := s.cfg.Prover.ReadPublicInputs()
	if err != nil {
		s.cfg.Logger.Printf("batch %s: reading public inputs failed, transactions committed but unproven: %v", batch.ID, err)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.ProofsFailed.Inc()
		}
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ProofsGenerated.Inc()
	}

	sigs := signaturesOf(txs)
	record := rollup.BatchProofRecord{
		BatchID:       batch.ID,
		Proof:         proof,
		PublicInputs:  publicInputs,
		Signatures:    sigs,
		ProofFilePath: proofPath,
	}
	if err := s.cfg.Store.StoreProof(ctx, record); err != nil {
		s.cfg.Logger.Printf("batch %s: store proof failed: %v", batch.ID, err)
		return
	}

	job := rollup.SettlementJob{
		BatchID:       batch.ID,
		Proof:         proof,
		PublicInputs:  record.PublicInputs,
		Signatures:    sigs,
		ProofFilePath: proofPath,
	}
	select {
	case s.cfg.Settle <- job:
	default:
		// Mark Failed so the retry machinery can requeue it later; a proof
		// left at Generated is invisible to both retry paths.
		s.cfg.Logger.Printf("batch %s: settlement queue full, marking proof failed for retry", batch.ID)
		if err := s.cfg.Store.UpdateProofStatus(ctx, batch.ID, rollup.ProofFailed, "settlement queue full or disconnected"); err != nil {
			s.cfg.Logger.Printf("batch %s: marking proof failed: %v", batch.ID, err)
		}
	}
}

func unionAccountKeys(txs []rollup.Transaction) []rollup.Address {
	seen := make(map[rollup.Address]struct{})
	out := make([]rollup.Address, 0)
	for _, tx := range txs {
		for _, addr := range tx.Message.AccountKeys {
			if _, ok := seen[addr]; !ok {
				seen[addr] = struct{}{}
				out = append(out, addr)
			}
		}
	}
	return out
}

func signaturesOf(txs []rollup.Transaction) []rollup.Signature {
	sigs := make([]rollup.Signature, 0, len(txs))
	for _, tx := range txs {
		if sig, ok := tx.FirstSignature(); ok {
			sigs = append(sigs, sig)
		}
	}
	return sigs
}

func newBatchID(txs []rollup.Transaction) string {
	return rollup.NewBatchID(time.Now(), signaturesOf(txs))
}
