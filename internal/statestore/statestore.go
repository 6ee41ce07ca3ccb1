// Package statestore implements the single-owner authority over account
// state, the locked-account set, the transaction index, and the batch-proof
// registry. Every mutable map lives on one goroutine; all outside access is
// by message, never by shared pointer or mutex.
package statestore

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/certen/rollup-coordinator/internal/metrics"
	"github.com/certen/rollup-coordinator/internal/rollup"
)

// ChainReader is the narrow layer-1 read capability LockAccounts needs on a
// cache miss. Kept local (rather than importing internal/chain) so this
// package has no dependency on the concrete RPC client.
type ChainReader interface {
	GetAccount(ctx context.Context, addr rollup.Address) (rollup.AccountRecord, error)
}

// requestBuffer sizes the request channel. Go channels aren't truly
// unbounded; a generous buffer approximates an unbounded FIFO without
// requiring a growable-channel library.
const requestBuffer = 256

// Config wires a StateStore's external collaborators.
type Config struct {
	Chain      ChainReader
	Settlement chan<- rollup.SettlementJob
	Logger     *log.Logger
	Metrics    *metrics.Metrics // optional; nil disables instrumentation
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = log.New(log.Writer(), "[StateStore] ", log.LstdFlags)
	}
}

// StateStore is the pipeline's single-owner actor.
type StateStore struct {
	requests   chan Message
	chain      ChainReader
	settlement chan<- rollup.SettlementJob
	logger     *log.Logger

	available  map[rollup.Address]rollup.AccountRecord
	locked     map[rollup.Address]struct{}
	txIndex    map[string]rollup.Transaction
	proofs     map[string]*rollup.BatchProofRecord
	sigToBatch map[rollup.Signature]string
	breaker    circuitBreaker
	metrics    *metrics.Metrics
}

// New constructs a StateStore. Run must be called to start its goroutine.
func New(cfg Config) *StateStore {
	cfg.setDefaults()
	return &StateStore{
		requests:   make(chan Message, requestBuffer),
		chain:      cfg.Chain,
		settlement: cfg.Settlement,
		logger:     cfg.Logger,
		available:  make(map[rollup.Address]rollup.AccountRecord),
		locked:     make(map[rollup.Address]struct{}),
		txIndex:    make(map[string]rollup.Transaction),
		proofs:     make(map[string]*rollup.BatchProofRecord),
		sigToBatch: make(map[rollup.Signature]string),
		metrics:    cfg.Metrics,
	}
}

// Run is the StateStore's receive loop. It processes at most one message
// after ctx is cancelled, then returns, per the shared shutdown contract.
func (s *StateStore) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.requests:
			s.handle(ctx, msg)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (s *StateStore) send(ctx context.Context, msg Message) error {
	select {
	case s.requests <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *StateStore) handle(ctx context.Context, msg Message) {
	switch m := msg.(type) {
	case lockAccountsMsg:
		s.handleLockAccounts(ctx, m)
	case commitTxMsg:
		s.handleCommitTx(m)
	case getTxMsg:
		s.handleGetTx(m)
	case listTxMsg:
		s.handleListTx(m)
	case storeProofMsg:
		s.handleStoreProof(m)
	case updateProofStatusMsg:
		s.handleUpdateProofStatus(m)
	case manualRetryMsg:
		s.handleRetryCycle(m.reply, false)
	case autoRetryTickMsg:
		s.handleRetryCycle(nil, true)
	default:
		s.logger.Printf("unknown message type %T", msg)
	}
}

// LockAccounts moves each address from available to locked, fetching it
// from layer-1 on a cache miss. Addresses that fail to load are logged and
// omitted from the reply; the caller proceeds with a partial set.
func (s *StateStore) LockAccounts(ctx context.Context, addrs []rollup.Address) ([]AddrRecord, error) {
	reply := make(chan []AddrRecord, 1)
	if err := s.send(ctx, lockAccountsMsg{addrs: addrs, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case recs := <-reply:
		return recs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *StateStore) handleLockAccounts(ctx context.Context, m lockAccountsMsg) {
	out := make([]AddrRecord, 0, len(m.addrs))
	for _, addr := range m.addrs {
		if _, isLocked := s.locked[addr]; isLocked {
			s.logger.Printf("lock: %x already locked, skipping", addr)
			continue
		}
		rec, ok := s.available[addr]
		if !ok {
			fetched, err := s.chain.GetAccount(ctx, addr)
			if err != nil {
				s.logger.Printf("lock: fetch %x failed: %v", addr, err)
				continue
			}
			rec = fetched
		} else {
			delete(s.available, addr)
		}
		s.locked[addr] = struct{}{}
		out = append(out, AddrRecord{Addr: addr, Record: rec})
	}
	m.reply <- out
}

// CommitTx writes post_state into available, releases the transaction's
// accounts from locked, and indexes the transaction by its first
// signature's keccak key.
func (s *StateStore) CommitTx(ctx context.Context, tx rollup.Transaction, postState map[rollup.Address]rollup.AccountRecord) error {
	reply := make(chan struct{}, 1)
	if err := s.send(ctx, commitTxMsg{tx: tx, postState: postState, reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *StateStore) handleCommitTx(m commitTxMsg) {
	for addr, rec := range m.postState {
		s.available[addr] = rec
	}
	for _, addr := range m.tx.Message.AccountKeys {
		delete(s.locked, addr)
	}
	if sig, ok := m.tx.FirstSignature(); ok {
		s.txIndex[rollup.TxIndexKey(sig)] = m.tx
	}
	if m.reply != nil {
		m.reply <- struct{}{}
	}
}

// GetTx looks up a transaction by the base58 text of its first signature.
func (s *StateStore) GetTx(ctx context.Context, sig rollup.Signature) (rollup.Transaction, bool, error) {
	reply := make(chan getTxResult, 1)
	if err := s.send(ctx, getTxMsg{sig: sig, reply: reply}); err != nil {
		return rollup.Transaction{}, false, err
	}
	select {
	case res := <-reply:
		return res.tx, res.found, nil
	case <-ctx.Done():
		return rollup.Transaction{}, false, ctx.Err()
	}
}

func (s *StateStore) handleGetTx(m getTxMsg) {
	tx, found := s.txIndex[rollup.TxIndexKey(m.sig)]
	m.reply <- getTxResult{tx: tx, found: found}
}

// ListTx returns a stable page over the transaction index sorted
// deterministically (descending by first-signature text, tie-broken by
// index key). limit is clamped to [1,500].
func (s *StateStore) ListTx(ctx context.Context, offset, limit int) (ListTxResult, error) {
	reply := make(chan ListTxResult, 1)
	if err := s.send(ctx, listTxMsg{offset: offset, limit: limit, reply: reply}); err != nil {
		return ListTxResult{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return ListTxResult{}, ctx.Err()
	}
}

type indexedTx struct {
	key string
	tx  rollup.Transaction
}

func (s *StateStore) handleListTx(m listTxMsg) {
	limit := m.limit
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}
	offset := m.offset
	if offset < 0 {
		offset = 0
	}

	entries := make([]indexedTx, 0, len(s.txIndex))
	for k, tx := range s.txIndex {
		entries = append(entries, indexedTx{key: k, tx: tx})
	}
	sort.Slice(entries, func(i, j int) bool {
		si, _ := entries[i].tx.FirstSignature()
		sj, _ := entries[j].tx.FirstSignature()
		if si != sj {
			return si > sj
		}
		return entries[i].key > entries[j].key
	})

	total := len(entries)
	res := ListTxResult{Total: total}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		res.Items = make([]rollup.Transaction, 0, end-offset)
		for _, e := range entries[offset:end] {
			res.Items = append(res.Items, e.tx)
		}
		res.HasMore = end < total
	}
	m.reply <- res
}

// StoreProof inserts a fresh batch proof record: status is forced to
// Generated and retry_count to 0 regardless of what the caller populated.
func (s *StateStore) StoreProof(ctx context.Context, record rollup.BatchProofRecord) error {
	reply := make(chan struct{}, 1)
	if err := s.send(ctx, storeProofMsg{record: record, reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *StateStore) handleStoreProof(m storeProofMsg) {
	rec := m.record
	rec.Status = rollup.ProofGenerated
	rec.RetryCount = 0
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.proofs[rec.BatchID] = &rec
	for _, sig := range rec.Signatures {
		s.sigToBatch[sig] = rec.BatchID
	}
	if m.reply != nil {
		m.reply <- struct{}{}
	}
}

// UpdateProofStatus mutates a proof record in place. A missing batch_id is
// logged and otherwise a no-op.
func (s *StateStore) UpdateProofStatus(ctx context.Context, batchID string, status rollup.ProofStatus, errMsg string) error {
	reply := make(chan struct{}, 1)
	if err := s.send(ctx, updateProofStatusMsg{batchID: batchID, status: status, errMsg: errMsg, reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *StateStore) handleUpdateProofStatus(m updateProofStatusMsg) {
	rec, ok := s.proofs[m.batchID]
	if !ok {
		s.logger.Printf("update status: unknown batch_id %s", m.batchID)
		if m.reply != nil {
			m.reply <- struct{}{}
		}
		return
	}
	rec.Status = m.status
	rec.Error = m.errMsg
	rec.UpdatedAt = time.Now()
	if m.reply != nil {
		m.reply <- struct{}{}
	}
}

// ManualRetry selects all Failed proofs with retry_count < MaxRetries and
// tries to requeue each, ungated by the circuit breaker. It returns the
// number successfully requeued.
func (s *StateStore) ManualRetry(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := s.send(ctx, manualRetryMsg{reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// AutoRetryTick requests a circuit-breaker-gated retry cycle. It is
// fire-and-forget: the caller (internal/retrytick) does not wait for a
// reply.
func (s *StateStore) AutoRetryTick(ctx context.Context) error {
	return s.send(ctx, autoRetryTickMsg{})
}

func (s *StateStore) handleRetryCycle(reply chan int, gated bool) {
	now := time.Now()
	if gated && !s.breaker.allow(now) {
		if reply != nil {
			reply <- 0
		}
		return
	}

	hadEligible := false
	requeuedAny := false
	requeuedCount := 0

	for _, rec := range s.proofs {
		if rec.Status != rollup.ProofFailed || rec.RetryCount >= rollup.MaxRetries {
			continue
		}
		hadEligible = true
		rec.RetryCount++
		rec.Status = rollup.ProofGenerated
		rec.UpdatedAt = now

		job := rollup.SettlementJob{
			BatchID:       rec.BatchID,
			Proof:         rec.Proof,
			PublicInputs:  rec.PublicInputs,
			Signatures:    rec.Signatures,
			ProofFilePath: rec.ProofFilePath,
		}
		if s.trySettle(job) {
			requeuedAny = true
			requeuedCount++
		} else {
			rec.Status = rollup.ProofFailed
			rec.Error = ErrSettlementFull.Error()
		}
	}

	if gated {
		s.breaker.recordCycle(now, requeuedAny, hadEligible)
		if s.metrics != nil {
			s.metrics.RetryCycles.Inc()
		}
	}
	if s.metrics != nil {
		s.metrics.ConsecutiveFailures.Set(float64(s.breaker.consecutiveFailures))
	}
	if reply != nil {
		reply <- requeuedCount
	}
}

func (s *StateStore) trySettle(job rollup.SettlementJob) bool {
	if s.settlement == nil {
		return false
	}
	select {
	case s.settlement <- job:
		return true
	default:
		return false
	}
}
