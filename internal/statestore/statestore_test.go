package statestore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/certen/rollup-coordinator/internal/rollup"
)

type fakeChain struct {
	accounts map[rollup.Address]rollup.AccountRecord
}

func (f *fakeChain) GetAccount(ctx context.Context, addr rollup.Address) (rollup.AccountRecord, error) {
	rec, ok := f.accounts[addr]
	if !ok {
		return rollup.AccountRecord{}, fmt.Errorf("no such account")
	}
	return rec, nil
}

func startStore(t *testing.T, cfg Config) (*StateStore, context.Context, context.CancelFunc) {
	t.Helper()
	s := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(cancel)
	return s, ctx, cancel
}

func addr(b byte) rollup.Address {
	var a rollup.Address
	a[0] = b
	return a
}

func txWithSig(sig rollup.Signature, keys ...rollup.Address) rollup.Transaction {
	return rollup.Transaction{
		Signatures: []rollup.Signature{sig},
		Message:    rollup.Message{AccountKeys: keys},
	}
}

func TestLockAccountsFetchesFromChainOnMiss(t *testing.T) {
	a := addr(1)
	chain := &fakeChain{accounts: map[rollup.Address]rollup.AccountRecord{a: {Lamports: 500}}}
	s, ctx, _ := startStore(t, Config{Chain: chain})

	recs, err := s.LockAccounts(ctx, []rollup.Address{a})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Record.Lamports != 500 {
		t.Fatalf("unexpected lock reply: %+v", recs)
	}
}

func TestLockAccountsSkipsAlreadyLocked(t *testing.T) {
	a := addr(1)
	chain := &fakeChain{accounts: map[rollup.Address]rollup.AccountRecord{a: {Lamports: 1}}}
	s, ctx, _ := startStore(t, Config{Chain: chain})

	if _, err := s.LockAccounts(ctx, []rollup.Address{a}); err != nil {
		t.Fatal(err)
	}
	recs, err := s.LockAccounts(ctx, []rollup.Address{a})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected already-locked address to be omitted, got %+v", recs)
	}
}

func TestLockAccountsOmitsFailedFetch(t *testing.T) {
	chain := &fakeChain{accounts: map[rollup.Address]rollup.AccountRecord{}}
	s, ctx, _ := startStore(t, Config{Chain: chain})

	recs, err := s.LockAccounts(ctx, []rollup.Address{addr(9)})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected a failed fetch to be omitted, not errored, got %+v", recs)
	}
}

func TestCommitTxIndexesByKeccakKey(t *testing.T) {
	s, ctx, _ := startStore(t, Config{Chain: &fakeChain{}})
	a := addr(1)
	tx := txWithSig("sig-one", a)

	if err := s.CommitTx(ctx, tx, map[rollup.Address]rollup.AccountRecord{a: {Lamports: 10}}); err != nil {
		t.Fatal(err)
	}

	got, found, err := s.GetTx(ctx, "sig-one")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected committed transaction to be indexed")
	}
	if got.Signatures[0] != "sig-one" {
		t.Fatalf("unexpected transaction returned: %+v", got)
	}
}

func TestCommitTxOverwriteIsIdempotent(t *testing.T) {
	s, ctx, _ := startStore(t, Config{Chain: &fakeChain{}})
	a := addr(1)
	tx := txWithSig("dup-sig", a)

	if err := s.CommitTx(ctx, tx, map[rollup.Address]rollup.AccountRecord{a: {Lamports: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := s.CommitTx(ctx, tx, map[rollup.Address]rollup.AccountRecord{a: {Lamports: 1}}); err != nil {
		t.Fatal(err)
	}

	res, err := s.ListTx(ctx, 0, 500)
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 {
		t.Fatalf("expected a single indexed entry after re-commit, got %d", res.Total)
	}
}

func TestGetTxUnknownNotFound(t *testing.T) {
	s, ctx, _ := startStore(t, Config{Chain: &fakeChain{}})
	_, found, err := s.GetTx(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected not-found for an unknown signature")
	}
}

func TestListTxPaginationClampsAndPages(t *testing.T) {
	s, ctx, _ := startStore(t, Config{Chain: &fakeChain{}})
	for i := 0; i < 120; i++ {
		sig := rollup.Signature(fmt.Sprintf("sig-%03d", i))
		tx := txWithSig(sig, addr(1))
		if err := s.CommitTx(ctx, tx, map[rollup.Address]rollup.AccountRecord{addr(1): {}}); err != nil {
			t.Fatal(err)
		}
	}

	page2, err := s.ListTx(ctx, 50, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(page2.Items) != 50 || page2.Total != 120 || !page2.HasMore {
		t.Fatalf("unexpected page2: total=%d items=%d hasMore=%v", page2.Total, len(page2.Items), page2.HasMore)
	}

	page3, err := s.ListTx(ctx, 100, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(page3.Items) != 20 || page3.HasMore {
		t.Fatalf("unexpected page3: items=%d hasMore=%v", len(page3.Items), page3.HasMore)
	}

	clamped, err := s.ListTx(ctx, 0, 10000)
	if err != nil {
		t.Fatal(err)
	}
	if len(clamped.Items) != 120 {
		t.Fatalf("expected clamp to 500 to still return all 120, got %d", len(clamped.Items))
	}
}

func TestListTxUnionOfNonOverlappingPagesCoversEveryEntryOnce(t *testing.T) {
	s, ctx, _ := startStore(t, Config{Chain: &fakeChain{}})
	for i := 0; i < 10; i++ {
		sig := rollup.Signature(fmt.Sprintf("sig-%02d", i))
		if err := s.CommitTx(ctx, txWithSig(sig, addr(1)), map[rollup.Address]rollup.AccountRecord{addr(1): {}}); err != nil {
			t.Fatal(err)
		}
	}

	seen := map[string]bool{}
	for offset := 0; offset < 10; offset += 3 {
		page, err := s.ListTx(ctx, offset, 3)
		if err != nil {
			t.Fatal(err)
		}
		for _, tx := range page.Items {
			sig, _ := tx.FirstSignature()
			if seen[string(sig)] {
				t.Fatalf("signature %s appeared in more than one page", sig)
			}
			seen[string(sig)] = true
		}
	}
	if len(seen) != 10 {
		t.Fatalf("expected all 10 entries covered exactly once, got %d", len(seen))
	}
}

func TestStoreProofForcesGeneratedStatusAndZeroRetries(t *testing.T) {
	s, ctx, _ := startStore(t, Config{Chain: &fakeChain{}})
	rec := rollup.BatchProofRecord{
		BatchID:    "batch-1",
		Status:     rollup.ProofVerified,
		RetryCount: 7,
		Signatures: []rollup.Signature{"sig-a"},
	}
	if err := s.StoreProof(ctx, rec); err != nil {
		t.Fatal(err)
	}

	n, err := s.ManualRetry(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("a freshly stored Generated proof must not be retry-eligible, requeued=%d", n)
	}
}

func TestUpdateProofStatusUnknownBatchIsNoop(t *testing.T) {
	s, ctx, _ := startStore(t, Config{Chain: &fakeChain{}})
	if err := s.UpdateProofStatus(ctx, "nonexistent", rollup.ProofFailed, "boom"); err != nil {
		t.Fatal(err)
	}
}

func TestManualRetrySkipsRetryExhaustedProofs(t *testing.T) {
	settlement := make(chan rollup.SettlementJob, 10)
	s, ctx, _ := startStore(t, Config{Chain: &fakeChain{}, Settlement: settlement})

	rec := rollup.BatchProofRecord{BatchID: "exhausted", Signatures: []rollup.Signature{"s"}}
	if err := s.StoreProof(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateProofStatus(ctx, "exhausted", rollup.ProofFailed, "e"); err != nil {
		t.Fatal(err)
	}
	// Drive retry_count to MaxRetries by retrying MaxRetries times, marking
	// Failed again after each.
	for i := 0; i < rollup.MaxRetries; i++ {
		n, err := s.ManualRetry(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Fatalf("iteration %d: expected 1 requeued, got %d", i, n)
		}
		<-settlement
		if err := s.UpdateProofStatus(ctx, "exhausted", rollup.ProofFailed, "e"); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.ManualRetry(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected retry-exhausted proof to be skipped, got requeued=%d", n)
	}
}

func TestManualRetryMarksQueueFullOnFullSettlementChannel(t *testing.T) {
	settlement := make(chan rollup.SettlementJob) // unbuffered, nobody reads
	s, ctx, _ := startStore(t, Config{Chain: &fakeChain{}, Settlement: settlement})

	if err := s.StoreProof(ctx, rollup.BatchProofRecord{BatchID: "b", Signatures: []rollup.Signature{"s"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateProofStatus(ctx, "b", rollup.ProofFailed, "e"); err != nil {
		t.Fatal(err)
	}

	n, err := s.ManualRetry(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected the send to fail against an unbuffered, unread channel, got requeued=%d", n)
	}
}

func TestCircuitBreakerDeniesWithinTenSeconds(t *testing.T) {
	var b circuitBreaker
	now := time.Unix(1_700_000_000, 0)
	if !b.allow(now) {
		t.Fatal("first tick should always be allowed")
	}
	b.recordCycle(now, true, true)

	if b.allow(now.Add(5 * time.Second)) {
		t.Fatal("expected a tick inside the 10s floor to be denied")
	}
	if !b.allow(now.Add(11 * time.Second)) {
		t.Fatal("expected a tick past the 10s floor to be allowed")
	}
}

func TestCircuitBreakerBackoffAfterFiveConsecutiveFailures(t *testing.T) {
	var b circuitBreaker
	now := time.Unix(1_700_000_000, 0)
	b.recordCycle(now, true, true) // baseline

	for i := 0; i < 5; i++ {
		now = now.Add(20 * time.Second)
		if !b.allow(now) {
			t.Fatalf("iteration %d: expected allow before failure streak reaches 5", i)
		}
		b.recordCycle(now, false, true)
	}

	if b.consecutiveFailures != 5 {
		t.Fatalf("expected 5 consecutive failures, got %d", b.consecutiveFailures)
	}
	if b.allow(now.Add(30 * time.Second)) {
		t.Fatal("expected backoff (60*2^5=1920s) to deny a tick only 30s later")
	}
	if !b.allow(now.Add(1921 * time.Second)) {
		t.Fatal("expected a tick past the backoff window to be allowed")
	}
}

func TestLockThenCommitMovesAddressBetweenMaps(t *testing.T) {
	a := addr(1)
	chain := &fakeChain{accounts: map[rollup.Address]rollup.AccountRecord{a: {Lamports: 77}}}
	s, ctx, _ := startStore(t, Config{Chain: chain})

	recs, err := s.LockAccounts(ctx, []rollup.Address{a})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected the address to lock, got %+v", recs)
	}

	// While locked it must not be lockable again.
	recs, err = s.LockAccounts(ctx, []rollup.Address{a})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Fatal("a locked address must not appear in a second lock reply")
	}

	tx := txWithSig("move-sig", a)
	if err := s.CommitTx(ctx, tx, map[rollup.Address]rollup.AccountRecord{a: {Lamports: 70}}); err != nil {
		t.Fatal(err)
	}

	// Remove the account from the chain: if the commit really moved it back
	// to available, the next lock is served from the cache, not layer-1.
	delete(chain.accounts, a)
	recs, err = s.LockAccounts(ctx, []rollup.Address{a})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Record.Lamports != 70 {
		t.Fatalf("expected the committed post-state from available, got %+v", recs)
	}
}

func TestAutoRetryTickRequeuesFailedProof(t *testing.T) {
	settlement := make(chan rollup.SettlementJob, 10)
	s, ctx, _ := startStore(t, Config{Chain: &fakeChain{}, Settlement: settlement})
	s.breaker.lastCycle = time.Now().Add(-time.Hour)

	rec := rollup.BatchProofRecord{
		BatchID:    "transient",
		Signatures: []rollup.Signature{"sig-t"},
	}
	if err := s.StoreProof(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateProofStatus(ctx, "transient", rollup.ProofFailed, "connection refused"); err != nil {
		t.Fatal(err)
	}

	if err := s.AutoRetryTick(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case job := <-settlement:
		if job.BatchID != "transient" {
			t.Fatalf("unexpected requeued job: %+v", job)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the requeued settlement job")
	}

	// The record is back at Generated, so a follow-up retry pass finds
	// nothing eligible.
	n, err := s.ManualRetry(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected the requeued proof to be Generated, not Failed, requeued=%d", n)
	}
}

func TestAutoRetryTickResetsConsecutiveFailuresOnSuccess(t *testing.T) {
	settlement := make(chan rollup.SettlementJob, 10)
	s, ctx, _ := startStore(t, Config{Chain: &fakeChain{}, Settlement: settlement})
	s.breaker.consecutiveFailures = 3
	s.breaker.lastCycle = time.Now().Add(-time.Hour)

	if err := s.StoreProof(ctx, rollup.BatchProofRecord{BatchID: "b", Signatures: []rollup.Signature{"s"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateProofStatus(ctx, "b", rollup.ProofFailed, "e"); err != nil {
		t.Fatal(err)
	}
	if err := s.AutoRetryTick(ctx); err != nil {
		t.Fatal(err)
	}
	<-settlement

	// Round-trip through another message to make sure AutoRetryTick was
	// processed before we inspect the breaker.
	if _, err := s.ManualRetry(ctx); err != nil {
		t.Fatal(err)
	}
	if s.breaker.consecutiveFailures != 0 {
		t.Fatalf("expected a successful auto-retry cycle to reset the failure streak, got %d", s.breaker.consecutiveFailures)
	}
}
