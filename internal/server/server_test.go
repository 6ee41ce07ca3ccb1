package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/certen/rollup-coordinator/internal/rollup"
	"github.com/certen/rollup-coordinator/internal/statestore"
)

type fakeStore struct {
	txs     map[rollup.Signature]rollup.Transaction
	listRes statestore.ListTxResult
	listErr error
}

func (f *fakeStore) GetTx(ctx context.Context, sig rollup.Signature) (rollup.Transaction, bool, error) {
	tx, ok := f.txs[sig]
	return tx, ok, nil
}

func (f *fakeStore) ListTx(ctx context.Context, offset, limit int) (statestore.ListTxResult, error) {
	if f.listErr != nil {
		return statestore.ListTxResult{}, f.listErr
	}
	return f.listRes, nil
}

func addr(b byte) rollup.Address {
	var a rollup.Address
	a[0] = b
	return a
}

func newTestHandlers(store StateStore, devMode bool) (*Handlers, chan rollup.Transaction) {
	ingress := make(chan rollup.Transaction, 4)
	h := New(Config{
		Ingress: ingress,
		Store:   store,
		DevMode: devMode,
	})
	return h, ingress
}

func TestHandleLivenessOK(t *testing.T) {
	h, _ := newTestHandlers(&fakeStore{}, false)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	h.HandleLiveness(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleLivenessUnknownPath(t *testing.T) {
	h, _ := newTestHandlers(&fakeStore{}, false)
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()

	h.HandleLiveness(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleSubmitTransactionHappyPath(t *testing.T) {
	h, ingress := newTestHandlers(&fakeStore{}, false)

	addr1 := addr(1)
	addr2 := addr(2)
	body := map[string]interface{}{
		"sol_transaction": map[string]interface{}{
			"signatures": []string{"sig1"},
			"message": map[string]interface{}{
				"account_keys": []string{
					hex.EncodeToString(addr1[:]),
					hex.EncodeToString(addr2[:]),
				},
				"instructions": []interface{}{},
			},
		},
	}
	raw, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/submit_transaction", bytes.NewReader(raw))
	rec := httptest.NewRecorder()

	h.HandleSubmitTransaction(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	select {
	case tx := <-ingress:
		if len(tx.Signatures) != 1 || tx.Signatures[0] != "sig1" {
			t.Fatalf("unexpected enqueued transaction: %+v", tx)
		}
	default:
		t.Fatal("expected a transaction to be enqueued")
	}
}

func TestHandleSubmitTransactionMissingTransactionRejected(t *testing.T) {
	h, _ := newTestHandlers(&fakeStore{}, false)

	req := httptest.NewRequest(http.MethodPost, "/submit_transaction", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	h.HandleSubmitTransaction(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleSubmitTransactionDevModeSynthesizes(t *testing.T) {
	h, ingress := newTestHandlers(&fakeStore{}, true)

	req := httptest.NewRequest(http.MethodPost, "/submit_transaction", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	h.HandleSubmitTransaction(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	select {
	case <-ingress:
	default:
		t.Fatal("expected a synthesized transaction to be enqueued")
	}
}

func TestHandleSubmitTransactionWrongMethod(t *testing.T) {
	h, _ := newTestHandlers(&fakeStore{}, false)

	req := httptest.NewRequest(http.MethodGet, "/submit_transaction", nil)
	rec := httptest.NewRecorder()

	h.HandleSubmitTransaction(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandleGetTransactionFound(t *testing.T) {
	tx := rollup.Transaction{
		Signatures: []rollup.Signature{"sig1"},
		Message:    rollup.Message{AccountKeys: []rollup.Address{addr(9)}},
	}
	store := &fakeStore{txs: map[rollup.Signature]rollup.Transaction{"sig1": tx}}
	h, _ := newTestHandlers(store, false)

	reqBody, _ := json.Marshal(map[string]string{"get_tx": "sig1"})
	req := httptest.NewRequest(http.MethodPost, "/get_transaction", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()

	h.HandleGetTransaction(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var env txEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Error != "" {
		t.Fatalf("unexpected error in envelope: %s", env.Error)
	}
	if env.Tx == nil || env.Tx.Signatures[0] != "sig1" {
		t.Fatalf("unexpected tx in envelope: %+v", env.Tx)
	}
}

func TestHandleGetTransactionNotFound(t *testing.T) {
	h, _ := newTestHandlers(&fakeStore{txs: map[rollup.Signature]rollup.Transaction{}}, false)

	reqBody, _ := json.Marshal(map[string]string{"get_tx": "missing"})
	req := httptest.NewRequest(http.MethodPost, "/get_transaction", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()

	h.HandleGetTransaction(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var env txEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Error == "" {
		t.Fatal("expected a not-found error in the envelope")
	}
}

func TestHandleGetTransactionListDefaultsAndClamp(t *testing.T) {
	store := &fakeStore{listRes: statestore.ListTxResult{
		Items: []rollup.Transaction{
			{Signatures: []rollup.Signature{"a"}},
			{Signatures: []rollup.Signature{"b"}},
		},
		Total:   2,
		HasMore: false,
	}}
	h, _ := newTestHandlers(store, false)

	reqBody, _ := json.Marshal(map[string]int{"per_page": 10000})
	req := httptest.NewRequest(http.MethodPost, "/get_transaction", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()

	h.HandleGetTransaction(rec, req)

	var env listEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Page != 1 {
		t.Fatalf("expected default page 1, got %d", env.Page)
	}
	if env.PerPage != maxPerPage {
		t.Fatalf("expected per_page clamped to %d, got %d", maxPerPage, env.PerPage)
	}
	if len(env.Transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(env.Transactions))
	}
}

func TestHandleGetTransactionListBackendTimeout(t *testing.T) {
	store := &fakeStore{listErr: context.DeadlineExceeded}
	h, _ := newTestHandlers(store, false)

	req := httptest.NewRequest(http.MethodPost, "/get_transaction", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	h.HandleGetTransaction(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}
}
