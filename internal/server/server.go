// Package server implements the coordinator's ingress HTTP/JSON surface:
// liveness, transaction submission, and transaction/pagination lookup.
package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/certen/rollup-coordinator/internal/rollup"
	"github.com/certen/rollup-coordinator/internal/statestore"
)

// defaultPerPage and the clamp bounds for the get_transaction list window.
const (
	defaultPerPage = 50
	minPerPage     = 1
	maxPerPage     = 500
)

// replyTimeout bounds how long a handler waits on the StateStore's reply
// channel before giving up on the backend.
const replyTimeout = 2 * time.Second

// StateStore is the narrow capability get_transaction needs.
type StateStore interface {
	GetTx(ctx context.Context, sig rollup.Signature) (rollup.Transaction, bool, error)
	ListTx(ctx context.Context, offset, limit int) (statestore.ListTxResult, error)
}

// Config wires a Handlers set's collaborators.
type Config struct {
	// Ingress is the Sequencer's input channel; submit_transaction pushes
	// decoded transactions onto it directly, blocking until the sequencer
	// can take them or the request is cancelled.
	Ingress chan<- rollup.Transaction
	Store   StateStore
	DevMode bool // if true, a submit_transaction with no sol_transaction synthesizes one instead of 400
	Logger  *log.Logger
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = log.New(log.Writer(), "[Ingress] ", log.LstdFlags)
	}
}

// Handlers holds the ingress endpoints.
type Handlers struct {
	cfg Config
}

// New constructs a Handlers set.
func New(cfg Config) *Handlers {
	cfg.setDefaults()
	return &Handlers{cfg: cfg}
}

// Mux builds an http.ServeMux wired to this Handlers set's routes.
func (h *Handlers) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.HandleLiveness)
	mux.HandleFunc("/submit_transaction", h.HandleSubmitTransaction)
	mux.HandleFunc("/get_transaction", h.HandleGetTransaction)
	return mux
}

// HandleLiveness answers GET / with a fixed liveness envelope.
func (h *Handlers) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		h.writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"test": "success"})
}

// wireTransaction is the JSON wire shape sol_transaction decodes into:
// hex-encoded 32-byte addresses, base58 signature text, byte-array
// instruction data. This is the module's own transaction encoding (the
// coordinator has no dependency on the Solana wire format itself).
type wireTransaction struct {
	Signatures []string `json:"signatures"`
	Message    struct {
		AccountKeys  []string `json:"account_keys"`
		Instructions []struct {
			ProgramIDIndex uint8  `json:"program_id_index"`
			Accounts       []byte `json:"accounts"`
			Data           []byte `json:"data"`
		} `json:"instructions"`
	} `json:"message"`
}

func (w wireTransaction) toRollup() (rollup.Transaction, error) {
	tx := rollup.Transaction{
		Signatures: make([]rollup.Signature, len(w.Signatures)),
		Message: rollup.Message{
			AccountKeys:  make([]rollup.Address, len(w.Message.AccountKeys)),
			Instructions: make([]rollup.Instruction, len(w.Message.Instructions)),
		},
	}
	for i, s := range w.Signatures {
		tx.Signatures[i] = rollup.Signature(s)
	}
	for i, key := range w.Message.AccountKeys {
		raw, err := hex.DecodeString(key)
		if err != nil || len(raw) != 32 {
			return rollup.Transaction{}, fmt.Errorf("account_keys[%d]: must be 32 hex-encoded bytes", i)
		}
		copy(tx.Message.AccountKeys[i][:], raw)
	}
	for i, inst := range w.Message.Instructions {
		tx.Message.Instructions[i] = rollup.Instruction{
			ProgramIDIndex: inst.ProgramIDIndex,
			AccountIndexes: inst.Accounts,
			Data:           inst.Data,
		}
	}
	return tx, nil
}

type submitRequest struct {
	Sender         string           `json:"sender,omitempty"`
	SolTransaction *wireTransaction `json:"sol_transaction,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// HandleSubmitTransaction implements POST /submit_transaction.
func (h *Handlers) HandleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON")
		return
	}

	if req.SolTransaction == nil {
		if !h.cfg.DevMode {
			h.writeError(w, http.StatusBadRequest, "MISSING_TRANSACTION", "sol_transaction is required")
			return
		}
		req.SolTransaction = syntheticTransaction()
	}

	tx, err := req.SolTransaction.toRollup()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_TRANSACTION", err.Error())
		return
	}

	select {
	case h.cfg.Ingress <- tx:
	case <-r.Context().Done():
		h.writeError(w, http.StatusServiceUnavailable, "ENQUEUE_TIMEOUT", "failed to enqueue transaction")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"Transaction status": "Submitted"})
}

// syntheticTransaction builds a single self-describing dev-mode
// transaction, correlated by a fresh uuid for log tracing.
func syntheticTransaction() *wireTransaction {
	id := uuid.New().String()
	wt := &wireTransaction{Signatures: []string{"dev-" + id}}
	wt.Message.AccountKeys = []string{
		"0000000000000000000000000000000000000000000000000000000000000001",
	}
	return wt
}

type getTxRequest struct {
	GetTx   string `json:"get_tx,omitempty"`
	Page    int    `json:"page,omitempty"`
	PerPage int    `json:"per_page,omitempty"`
}

type txEnvelope struct {
	Sender string              `json:"sender,omitempty"`
	Tx     *rollup.Transaction `json:"tx,omitempty"`
	Error  string              `json:"error,omitempty"`
}

type listEnvelope struct {
	Transactions []rollup.Transaction `json:"transactions"`
	Page         int                  `json:"page"`
	PerPage      int                  `json:"per_page"`
	Total        int                  `json:"total"`
	HasMore      bool                 `json:"has_more"`
	Error        string               `json:"error,omitempty"`
}

// HandleGetTransaction implements POST /get_transaction.
func (h *Handlers) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}

	var req getTxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), replyTimeout)
	defer cancel()

	if req.GetTx != "" {
		tx, found, err := h.cfg.Store.GetTx(ctx, rollup.Signature(req.GetTx))
		if err != nil {
			h.writeJSON(w, http.StatusGatewayTimeout, txEnvelope{Error: "timeout waiting for backend"})
			return
		}
		if !found {
			h.writeJSON(w, http.StatusOK, txEnvelope{Error: "Transaction not found"})
			return
		}
		sender := ""
		if len(tx.Message.AccountKeys) > 0 {
			sender = hex.EncodeToString(tx.Message.AccountKeys[0][:])
		}
		h.writeJSON(w, http.StatusOK, txEnvelope{Sender: sender, Tx: &tx})
		return
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	perPage := req.PerPage
	if perPage < minPerPage {
		if perPage == 0 {
			perPage = defaultPerPage
		} else {
			perPage = minPerPage
		}
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	offset := (page - 1) * perPage

	res, err := h.cfg.Store.ListTx(ctx, offset, perPage)
	if err != nil {
		h.writeJSON(w, http.StatusGatewayTimeout, listEnvelope{Error: "timeout waiting for backend"})
		return
	}

	h.writeJSON(w, http.StatusOK, listEnvelope{
		Transactions: res.Items,
		Page:         page,
		PerPage:      perPage,
		Total:        res.Total,
		HasMore:      res.HasMore,
	})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.cfg.Logger.Printf("error encoding response: %v", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
