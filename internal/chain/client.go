// Package chain provides the Layer1Client interface the core depends on for
// account reads and settlement submission, and a go-ethereum-backed
// implementation.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/certen/rollup-coordinator/internal/rollup"
)

// Layer1Client is the narrow capability set the pipeline needs from
// layer-1: fetch an account, fetch the latest blockhash, submit-and-confirm
// a signed transaction.
type Layer1Client interface {
	GetAccount(ctx context.Context, addr rollup.Address) (rollup.AccountRecord, error)
	LatestBlockhash(ctx context.Context) (string, error)
	SubmitAndConfirm(ctx context.Context, kp *Keypair, payload []byte) (confirmed bool, txHash string, err error)
	Health(ctx context.Context) error
}

// EthClient implements Layer1Client over go-ethereum's ethclient, dialing
// once at construction.
type EthClient struct {
	client  *ethclient.Client
	chainID *big.Int
}

// NewEthClient dials the RPC endpoint once and returns a ready client.
func NewEthClient(url string, chainID int64) (*EthClient, error) {
	client, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("chain: failed to connect: %w", err)
	}
	return &EthClient{client: client, chainID: big.NewInt(chainID)}, nil
}

// toCommonAddress folds the 32-byte rollup address down to the 20-byte
// form go-ethereum expects, taking the low-order bytes.
func toCommonAddress(addr rollup.Address) common.Address {
	var out common.Address
	copy(out[:], addr[12:])
	return out
}

// GetAccount satisfies the loader's cache-miss path: balance, nonce, and a
// fixed owner/executable shape since this layer-1 binding has no native
// notion of those Solana-specific fields.
func (c *EthClient) GetAccount(ctx context.Context, addr rollup.Address) (rollup.AccountRecord, error) {
	ethAddr := toCommonAddress(addr)

	balance, err := c.client.BalanceAt(ctx, ethAddr, nil)
	if err != nil {
		return rollup.AccountRecord{}, fmt.Errorf("chain: get balance: %w", err)
	}
	nonce, err := c.client.PendingNonceAt(ctx, ethAddr)
	if err != nil {
		return rollup.AccountRecord{}, fmt.Errorf("chain: get nonce: %w", err)
	}

	return rollup.AccountRecord{
		Lamports:  balance.Uint64(),
		Owner:     addr,
		RentEpoch: nonce,
	}, nil
}

// LatestBlockhash returns the hash of the chain head, standing in for a
// Solana recent-blockhash query.
func (c *EthClient) LatestBlockhash(ctx context.Context) (string, error) {
	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("chain: get latest header: %w", err)
	}
	return header.Hash().Hex(), nil
}

const fallbackGasLimit = 100_000

// SubmitAndConfirm signs payload into a transaction's data field, submits
// it, and blocks for confirmation via bind.WaitMined.
func (c *EthClient) SubmitAndConfirm(ctx context.Context, kp *Keypair, payload []byte) (bool, string, error) {
	nonce, err := c.client.PendingNonceAt(ctx, kp.Address)
	if err != nil {
		return false, "", fmt.Errorf("chain: get nonce: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return false, "", fmt.Errorf("chain: get gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, kp.Address, big.NewInt(0), fallbackGasLimit, gasPrice, payload)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), kp.PrivateKey)
	if err != nil {
		return false, "", fmt.Errorf("chain: sign transaction: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return false, "", fmt.Errorf("chain: send transaction: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, c.client, signedTx)
	if err != nil {
		return false, signedTx.Hash().Hex(), fmt.Errorf("chain: wait for confirmation: %w", err)
	}

	return receipt.Status == types.ReceiptStatusSuccessful, signedTx.Hash().Hex(), nil
}

// Health checks the RPC endpoint is reachable.
func (c *EthClient) Health(ctx context.Context) error {
	if _, err := c.client.BlockNumber(ctx); err != nil {
		return fmt.Errorf("chain: health check failed: %w", err)
	}
	return nil
}
