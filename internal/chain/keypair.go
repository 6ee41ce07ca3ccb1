package chain

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Keypair is the settlement signer loaded from a KEYPAIR1/KEYPAIR2 file.
// The file holds a hex-encoded ECDSA private key, with or without a 0x
// prefix.
type Keypair struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
}

// LoadKeypairFromEnv reads the file path named by the given environment
// variable (e.g. "KEYPAIR1") and loads the keypair it contains.
func LoadKeypairFromEnv(envVar string) (*Keypair, error) {
	path := os.Getenv(envVar)
	if path == "" {
		return nil, fmt.Errorf("%s: %w", envVar, ErrKeypairEnvUnset)
	}
	return LoadKeypair(path)
}

// LoadKeypair parses a hex-encoded ECDSA private key file.
func LoadKeypair(path string) (*Keypair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keypair file %s: %w", path, err)
	}
	hexKey := strings.TrimSpace(string(raw))
	hexKey = strings.TrimPrefix(hexKey, "0x")

	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, ErrKeypairMalformed)
	}

	return &Keypair{
		PrivateKey: pk,
		Address:    crypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}
