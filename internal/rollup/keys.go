package rollup

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
)

// TxIndexKey returns the transaction index key for a signature: the keccak
// hash of the signature's base58 text form, hex-encoded so it is usable as
// a map key and log-safe.
func TxIndexKey(sig Signature) string {
	sum := crypto.Keccak256([]byte(string(sig)))
	return fmt.Sprintf("%x", sum)
}

// EncodeSignature base58-encodes raw signature bytes into the layer-1
// signature text form.
func EncodeSignature(raw []byte) Signature {
	return Signature(base58.Encode(raw))
}

// DecodeSignature reverses EncodeSignature.
func DecodeSignature(sig Signature) ([]byte, error) {
	return base58.Decode(string(sig))
}

// NewBatchID builds the textual batch_id: a Unix-second timestamp and the
// first 8 characters of the concatenated member signatures.
func NewBatchID(now time.Time, sigs []Signature) string {
	var b strings.Builder
	for _, s := range sigs {
		b.WriteString(string(s))
	}
	joined := b.String()
	if len(joined) > 8 {
		joined = joined[:8]
	}
	return fmt.Sprintf("%d_%s", now.Unix(), joined)
}
