// Package settlement drains settlement jobs, converts Groth16 proof
// coordinates into the on-chain verifier's byte layout, and submits the
// resulting instruction as a layer-1 transaction.
package settlement

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/certen/rollup-coordinator/internal/rollup"
)

// decodeFieldElement parses a decimal string and renders it as 32-byte
// big-endian, bounds-checked against the given field modulus. Point
// coordinates live in the BN254 base field, public inputs in the scalar
// field.
func decodeFieldElement(s string, modulus *big.Int) ([32]byte, error) {
	var out [32]byte
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return out, fmt.Errorf("parsing %q as decimal: %w", s, ErrFieldElementOutOfRange)
	}
	if n.Sign() < 0 {
		return out, fmt.Errorf("%q: %w", s, ErrFieldElementNegative)
	}
	if n.Cmp(modulus) >= 0 {
		return out, fmt.Errorf("%q: %w", s, ErrFieldElementOutOfRange)
	}
	raw := n.Bytes()
	copy(out[32-len(raw):], raw)
	return out, nil
}

func decodeCoordinate(s string) ([32]byte, error) {
	return decodeFieldElement(s, fp.Modulus())
}

func decodeScalar(s string) ([32]byte, error) {
	return decodeFieldElement(s, fr.Modulus())
}

// G1FromStrArray renders a [x, y, z] decimal-string G1 point as the
// on-chain 64-byte (x||y) layout. The z coordinate is the projective "1"
// and is dropped.
func G1FromStrArray(arr [3]string) ([64]byte, error) {
	var out [64]byte
	x, err := decodeCoordinate(arr[0])
	if err != nil {
		return out, fmt.Errorf("g1.x: %w", err)
	}
	y, err := decodeCoordinate(arr[1])
	if err != nil {
		return out, fmt.Errorf("g1.y: %w", err)
	}
	copy(out[:32], x[:])
	copy(out[32:], y[:])
	return out, nil
}

// G2FromStrArray renders a [[x.c1,x.c0], [y.c1,y.c0], [z.c1,z.c0]] G2 point
// as the on-chain 128-byte (x.c0||x.c1||y.c0||y.c1) layout: the prover
// artifact stores c1 before c0, the on-chain layout wants c0 before c1.
func G2FromStrArray(arr [3][2]string) ([128]byte, error) {
	var out [128]byte
	xC1, err := decodeCoordinate(arr[0][0])
	if err != nil {
		return out, fmt.Errorf("g2.x.c1: %w", err)
	}
	xC0, err := decodeCoordinate(arr[0][1])
	if err != nil {
		return out, fmt.Errorf("g2.x.c0: %w", err)
	}
	yC1, err := decodeCoordinate(arr[1][0])
	if err != nil {
		return out, fmt.Errorf("g2.y.c1: %w", err)
	}
	yC0, err := decodeCoordinate(arr[1][1])
	if err != nil {
		return out, fmt.Errorf("g2.y.c0: %w", err)
	}
	copy(out[0:32], xC0[:])
	copy(out[32:64], xC1[:])
	copy(out[64:96], yC0[:])
	copy(out[96:128], yC1[:])
	return out, nil
}

// OnchainProof mirrors the on-chain verifier program's Groth16Proof account layout.
type OnchainProof struct {
	PiA [64]byte
	PiB [128]byte
	PiC [64]byte
}

// ConvertProof renders a prover-produced proof into its on-chain byte
// layout.
func ConvertProof(proof *rollup.Groth16Proof) (OnchainProof, error) {
	var out OnchainProof
	a, err := G1FromStrArray(proof.PiA)
	if err != nil {
		return out, fmt.Errorf("pi_a: %w", err)
	}
	b, err := G2FromStrArray(proof.PiB)
	if err != nil {
		return out, fmt.Errorf("pi_b: %w", err)
	}
	c, err := G1FromStrArray(proof.PiC)
	if err != nil {
		return out, fmt.Errorf("pi_c: %w", err)
	}
	out.PiA, out.PiB, out.PiC = a, b, c
	return out, nil
}

// ConvertPublicInputs renders decimal public inputs as 32-byte big-endian
// scalar-field elements.
func ConvertPublicInputs(inputs []string) ([][32]byte, error) {
	out := make([][32]byte, len(inputs))
	for i, s := range inputs {
		b, err := decodeScalar(s)
		if err != nil {
			return nil, fmt.Errorf("public input %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

// VerifyingKey mirrors the on-chain verifier program's Groth16VerifyingKey account
// layout, built from the snarkjs-style JSON file at
// build/keys/verification_key_batch.json.
type VerifyingKey struct {
	AlphaG1 [64]byte
	BetaG2  [128]byte
	GammaG2 [128]byte
	DeltaG2 [128]byte
	IC      [][64]byte
}

// jsonVerifyingKey is the snarkjs wire shape.
type jsonVerifyingKey struct {
	AlphaG1 [3]string    `json:"vk_alpha_1"`
	BetaG2  [3][2]string `json:"vk_beta_2"`
	GammaG2 [3][2]string `json:"vk_gamma_2"`
	DeltaG2 [3][2]string `json:"vk_delta_2"`
	IC      [][3]string  `json:"IC"`
}

func convertVerifyingKey(jvk jsonVerifyingKey) (VerifyingKey, error) {
	var vk VerifyingKey
	var err error
	if vk.AlphaG1, err = G1FromStrArray(jvk.AlphaG1); err != nil {
		return vk, fmt.Errorf("vk_alpha_1: %w", err)
	}
	if vk.BetaG2, err = G2FromStrArray(jvk.BetaG2); err != nil {
		return vk, fmt.Errorf("vk_beta_2: %w", err)
	}
	if vk.GammaG2, err = G2FromStrArray(jvk.GammaG2); err != nil {
		return vk, fmt.Errorf("vk_gamma_2: %w", err)
	}
	if vk.DeltaG2, err = G2FromStrArray(jvk.DeltaG2); err != nil {
		return vk, fmt.Errorf("vk_delta_2: %w", err)
	}
	vk.IC = make([][64]byte, len(jvk.IC))
	for i, p := range jvk.IC {
		ic, err := G1FromStrArray(p)
		if err != nil {
			return vk, fmt.Errorf("IC[%d]: %w", i, err)
		}
		vk.IC[i] = ic
	}
	return vk, nil
}
