// Package prover drives the external SNARK prover: it turns a successful
// batch into a circuit input file, execs the prover subprocess, and parses
// the resulting proof artifact. The prover itself is a black box exercised
// only through environment variables and file paths.
package prover

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/certen/rollup-coordinator/internal/loader"
	"github.com/certen/rollup-coordinator/internal/rollup"
)

// FallbackAmount is substituted when the transfer amount cannot be parsed
// out of a transaction's instruction data.
const FallbackAmount = 1_000_000

// lamportsPerSol and microScale implement the lamports/10^9*10^6 scaling
// the circuit's field-element ranges require.
const (
	lamportsPerSol = 1_000_000_000
	microScale     = 1_000_000
	settlementFee  = 5000
)

// Config configures where the driver reads/writes its files and what it
// execs.
type Config struct {
	ScriptPath string // default ./scripts/setup_and_prove.sh
	DataDir    string // root the build/ and circuit/build/ paths hang off
	BatchSize  int    // N, the fixed batch cardinality
	Logger     *log.Logger
}

func (c *Config) setDefaults() {
	if c.ScriptPath == "" {
		c.ScriptPath = "./scripts/setup_and_prove.sh"
	}
	if c.DataDir == "" {
		c.DataDir = "."
	}
	if c.BatchSize == 0 {
		c.BatchSize = 3
	}
	if c.Logger == nil {
		c.Logger = log.New(log.Writer(), "[Prover] ", log.LstdFlags)
	}
}

// Driver runs the prover subprocess for a batch.
type Driver struct {
	cfg Config
}

// New constructs a Driver with defaults applied.
func New(cfg Config) *Driver {
	cfg.setDefaults()
	return &Driver{cfg: cfg}
}

// BuildInput constructs the BatchCircuitInput for a successfully-executed
// batch, querying pre-balances from the loader and deriving post-balances
// and transfer amounts.
func (d *Driver) BuildInput(ctx context.Context, batch []rollup.Transaction, l *loader.AccountLoader) (rollup.BatchCircuitInput, error) {
	n := d.cfg.BatchSize
	input := rollup.BatchCircuitInput{
		TransferAmounts: make([]uint64, 0, n),
		FirstSigBytes:   make([]uint64, 0, n),
		PreBalances:     make([]uint64, 0, n),
		PostBalances:    make([]uint64, 0, n),
	}

	for _, tx := range batch {
		amount := extractTransferAmount(tx)
		input.TransferAmounts = append(input.TransferAmounts, amount)
		input.FirstSigBytes = append(input.FirstSigBytes, firstSignatureByte(tx))

		pre := uint64(0)
		if len(tx.Message.AccountKeys) > 0 {
			if rec, err := l.Get(ctx, tx.Message.AccountKeys[0]); err == nil {
				pre = scaleLamports(rec.Lamports)
			}
		}
		input.PreBalances = append(input.PreBalances, pre)
		input.PostBalances = append(input.PostBalances, postBalance(pre))
	}

	for len(input.TransferAmounts) < n {
		input.TransferAmounts = append(input.TransferAmounts, 1)
		input.FirstSigBytes = append(input.FirstSigBytes, 1)
		input.PreBalances = append(input.PreBalances, 0)
		input.PostBalances = append(input.PostBalances, 0)
	}

	return input, nil
}

func scaleLamports(lamports uint64) uint64 {
	return (lamports / lamportsPerSol) * microScale
}

func postBalance(pre uint64) uint64 {
	if pre < settlementFee {
		return 0
	}
	return pre - settlementFee
}

func extractTransferAmount(tx rollup.Transaction) uint64 {
	if len(tx.Message.Instructions) == 0 {
		return FallbackAmount
	}
	inst := tx.Message.Instructions[0]
	if inst.ProgramIDIndex != 0 {
		return FallbackAmount
	}
	if len(inst.Data) < 12 {
		return FallbackAmount
	}
	if inst.Data[0] != 2 || inst.Data[1] != 0 || inst.Data[2] != 0 || inst.Data[3] != 0 {
		return FallbackAmount
	}
	return binary.LittleEndian.Uint64(inst.Data[4:12])
}

func firstSignatureByte(tx rollup.Transaction) uint64 {
	sig, ok := tx.FirstSignature()
	if !ok {
		return 0
	}
	raw, err := rollup.DecodeSignature(sig)
	if err != nil || len(raw) == 0 {
		return 0
	}
	return uint64(raw[0])
}

// inputPath and the two candidate output paths the prover script honors.
func (d *Driver) inputPath(batchID string) string {
	return filepath.Join(d.cfg.DataDir, "circuit", "build", fmt.Sprintf("input_batch_%s.json", batchID))
}

func (d *Driver) primaryOutputPath(batchID string) string {
	return filepath.Join(d.cfg.DataDir, "build", fmt.Sprintf("proof_batch_%s.json", batchID))
}

func (d *Driver) fallbackOutputPath() string {
	return filepath.Join(d.cfg.DataDir, "build", "proof_batch.json")
}

// Run writes the circuit input, execs the prover subprocess, and parses the
// resulting artifact. The subprocess is invoked with BATCH_ID and
// INPUT_FILE environment variables; exit status zero plus a readable
// artifact is success.
func (d *Driver) Run(ctx context.Context, batchID string, input rollup.BatchCircuitInput) (*rollup.Groth16Proof, string, error) {
	inputPath := d.inputPath(batchID)
	if err := os.MkdirAll(filepath.Dir(inputPath), 0o755); err != nil {
		return nil, "", fmt.Errorf("prover: creating input dir: %w", err)
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, "", fmt.Errorf("prover: marshaling circuit input: %w", err)
	}
	if err := os.WriteFile(inputPath, raw, 0o644); err != nil {
		return nil, "", fmt.Errorf("prover: writing circuit input: %w", err)
	}

	cmd := exec.CommandContext(ctx, d.cfg.ScriptPath)
	cmd.Env = append(os.Environ(),
		"BATCH_ID="+batchID,
		"INPUT_FILE="+inputPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		d.cfg.Logger.Printf("subprocess failed for batch %s: %v\n%s", batchID, err, out)
		return nil, "", fmt.Errorf("%w: %v", ErrSubprocessFailed, err)
	}

	artifactPath := d.primaryOutputPath(batchID)
	body, err := os.ReadFile(artifactPath)
	if err != nil {
		artifactPath = d.fallbackOutputPath()
		body, err = os.ReadFile(artifactPath)
		if err != nil {
			return nil, "", ErrArtifactMissing
		}
	}

	var proof rollup.Groth16Proof
	if err := json.Unmarshal(body, &proof); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrArtifactMalformed, err)
	}

	return &proof, artifactPath, nil
}

// publicInputsPath is the fixed location of the prover's public-inputs
// artifact: unlike the proof itself, it is not batch-scoped.
func (d *Driver) publicInputsPath() string {
	return filepath.Join(d.cfg.DataDir, "build", "public_batch.json")
}

// ReadPublicInputs reads the prover's public-inputs artifact, written
// alongside the proof by the same subprocess invocation. A missing or
// malformed file is reported as ErrArtifactMissing/ErrArtifactMalformed so
// callers can treat it the same way as a missing proof artifact.
func (d *Driver) ReadPublicInputs() ([]string, error) {
	body, err := os.ReadFile(d.publicInputsPath())
	if err != nil {
		return nil, ErrArtifactMissing
	}
	var inputs []string
	if err := json.Unmarshal(body, &inputs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactMalformed, err)
	}
	return inputs, nil
}
