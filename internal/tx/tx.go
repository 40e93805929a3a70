// Package tx implements the transaction model: parsing, structural
// validation, coinbase detection, and the verify-then-store operation that
// ties a transaction to an external script verifier and a content-addressed
// store.
package tx

import (
	"errors"
	"fmt"

	"github.com/keato/btc-core/internal/buffer"
	"github.com/keato/btc-core/internal/hash"
	"github.com/keato/btc-core/internal/logger"
	"github.com/keato/btc-core/internal/metrics"
)

var log = logger.Component("tx")

// MaxTransactionSize bounds the raw byte length of any transaction
// VerifySyntax accepts, and so of any transaction VerifyAndStore stores.
// Parse itself does not check it.
const MaxTransactionSize = 1_000_000

var (
	ErrTransactionTooLarge       = errors.New("tx: raw length exceeds MaxTransactionSize")
	ErrNoInputs                  = errors.New("tx: transaction has no inputs")
	ErrNoOutputs                 = errors.New("tx: transaction has no outputs")
	ErrDuplicateInputs           = errors.New("tx: two inputs reference the same (prev_hash, prev_index)")
	ErrOutputTransactionNotFound = errors.New("tx: referenced previous transaction not found in store")
	ErrOutputIndexNotFound       = errors.New("tx: previous transaction has no output at that index")
)

// ScriptError wraps the opaque, non-1 return code from the external script
// verifier. The spec does not enumerate codes; they are pass-through.
type ScriptError struct {
	Code  int32
	Input int
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("tx: script verification failed at input %d (code %d)", e.Input, e.Code)
}

// Outcome is the result of a successful VerifyAndStore call.
type Outcome int

const (
	VerifiedAndStored Outcome = iota
	AlreadyExists
)

func (o Outcome) String() string {
	switch o {
	case VerifiedAndStored:
		return "VerifiedAndStored"
	case AlreadyExists:
		return "AlreadyExists"
	default:
		return "unknown"
	}
}

// TxInput is a transaction input. ScriptSig borrows from the containing
// transaction's raw buffer and must not outlive it.
type TxInput struct {
	PrevHash  hash.Hash32
	PrevIndex uint32
	ScriptSig []byte
	Sequence  uint32
}

// TxOutput is a transaction output. Value is signed to round-trip the wire
// format exactly; the value >= 0 invariant is not enforced here.
type TxOutput struct {
	Value    int64
	PkScript []byte
}

// Transaction is a parsed, immutable Bitcoin transaction. Raw is the exact
// byte span it was parsed from and is the authoritative form for hashing
// and script verification.
type Transaction struct {
	Version  int32
	Inputs   []TxInput
	Outputs  []TxOutput
	LockTime uint32
	Raw      []byte
}

// Parse decodes a single non-witness transaction from the front of b.
// It captures the exact consumed span into Transaction.Raw — not the whole
// of b, just the bytes this transaction's fields were read from — so
// callers can parse several transactions back-to-back out of one buffer
// (as the block decoder does).
func Parse(b []byte) (*Transaction, error) {
	buf := buffer.New(b)
	start := buf.Pos()

	version, err := buf.ReadInt32LE()
	if err != nil {
		return nil, err
	}

	inCount, err := buf.ReadCompactSize()
	if err != nil {
		return nil, err
	}
	inputs := make([]TxInput, inCount)
	for i := range inputs {
		in, err := parseTxInput(buf)
		if err != nil {
			return nil, err
		}
		inputs[i] = in
	}

	outCount, err := buf.ReadCompactSize()
	if err != nil {
		return nil, err
	}
	outputs := make([]TxOutput, outCount)
	for i := range outputs {
		out, err := parseTxOutput(buf)
		if err != nil {
			return nil, err
		}
		outputs[i] = out
	}

	lockTime, err := buf.ReadUint32LE()
	if err != nil {
		return nil, err
	}

	metrics.TxParsed.Inc()
	return &Transaction{
		Version:  version,
		Inputs:   inputs,
		Outputs:  outputs,
		LockTime: lockTime,
		Raw:      buf.Since(start),
	}, nil
}

func parseTxInput(buf *buffer.Buffer) (TxInput, error) {
	var in TxInput
	prevHashBytes, err := buf.ReadBytes(32)
	if err != nil {
		return in, err
	}
	prevHash, err := hash.FromSlice(prevHashBytes)
	if err != nil {
		return in, err
	}
	prevIndex, err := buf.ReadUint32LE()
	if err != nil {
		return in, err
	}
	script, err := buf.ReadCompactSizeBytes()
	if err != nil {
		return in, err
	}
	sequence, err := buf.ReadUint32LE()
	if err != nil {
		return in, err
	}
	in.PrevHash = prevHash
	in.PrevIndex = prevIndex
	in.ScriptSig = script
	in.Sequence = sequence
	return in, nil
}

func parseTxOutput(buf *buffer.Buffer) (TxOutput, error) {
	var out TxOutput
	value, err := buf.ReadInt64LE()
	if err != nil {
		return out, err
	}
	script, err := buf.ReadCompactSizeBytes()
	if err != nil {
		return out, err
	}
	out.Value = value
	out.PkScript = script
	return out, nil
}

// Hash returns the double-SHA-256 of the transaction's raw bytes — its
// content-address and wire txid.
func (t *Transaction) Hash() hash.Hash32 {
	return hash.DoubleSHA256(t.Raw)
}

// VerifySyntax performs the structural checks that don't require the
// store: size bound, non-empty inputs/outputs, and no two inputs spending
// the same (prev_hash, prev_index) pair.
func (t *Transaction) VerifySyntax() error {
	if len(t.Raw) > MaxTransactionSize {
		return ErrTransactionTooLarge
	}
	if len(t.Inputs) == 0 {
		return ErrNoInputs
	}
	if len(t.Outputs) == 0 {
		return ErrNoOutputs
	}
	for i := 0; i < len(t.Inputs); i++ {
		for j := i + 1; j < len(t.Inputs); j++ {
			if t.Inputs[i].PrevIndex == t.Inputs[j].PrevIndex &&
				t.Inputs[i].PrevHash.Equal(t.Inputs[j].PrevHash) {
				return ErrDuplicateInputs
			}
		}
	}
	return nil
}

// IsCoinbase reports whether t has exactly one input whose previous-output
// hash is null. The previous-output index is not checked.
func (t *Transaction) IsCoinbase() bool {
	return len(t.Inputs) == 1 && t.Inputs[0].PrevHash.IsNull()
}

// ExtractCoinbaseHeight reads the block height a coinbase's scriptSig
// encodes per BIP34: a push of 1-4 little-endian bytes as the first opcode.
// It returns 0 for non-coinbase transactions or a scriptSig that doesn't
// start with a recognizable height push — this is a read-only convenience,
// not a validation rule.
func ExtractCoinbaseHeight(t *Transaction) int32 {
	if !t.IsCoinbase() {
		return 0
	}
	script := t.Inputs[0].ScriptSig
	if len(script) < 1 {
		return 0
	}
	n := int(script[0])
	if n == 0 || n > 4 || len(script) < 1+n {
		return 0
	}
	var height int32
	for i := 0; i < n; i++ {
		height |= int32(script[1+i]) << (8 * uint(i))
	}
	return height
}

// Store is the content-addressed persistence contract VerifyAndStore needs:
// lookup and read of already-stored transactions, and an atomic
// insert-if-absent that gives verify_and_store its at-most-once guarantee.
// internal/store ships both an in-memory and a Postgres-backed implementation.
type Store interface {
	// Lookup returns the pointer stored under h, or ok=false if absent.
	Lookup(h hash.Hash32) (ptr uint64, ok bool)
	// Read returns the raw bytes previously written at ptr.
	Read(ptr uint64) ([]byte, error)
	// InsertIfAbsent atomically inserts raw under h unless h is already
	// present, in which case it reports existed=true and does not write.
	InsertIfAbsent(h hash.Hash32, raw []byte) (ptr uint64, existed bool, err error)
}

// Verifier is the external script-verifier boundary: a pure function of its
// inputs returning 1 for a valid (scriptSig, pkScript) pair and any other
// value as an opaque failure code. internal/scriptverify ships the default
// implementation.
type Verifier func(spendingTx []byte, pkScript []byte, inputIndex int, flags uint32) int32

// VerifyAndStore runs the full C6 validator: syntax checks, the
// already-exists short-circuit, input-script verification for non-coinbase
// transactions, then an at-most-once store write. verifier may be nil, in
// which case callers get ErrNoVerifier for any non-coinbase transaction —
// wire up internal/scriptverify.Verify (or a test double) explicitly.
func (t *Transaction) VerifyAndStore(store Store, verifier Verifier, flags uint32) (Outcome, error) {
	if err := t.VerifySyntax(); err != nil {
		metrics.TxRejected.WithLabelValues(rejectReason(err)).Inc()
		return 0, err
	}

	h := t.Hash()
	if _, ok := store.Lookup(h); ok {
		metrics.TxAlreadyExists.Inc()
		return AlreadyExists, nil
	}

	if !t.IsCoinbase() {
		if err := t.verifyInputScripts(store, verifier, flags); err != nil {
			metrics.TxRejected.WithLabelValues(rejectReason(err)).Inc()
			return 0, err
		}
	}

	_, existed, err := store.InsertIfAbsent(h, t.Raw)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("insert_if_absent").Inc()
		return 0, err
	}
	if existed {
		metrics.TxAlreadyExists.Inc()
		return AlreadyExists, nil
	}
	metrics.TxVerifiedStored.Inc()
	return VerifiedAndStored, nil
}

// rejectReason maps a VerifyAndStore error to a low-cardinality label for
// the btccore_tx_rejected_total metric.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrTransactionTooLarge):
		return "too_large"
	case errors.Is(err, ErrNoInputs):
		return "no_inputs"
	case errors.Is(err, ErrNoOutputs):
		return "no_outputs"
	case errors.Is(err, ErrDuplicateInputs):
		return "duplicate_inputs"
	case errors.Is(err, ErrOutputTransactionNotFound):
		return "output_tx_not_found"
	case errors.Is(err, ErrOutputIndexNotFound):
		return "output_index_not_found"
	case errors.Is(err, ErrNoVerifier):
		return "no_verifier"
	default:
		var scriptErr *ScriptError
		if errors.As(err, &scriptErr) {
			return "script_failure"
		}
		return "other"
	}
}

// ErrNoVerifier is returned when VerifyAndStore needs to check input
// scripts but was not given a Verifier.
var ErrNoVerifier = errors.New("tx: no script verifier supplied for a non-coinbase transaction")

func (t *Transaction) verifyInputScripts(store Store, verifier Verifier, flags uint32) error {
	if verifier == nil {
		return ErrNoVerifier
	}
	for i, in := range t.Inputs {
		ptr, ok := store.Lookup(in.PrevHash)
		if !ok {
			log.Debug().Str("prev_hash", in.PrevHash.String()).Int("input", i).
				Msg("previous transaction not found in store")
			return ErrOutputTransactionNotFound
		}
		prevRaw, err := store.Read(ptr)
		if err != nil {
			return err
		}
		prevTx, err := Parse(prevRaw)
		if err != nil {
			return err
		}
		if int(in.PrevIndex) >= len(prevTx.Outputs) {
			log.Debug().Str("prev_hash", in.PrevHash.String()).Uint32("prev_index", in.PrevIndex).
				Msg("previous transaction has no output at that index")
			return ErrOutputIndexNotFound
		}
		prevOut := prevTx.Outputs[in.PrevIndex]

		code := verifier(t.Raw, prevOut.PkScript, i, flags)
		if code != 1 {
			return &ScriptError{Code: code, Input: i}
		}
	}
	return nil
}
