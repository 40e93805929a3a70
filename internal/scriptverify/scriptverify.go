// Package scriptverify is the default implementation of the C8
// script-verifier boundary: it wraps github.com/btcsuite/btcd/txscript
// behind the tx.Verifier function shape (spending_tx, pk_script,
// input_index, flags) -> int32.
package scriptverify

import (
	"bytes"
	"time"

	"github.com/btcsuite/btcd/txscript"
	btcdwire "github.com/btcsuite/btcd/wire"

	"github.com/keato/btc-core/internal/metrics"
)

// Success is the "valid" return code of the Verify contract.
const Success int32 = 1

// Failure codes. FailureDeserialize and FailureInputRange are detected by
// this boundary before txscript is called; FailureEngine means
// txscript.NewEngine refused to build an engine; FailureScript means the
// engine ran and rejected the script. The engine's own error is not passed
// through — the code is opaque to callers.
const (
	FailureDeserialize int32 = -1
	FailureInputRange  int32 = -2
	FailureEngine      int32 = -3
	FailureScript      int32 = -4
)

// Verify deserializes spendingTx as a non-witness wire.MsgTx, builds a
// txscript.Engine for the given input against pkScript, and executes it.
// It matches the tx.Verifier signature and is the verifier cmd/btccore-ingest
// passes to tx.VerifyAndStore; VerifyAndStore itself has no default verifier.
func Verify(spendingTx []byte, pkScript []byte, inputIndex int, flags uint32) int32 {
	start := time.Now()
	defer func() {
		metrics.ScriptVerifyDuration.Observe(time.Since(start).Seconds())
	}()

	var msgTx btcdwire.MsgTx
	if err := msgTx.DeserializeNoWitness(bytes.NewReader(spendingTx)); err != nil {
		return FailureDeserialize
	}
	if inputIndex < 0 || inputIndex >= len(msgTx.TxIn) {
		return FailureInputRange
	}

	// This core doesn't track the spent output's value (the store indexes
	// transactions, not a UTXO set with amounts), so the canned fetcher
	// reports 0. That's sufficient for legacy (non-segwit, non-taproot)
	// sig-hash computation, which is the only wire format this module parses.
	prevOutFetcher := txscript.NewCannedPrevOutputFetcher(pkScript, 0)
	hashCache := txscript.NewTxSigHashes(&msgTx, prevOutFetcher)

	engine, err := txscript.NewEngine(
		pkScript, &msgTx, inputIndex, txscript.ScriptFlags(flags),
		nil, hashCache, 0, prevOutFetcher)
	if err != nil {
		return FailureEngine
	}
	if err := engine.Execute(); err != nil {
		return FailureScript
	}
	return Success
}
