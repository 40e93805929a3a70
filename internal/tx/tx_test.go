package tx

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keato/btc-core/internal/hash"
	"github.com/keato/btc-core/internal/store"
)

// A minimal well-formed non-witness transaction: one input spending a null
// prev-output (coinbase), one output. Built by hand from the wire layout in
// §4.5/§6, not copied from any single fixture.
func coinbaseTxBytes() []byte {
	b, err := hex.DecodeString(
		"01000000" + // version
			"01" + // input count
			"0000000000000000000000000000000000000000000000000000000000000000" + // prev hash (32 zero bytes)
			"ffffffff" + // prev index
			"04" + "03affd00" + // scriptSig: push 4 bytes (height push, 0x00fdaf03)
			"ffffffff" + // sequence
			"01" + // output count
			"00f2052a01000000" + // value: 50 BTC
			"00" + // empty pk_script
			"00000000") // locktime
	if err != nil {
		panic(err)
	}
	return b
}

func TestParseRoundTrip(t *testing.T) {
	raw := coinbaseTxBytes()
	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, parsed.Raw)
}

func TestHashStability(t *testing.T) {
	raw := coinbaseTxBytes()
	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, hash.DoubleSHA256(raw), parsed.Hash())
}

func TestIsCoinbase(t *testing.T) {
	parsed, err := Parse(coinbaseTxBytes())
	require.NoError(t, err)
	assert.True(t, parsed.IsCoinbase())
}

func TestExtractCoinbaseHeight(t *testing.T) {
	parsed, err := Parse(coinbaseTxBytes())
	require.NoError(t, err)
	assert.Equal(t, int32(0x00fdaf03), ExtractCoinbaseHeight(parsed))
}

func TestVerifySyntaxRejectsEmptyInputsOutputs(t *testing.T) {
	tooFewIn := &Transaction{Outputs: []TxOutput{{}}, Raw: []byte{0x01}}
	assert.ErrorIs(t, tooFewIn.VerifySyntax(), ErrNoInputs)

	tooFewOut := &Transaction{Inputs: []TxInput{{}}, Raw: []byte{0x01}}
	assert.ErrorIs(t, tooFewOut.VerifySyntax(), ErrNoOutputs)
}

func TestVerifySyntaxTooLarge(t *testing.T) {
	big := &Transaction{
		Inputs:  []TxInput{{}},
		Outputs: []TxOutput{{}},
		Raw:     make([]byte, MaxTransactionSize+1),
	}
	assert.ErrorIs(t, big.VerifySyntax(), ErrTransactionTooLarge)
}

// S6 / property 7: duplicate (prev_hash, prev_index) pairs are rejected
// regardless of ordering.
func TestDuplicateInputDetection(t *testing.T) {
	var sharedHash hash.Hash32
	for i := range sharedHash {
		sharedHash[i] = 0xAA
	}
	mk := func(a, b TxInput) *Transaction {
		return &Transaction{
			Inputs:  []TxInput{a, b},
			Outputs: []TxOutput{{}},
			Raw:     []byte{0x01},
		}
	}
	in1 := TxInput{PrevHash: sharedHash, PrevIndex: 0}
	in2 := TxInput{PrevHash: sharedHash, PrevIndex: 0}

	assert.ErrorIs(t, mk(in1, in2).VerifySyntax(), ErrDuplicateInputs)
	assert.ErrorIs(t, mk(in2, in1).VerifySyntax(), ErrDuplicateInputs)
}

func TestVerifyAndStoreCoinbaseSkipsScriptVerification(t *testing.T) {
	parsed, err := Parse(coinbaseTxBytes())
	require.NoError(t, err)

	s := store.NewMemStore()
	outcome, err := parsed.VerifyAndStore(s, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, VerifiedAndStored, outcome)
}

// Property 6 / S-scenario: calling verify_and_store twice on the same
// transaction returns AlreadyExists the second time and performs no write.
func TestVerifyAndStoreIdempotent(t *testing.T) {
	parsed, err := Parse(coinbaseTxBytes())
	require.NoError(t, err)

	s := store.NewMemStore()
	first, err := parsed.VerifyAndStore(s, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, VerifiedAndStored, first)

	second, err := parsed.VerifyAndStore(s, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, AlreadyExists, second)
	assert.Equal(t, 1, s.Count())
}

func TestVerifyAndStoreRequiresVerifierForNonCoinbase(t *testing.T) {
	nonCoinbase := &Transaction{
		Inputs:  []TxInput{{PrevHash: hash.Hash32{0x01}, PrevIndex: 0}},
		Outputs: []TxOutput{{Value: 1}},
		Raw:     []byte{0x01, 0x02, 0x03},
	}
	s := store.NewMemStore()
	_, err := nonCoinbase.VerifyAndStore(s, nil, 0)
	assert.ErrorIs(t, err, ErrNoVerifier)
}

func TestVerifyInputScriptsOutputTransactionNotFound(t *testing.T) {
	nonCoinbase := &Transaction{
		Inputs:  []TxInput{{PrevHash: hash.Hash32{0x01}, PrevIndex: 0}},
		Outputs: []TxOutput{{Value: 1}},
		Raw:     []byte{0x01, 0x02, 0x03},
	}
	s := store.NewMemStore()
	alwaysValid := func(_ []byte, _ []byte, _ int, _ uint32) int32 { return 1 }
	_, err := nonCoinbase.VerifyAndStore(s, alwaysValid, 0)
	assert.ErrorIs(t, err, ErrOutputTransactionNotFound)
}

func TestVerifyInputScriptsRejectsNonOneReturn(t *testing.T) {
	prev, err := Parse(coinbaseTxBytes())
	require.NoError(t, err)

	s := store.NewMemStore()
	_, _, err = s.InsertIfAbsent(prev.Hash(), prev.Raw)
	require.NoError(t, err)

	spending := &Transaction{
		Inputs:  []TxInput{{PrevHash: prev.Hash(), PrevIndex: 0}},
		Outputs: []TxOutput{{Value: 1}},
		Raw:     []byte{0x01, 0x02, 0x03},
	}
	rejecting := func(_ []byte, _ []byte, _ int, _ uint32) int32 { return -1 }
	_, err = spending.VerifyAndStore(s, rejecting, 0)
	var scriptErr *ScriptError
	require.ErrorAs(t, err, &scriptErr)
	assert.Equal(t, int32(-1), scriptErr.Code)
}
