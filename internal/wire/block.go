package wire

import (
	"fmt"

	"github.com/keato/btc-core/internal/buffer"
	"github.com/keato/btc-core/internal/hash"
	"github.com/keato/btc-core/internal/metrics"
	"github.com/keato/btc-core/internal/tx"
)

// BlockMessage is a decoded block command payload: a header and the
// transactions it commits to. Parsing it is C5's transaction parser
// applied txn_count times after the header — not a separate parser.
type BlockMessage struct {
	Header       BlockHeader
	Transactions []*tx.Transaction
}

// Hash is the block's own content-address: double-SHA-256 of its 80-byte
// header. It's exposed as a convenience for future chain-level work; this
// module does not persist it (C7 stores transactions, not blocks).
func (b *BlockMessage) Hash() hash.Hash32 {
	return hash.DoubleSHA256(encodeBlockHeader(b.Header))
}

func decodeBlock(payload []byte) (*BlockMessage, error) {
	buf := buffer.New(payload)
	header, err := decodeBlockHeader(buf)
	if err != nil {
		return nil, err
	}

	txs := make([]*tx.Transaction, header.TxnCount)
	for i := range txs {
		parsed, err := tx.Parse(buf.Remaining())
		if err != nil {
			return nil, fmt.Errorf("wire: decoding tx %d of %d in block: %w", i, header.TxnCount, err)
		}
		if _, err := buf.ReadBytes(len(parsed.Raw)); err != nil {
			return nil, err
		}
		txs[i] = parsed
	}

	metrics.BlocksIngested.Inc()
	metrics.BlockTxCount.Observe(float64(len(txs)))
	return &BlockMessage{Header: header, Transactions: txs}, nil
}

func encodeBlockHeader(h BlockHeader) []byte {
	out := make([]byte, 0, 80)
	out = appendUint32LE(out, uint32(h.Version))
	out = append(out, h.PrevBlock.Bytes()...)
	out = append(out, h.MerkleRoot.Bytes()...)
	out = appendUint32LE(out, h.Timestamp)
	out = appendUint32LE(out, h.Bits)
	out = appendUint32LE(out, h.Nonce)
	return out
}
