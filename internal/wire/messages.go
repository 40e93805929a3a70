package wire

import (
	"net"
	"strings"

	"github.com/keato/btc-core/internal/buffer"
	"github.com/keato/btc-core/internal/hash"
	"github.com/keato/btc-core/internal/metrics"
	"github.com/keato/btc-core/internal/tx"
)

// NetAddr is a network address as it appears embedded in version and addr
// messages. Time is nil for the version-handshake form, which omits it.
type NetAddr struct {
	Time     *uint32
	Services uint64
	IP       net.IP
	Port     uint16
}

type VersionMessage struct {
	Version     int32
	Services    uint64
	Timestamp   int64
	AddrRecv    NetAddr
	AddrFrom    NetAddr
	Nonce       uint64
	UserAgent   string
	StartHeight int32
	Relay       bool
}

type VerackMessage struct{}
type SendHeadersMessage struct{}

type PingMessage struct{ Nonce uint64 }
type PongMessage struct{ Nonce uint64 }
type FeeFilterMessage struct{ FeeRate uint64 }

type SendCmpctMessage struct {
	Announce bool
	Version  uint64
}

type InventoryVector struct {
	Type uint32
	Hash hash.Hash32
}

type InvMessage struct{ Inventory []InventoryVector }
type GetDataMessage struct{ Inventory []InventoryVector }

type GetBlocksMessage struct {
	Version       uint32
	LocatorHashes []hash.Hash32
	HashStop      hash.Hash32
}

type GetHeadersMessage struct {
	Version       uint32
	LocatorHashes []hash.Hash32
	HashStop      hash.Hash32
}

type BlockHeader struct {
	Version    int32
	PrevBlock  hash.Hash32
	MerkleRoot hash.Hash32
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32
	TxnCount   uint64
}

type HeadersMessage struct{ Headers []BlockHeader }

type AddrMessage struct{ Addrs []NetAddr }

// PeerCountRequestMessage is the bcr_pcr custom extension: an authenticated
// peer-count query.
type PeerCountRequestMessage struct {
	Nonce     [8]byte
	Signature [32]byte
}

// PeerCountMessage is the bcr_pc custom extension response.
type PeerCountMessage struct{ Count uint64 }

// TxMessage wraps a parsed standalone transaction broadcast.
type TxMessage struct{ Transaction *tx.Transaction }

// UnparsedMessage is the opaque fallback for any command this decoder
// doesn't recognize. The payload is retained verbatim.
type UnparsedMessage struct {
	Command string
	Payload []byte
}

// DecodeMessage dispatches on command and decodes payload into one of the
// typed messages above, or an UnparsedMessage for anything it doesn't
// recognize. An unrecognized command is never an error — the caller
// decides policy for it.
func DecodeMessage(command string, payload []byte) (interface{}, error) {
	metrics.MessagesDecoded.WithLabelValues(command).Inc()
	switch command {
	case "version":
		return decodeVersion(payload)
	case "verack":
		return VerackMessage{}, nil
	case "sendheaders":
		return SendHeadersMessage{}, nil
	case "ping":
		n, err := decodeNonce(payload)
		if err != nil {
			return nil, err
		}
		return PingMessage{Nonce: n}, nil
	case "pong":
		n, err := decodeNonce(payload)
		if err != nil {
			return nil, err
		}
		return PongMessage{Nonce: n}, nil
	case "feefilter":
		n, err := decodeNonce(payload)
		if err != nil {
			return nil, err
		}
		return FeeFilterMessage{FeeRate: n}, nil
	case "sendcmpct":
		return decodeSendCmpct(payload)
	case "inv":
		return decodeInv(payload)
	case "getdata":
		inv, err := decodeInv(payload)
		if err != nil {
			return nil, err
		}
		return GetDataMessage{Inventory: inv.Inventory}, nil
	case "getblocks":
		return decodeGetBlocks(payload)
	case "getheaders":
		return decodeGetHeaders(payload)
	case "headers":
		return decodeHeaders(payload)
	case "addr":
		return decodeAddr(payload)
	case "bcr_pcr":
		return decodePeerCountRequest(payload)
	case "bcr_pc":
		n, err := decodeNonce(payload)
		if err != nil {
			return nil, err
		}
		return PeerCountMessage{Count: n}, nil
	case "tx":
		parsed, err := tx.Parse(payload)
		if err != nil {
			return nil, err
		}
		return TxMessage{Transaction: parsed}, nil
	case "block":
		return decodeBlock(payload)
	default:
		return UnparsedMessage{
			Command: command,
			Payload: append([]byte(nil), payload...),
		}, nil
	}
}

func decodeNonce(payload []byte) (uint64, error) {
	return buffer.New(payload).ReadUint64LE()
}

func decodeVersionNetAddr(buf *buffer.Buffer) (NetAddr, error) {
	var addr NetAddr
	services, err := buf.ReadUint64LE()
	if err != nil {
		return addr, err
	}
	ipBytes, err := buf.ReadBytes(16)
	if err != nil {
		return addr, err
	}
	port, err := buf.ReadUint16BE()
	if err != nil {
		return addr, err
	}
	addr.Services = services
	addr.IP = append(net.IP(nil), ipBytes...)
	addr.Port = port
	return addr, nil
}

func decodeNetAddr(buf *buffer.Buffer) (NetAddr, error) {
	t, err := buf.ReadUint32LE()
	if err != nil {
		return NetAddr{}, err
	}
	addr, err := decodeVersionNetAddr(buf)
	if err != nil {
		return NetAddr{}, err
	}
	addr.Time = &t
	return addr, nil
}

// decodeLossyUTF8 replaces invalid UTF-8 sequences with the replacement
// character rather than rejecting them, so a misbehaving peer's user agent
// string never turns into a parse failure.
func decodeLossyUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

func decodeVersion(payload []byte) (*VersionMessage, error) {
	buf := buffer.New(payload)
	v := &VersionMessage{}
	var err error

	if v.Version, err = buf.ReadInt32LE(); err != nil {
		return nil, err
	}
	if v.Services, err = buf.ReadUint64LE(); err != nil {
		return nil, err
	}
	if v.Timestamp, err = buf.ReadInt64LE(); err != nil {
		return nil, err
	}
	if v.AddrRecv, err = decodeVersionNetAddr(buf); err != nil {
		return nil, err
	}
	if v.AddrFrom, err = decodeVersionNetAddr(buf); err != nil {
		return nil, err
	}
	if v.Nonce, err = buf.ReadUint64LE(); err != nil {
		return nil, err
	}
	uaBytes, err := buf.ReadCompactSizeBytes()
	if err != nil {
		return nil, err
	}
	v.UserAgent = decodeLossyUTF8(uaBytes)
	if v.StartHeight, err = buf.ReadInt32LE(); err != nil {
		return nil, err
	}
	if v.Version >= 70001 && buf.Len() > 0 {
		relay, err := buf.ReadUint8()
		if err != nil {
			return nil, err
		}
		v.Relay = relay == 0x01
	}
	return v, nil
}

func decodeInvVector(buf *buffer.Buffer) (InventoryVector, error) {
	var v InventoryVector
	t, err := buf.ReadUint32LE()
	if err != nil {
		return v, err
	}
	hBytes, err := buf.ReadBytes(32)
	if err != nil {
		return v, err
	}
	h, err := hash.FromSlice(hBytes)
	if err != nil {
		return v, err
	}
	v.Type = t
	v.Hash = h
	return v, nil
}

func decodeInv(payload []byte) (*InvMessage, error) {
	buf := buffer.New(payload)
	count, err := buf.ReadCompactSize()
	if err != nil {
		return nil, err
	}
	items := make([]InventoryVector, count)
	for i := range items {
		if items[i], err = decodeInvVector(buf); err != nil {
			return nil, err
		}
	}
	return &InvMessage{Inventory: items}, nil
}

func decodeLocator(payload []byte) (uint32, []hash.Hash32, hash.Hash32, error) {
	buf := buffer.New(payload)
	version, err := buf.ReadUint32LE()
	if err != nil {
		return 0, nil, hash.Hash32{}, err
	}
	count, err := buf.ReadCompactSize()
	if err != nil {
		return 0, nil, hash.Hash32{}, err
	}
	hashes := make([]hash.Hash32, count)
	for i := range hashes {
		b, err := buf.ReadBytes(32)
		if err != nil {
			return 0, nil, hash.Hash32{}, err
		}
		if hashes[i], err = hash.FromSlice(b); err != nil {
			return 0, nil, hash.Hash32{}, err
		}
	}
	stopBytes, err := buf.ReadBytes(32)
	if err != nil {
		return 0, nil, hash.Hash32{}, err
	}
	stop, err := hash.FromSlice(stopBytes)
	if err != nil {
		return 0, nil, hash.Hash32{}, err
	}
	return version, hashes, stop, nil
}

func decodeGetBlocks(payload []byte) (*GetBlocksMessage, error) {
	version, hashes, stop, err := decodeLocator(payload)
	if err != nil {
		return nil, err
	}
	return &GetBlocksMessage{Version: version, LocatorHashes: hashes, HashStop: stop}, nil
}

func decodeGetHeaders(payload []byte) (*GetHeadersMessage, error) {
	version, hashes, stop, err := decodeLocator(payload)
	if err != nil {
		return nil, err
	}
	return &GetHeadersMessage{Version: version, LocatorHashes: hashes, HashStop: stop}, nil
}

func decodeBlockHeader(buf *buffer.Buffer) (BlockHeader, error) {
	var h BlockHeader
	var err error
	if h.Version, err = buf.ReadInt32LE(); err != nil {
		return h, err
	}
	pb, err := buf.ReadBytes(32)
	if err != nil {
		return h, err
	}
	if h.PrevBlock, err = hash.FromSlice(pb); err != nil {
		return h, err
	}
	mr, err := buf.ReadBytes(32)
	if err != nil {
		return h, err
	}
	if h.MerkleRoot, err = hash.FromSlice(mr); err != nil {
		return h, err
	}
	if h.Timestamp, err = buf.ReadUint32LE(); err != nil {
		return h, err
	}
	if h.Bits, err = buf.ReadUint32LE(); err != nil {
		return h, err
	}
	if h.Nonce, err = buf.ReadUint32LE(); err != nil {
		return h, err
	}
	if h.TxnCount, err = buf.ReadCompactSize(); err != nil {
		return h, err
	}
	return h, nil
}

func decodeHeaders(payload []byte) (*HeadersMessage, error) {
	buf := buffer.New(payload)
	count, err := buf.ReadCompactSize()
	if err != nil {
		return nil, err
	}
	headers := make([]BlockHeader, count)
	for i := range headers {
		if headers[i], err = decodeBlockHeader(buf); err != nil {
			return nil, err
		}
	}
	return &HeadersMessage{Headers: headers}, nil
}

func decodeAddr(payload []byte) (*AddrMessage, error) {
	buf := buffer.New(payload)
	count, err := buf.ReadCompactSize()
	if err != nil {
		return nil, err
	}
	addrs := make([]NetAddr, count)
	for i := range addrs {
		if addrs[i], err = decodeNetAddr(buf); err != nil {
			return nil, err
		}
	}
	return &AddrMessage{Addrs: addrs}, nil
}

func decodeSendCmpct(payload []byte) (*SendCmpctMessage, error) {
	buf := buffer.New(payload)
	announce, err := buf.ReadUint8()
	if err != nil {
		return nil, err
	}
	version, err := buf.ReadUint64LE()
	if err != nil {
		return nil, err
	}
	return &SendCmpctMessage{Announce: announce == 0x01, Version: version}, nil
}

func decodePeerCountRequest(payload []byte) (*PeerCountRequestMessage, error) {
	buf := buffer.New(payload)
	nonceBytes, err := buf.ReadBytes(8)
	if err != nil {
		return nil, err
	}
	sigBytes, err := buf.ReadBytes(32)
	if err != nil {
		return nil, err
	}
	var m PeerCountRequestMessage
	copy(m.Nonce[:], nonceBytes)
	copy(m.Signature[:], sigBytes)
	return &m, nil
}

// EncodeVersionMessage serializes v back to wire bytes, for round-trip
// tests and for any caller re-emitting a version message.
func EncodeVersionMessage(v *VersionMessage) []byte {
	out := make([]byte, 0, 128)
	out = appendUint32LE(out, uint32(v.Version))
	out = appendUint64LE(out, v.Services)
	out = appendUint64LE(out, uint64(v.Timestamp))
	out = appendNetAddrNoTime(out, v.AddrRecv)
	out = appendNetAddrNoTime(out, v.AddrFrom)
	out = appendUint64LE(out, v.Nonce)
	out = append(out, buffer.EncodeCompactSize(uint64(len(v.UserAgent)))...)
	out = append(out, v.UserAgent...)
	out = appendUint32LE(out, uint32(v.StartHeight))
	if v.Version >= 70001 {
		if v.Relay {
			out = append(out, 0x01)
		} else {
			out = append(out, 0x00)
		}
	}
	return out
}

func appendNetAddrNoTime(out []byte, addr NetAddr) []byte {
	out = appendUint64LE(out, addr.Services)
	ip16 := addr.IP.To16()
	if ip16 == nil {
		ip16 = make([]byte, 16)
	}
	out = append(out, ip16...)
	out = append(out, byte(addr.Port>>8), byte(addr.Port))
	return out
}

func appendUint32LE(out []byte, v uint32) []byte {
	return append(out, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendUint64LE(out []byte, v uint64) []byte {
	return append(out,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}
