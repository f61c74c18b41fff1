// Package proto implements the Chord ring's wire message codec: a typed
// envelope carrying a source id, a ring signature, and one of a closed set
// of payload variants, encoded self-describingly over a byte stream.
//
// Payloads are a tagged variant implemented via a Go interface rather than a
// generic blob: only this package's payload types can be carried, so
// receivers dispatch with a type switch over a closed set. The compiler does
// not tie an envelope's Kind to its payload type, so a receiver that expects
// a particular payload still checks the type it got.
package proto

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// Kind identifies the semantic type of an Envelope's Payload.
type Kind uint8

const (
	KindJoinReq Kind = iota + 1
	KindJoinResp
	KindSuccReq
	KindSuccResp
	KindPredReq
	KindPredResp
	KindUpdateSuccReq
	KindUpdatePredReq
	KindUpdateFTableReq
	KindPing
	KindPingResp
	KindAdoptReq
	KindGenericResp
	KindCheckFileReq
	KindSendFileReq
	KindMulticast
	KindUpdateAllFTablesReq
)

func (k Kind) String() string {
	switch k {
	case KindJoinReq:
		return "JOIN_REQUEST"
	case KindJoinResp:
		return "JOIN_RESPONSE"
	case KindSuccReq:
		return "SUCC_REQUEST"
	case KindSuccResp:
		return "SUCC_RESPONSE"
	case KindPredReq:
		return "PRED_REQUEST"
	case KindPredResp:
		return "PRED_RESPONSE"
	case KindUpdateSuccReq:
		return "UPDATE_SUCC_REQUEST"
	case KindUpdatePredReq:
		return "UPDATE_PRED_REQUEST"
	case KindUpdateFTableReq:
		return "UPDATE_FTABLE_REQUEST"
	case KindPing:
		return "PING"
	case KindPingResp:
		return "PING_RESPONSE"
	case KindAdoptReq:
		return "ADOPTION_REQUEST"
	case KindGenericResp:
		return "RESPONSE"
	case KindCheckFileReq:
		return "CHECK_FILE"
	case KindSendFileReq:
		return "FILE_SEND_REQUEST"
	case KindMulticast:
		return "MULTICAST"
	case KindUpdateAllFTablesReq:
		return "UPDATE_ALL_FTABLES_REQUEST"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// NodeRef is the immutable (address, id) pair exchanged in payloads.
// Peers are always held by value, never as owning pointers into another
// node's live state — a lookup resolves to the address at RPC time.
type NodeRef struct {
	IP     string
	Port   int
	ID     uint64
	BitLen uint
}

// Payload is implemented by every concrete message body. The marker method
// ties each struct to the package so arbitrary types can't satisfy it by
// accident.
type Payload interface {
	isPayload()
}

type JoinReq struct {
	IP     string
	Port   int
	ID     uint64
	BitLen uint
}

type JoinResp struct {
	Success       bool
	Message       string
	Succ          NodeRef
	Pred          NodeRef
	RingSignature string
}

type SuccReq struct {
	Target uint64
}

type SuccResp struct {
	Success bool
	Ref     NodeRef
}

type PredReq struct {
	Target uint64
}

type PredResp struct {
	Ref NodeRef
}

type UpdateSuccReq struct {
	Ref NodeRef
}

type UpdatePredReq struct {
	Ref NodeRef
}

type UpdateFTableReq struct {
	From         uint64
	To           uint64
	NewOwner     NodeRef
	NewSignature string
}

type Ping struct{}

type PingResp struct {
	Succ NodeRef
	Pred NodeRef
}

type AdoptReq struct{}

type GenericResp struct {
	Success bool
	Message string
}

type CheckFileReq struct {
	BlobID string
}

type SendFileReq struct {
	BlobID string
	Size   int64
}

type Multicast struct{}

// UpdateAllFTablesReq asks the recipient to set its refresh-pending flag
// rather than walk the ring itself (the "deferred refresh" mechanism).
type UpdateAllFTablesReq struct{}

func (JoinReq) isPayload()             {}
func (JoinResp) isPayload()            {}
func (SuccReq) isPayload()             {}
func (SuccResp) isPayload()            {}
func (PredReq) isPayload()             {}
func (PredResp) isPayload()            {}
func (UpdateSuccReq) isPayload()       {}
func (UpdatePredReq) isPayload()       {}
func (UpdateFTableReq) isPayload()     {}
func (Ping) isPayload()                {}
func (PingResp) isPayload()            {}
func (AdoptReq) isPayload()            {}
func (GenericResp) isPayload()         {}
func (CheckFileReq) isPayload()        {}
func (SendFileReq) isPayload()         {}
func (Multicast) isPayload()           {}
func (UpdateAllFTablesReq) isPayload() {}

func init() {
	gob.Register(JoinReq{})
	gob.Register(JoinResp{})
	gob.Register(SuccReq{})
	gob.Register(SuccResp{})
	gob.Register(PredReq{})
	gob.Register(PredResp{})
	gob.Register(UpdateSuccReq{})
	gob.Register(UpdatePredReq{})
	gob.Register(UpdateFTableReq{})
	gob.Register(Ping{})
	gob.Register(PingResp{})
	gob.Register(AdoptReq{})
	gob.Register(GenericResp{})
	gob.Register(CheckFileReq{})
	gob.Register(SendFileReq{})
	gob.Register(Multicast{})
	gob.Register(UpdateAllFTablesReq{})
}

// Envelope is the top-level message exchanged between ring peers.
type Envelope struct {
	Kind          Kind
	SourceID      uint64
	RingSignature string
	Payload       Payload
}

// MaxControlSize bounds any single control message: a single read of up to
// 1024 bytes must suffice for decoding one.
const MaxControlSize = 1024

// Encode serializes an envelope with a gob encoder wrapped in a uint32
// big-endian length prefix, so a reader can frame messages without
// out-of-band delimiters.
func Encode(e Envelope) ([]byte, error) {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(e); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	framed := make([]byte, 4+body.Len())
	binary.BigEndian.PutUint32(framed[:4], uint32(body.Len()))
	copy(framed[4:], body.Bytes())
	return framed, nil
}

// Decode reads one length-prefixed envelope from r.
func Decode(r io.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, fmt.Errorf("read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxControlSize {
		return Envelope{}, fmt.Errorf("frame too large: %d bytes", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, fmt.Errorf("read frame body: %w", err)
	}

	var e Envelope
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}

// DecodeBytes decodes a single envelope already held in memory, used by the
// UDP multicast path where a whole datagram arrives as one []byte without
// framing.
func DecodeBytes(data []byte) (Envelope, error) {
	var e Envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}

// EncodeBytes encodes a single envelope without the length prefix, used by
// the UDP multicast sender which relies on datagram boundaries instead.
func EncodeBytes(e Envelope) ([]byte, error) {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(e); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return body.Bytes(), nil
}
