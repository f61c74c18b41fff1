// Package node implements a single Chord ring member: routing, join and
// discovery-driven adoption, finger-table maintenance, and the
// stabilization loop that heals a broken successor pointer.
//
// A Node is a process-wide singleton in the sense that exactly one is
// created per running chordnode process; its predecessor, successor, and
// finger table are held as value-typed proto.NodeRef records rather than
// pointers into another node's live state, since ring references are
// resolved to an address at RPC time, not dereferenced in-process.
package node

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"chordkv/internal/chord/config"
	"chordkv/internal/chord/proto"
	"chordkv/internal/chord/ringid"
)

// Transport abstracts the point-to-point RPC a Node needs to talk to
// peers, so tests can substitute an in-process fake instead of dialing
// real TLS sockets.
type Transport interface {
	// Send performs a request/response round trip against addr.
	Send(ctx context.Context, addr string, env proto.Envelope, deadline time.Duration) (proto.Envelope, error)
	// SendOneWay delivers env to addr without waiting for a reply.
	SendOneWay(ctx context.Context, addr string, env proto.Envelope, deadline time.Duration) error
}

// RPCDeadline bounds every ring control RPC, including the one-second
// successor-liveness ping.
const RPCDeadline = 1 * time.Second

// Node holds one ring member's live state.
type Node struct {
	mu sync.RWMutex

	self   proto.NodeRef
	pred   proto.NodeRef
	succ   proto.NodeRef
	finger []proto.NodeRef

	ringSignature  string
	refreshPending bool

	cfg       config.Config
	transport Transport
	blobDir   string
	log       *logrus.Entry
}

// New creates a solo Node: its own predecessor, successor, and every
// finger-table entry, matching the original prototype's FingerTable
// pre-filled with self before any join.
func New(cfg config.Config, transport Transport, log *logrus.Entry) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := ringid.HashAddr(cfg.ListenIP, cfg.ListenPort, cfg.IDBitLen)
	self := proto.NodeRef{IP: cfg.ListenIP, Port: cfg.ListenPort, ID: id, BitLen: cfg.IDBitLen}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %q: %w", cfg.DataDir, err)
	}

	n := &Node{
		self:          self,
		pred:          self,
		succ:          self,
		finger:        newFingerTable(self, cfg.IDBitLen),
		ringSignature: uuid.NewString(),
		cfg:           cfg,
		transport:     transport,
		blobDir:       cfg.DataDir,
		log:           log.WithField("node_id", id),
	}
	return n, nil
}

func newFingerTable(self proto.NodeRef, bitlen uint) []proto.NodeRef {
	table := make([]proto.NodeRef, bitlen)
	for i := range table {
		table[i] = self
	}
	return table
}

// Self returns this node's own reference.
func (n *Node) Self() proto.NodeRef {
	return n.self
}

// Successor returns the current successor pointer.
func (n *Node) Successor() proto.NodeRef {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.succ
}

// Predecessor returns the current predecessor pointer.
func (n *Node) Predecessor() proto.NodeRef {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.pred
}

// RingSignature returns the ring-wide signature this node currently
// believes is valid.
func (n *Node) RingSignature() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ringSignature
}

// FingerTable returns a copy of the current finger table.
func (n *Node) FingerTable() []proto.NodeRef {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]proto.NodeRef, len(n.finger))
	copy(out, n.finger)
	return out
}

// RefreshPending reports whether a deferred finger-table refresh is owed.
func (n *Node) RefreshPending() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.refreshPending
}

// BlobDir returns the directory blobs are stored under.
func (n *Node) BlobDir() string {
	return n.blobDir
}

// IDBitLen returns the ring's identifier width.
func (n *Node) IDBitLen() uint {
	return n.cfg.IDBitLen
}

func (n *Node) setSuccessor(ref proto.NodeRef) {
	n.mu.Lock()
	n.succ = ref
	n.mu.Unlock()
}

func (n *Node) setPredecessor(ref proto.NodeRef) {
	n.mu.Lock()
	n.pred = ref
	n.mu.Unlock()
}

func (n *Node) setRingSignature(sig string) {
	n.mu.Lock()
	n.ringSignature = sig
	n.mu.Unlock()
}

// SetRefreshPending marks (or clears) a deferred finger-table refresh,
// consumed by the stabilization loop on its next tick.
func (n *Node) SetRefreshPending(pending bool) {
	n.mu.Lock()
	n.refreshPending = pending
	n.mu.Unlock()
}

func (n *Node) setFingerEntry(i int, ref proto.NodeRef) {
	n.mu.Lock()
	n.finger[i] = ref
	n.mu.Unlock()
}

func (n *Node) fingerEntry(i int) proto.NodeRef {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.finger[i]
}

// checkRingSignature reports whether sig matches this node's current ring
// signature, the membership check every in-ring (non-bootstrap) RPC must
// pass.
func (n *Node) checkRingSignature(sig string) bool {
	return sig == n.RingSignature()
}

var errWrongSignature = fmt.Errorf("ring signature mismatch")
var errIDInUse = fmt.Errorf("node id already in use")
var errIDOutOfRange = fmt.Errorf("node id out of range")
var errHasFamily = fmt.Errorf("node already has a predecessor and successor, cannot be adopted")
