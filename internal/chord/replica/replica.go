// Package replica implements opportunistic successor-set replication of
// opaque blobs: a blob's home is the ring member whose id is its
// successor under identifier hashing, and the home plus the K-1 nodes that
// follow it on the ring each hold a best-effort copy, repaired periodically by
// comparing against a CHECK_FILE probe rather than any quorum protocol.
package replica

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"chordkv/internal/chord/proto"
)

// Finder is the subset of node.Node the replication engine needs for
// routing: who owns an id, who this node's own neighbors are, and the
// current ring signature to stamp on outgoing RPCs.
type Finder interface {
	Self() proto.NodeRef
	Successor() proto.NodeRef
	FindSuccessor(ctx context.Context, target uint64) (proto.NodeRef, error)
	RingSignature() string
}

// Transport is the RPC surface the engine needs to reach other ring
// members: a bounded control round trip, and a streaming round trip that
// keeps the connection open to push raw blob bytes after it.
type Transport interface {
	Send(ctx context.Context, addr string, env proto.Envelope, deadline time.Duration) (proto.Envelope, error)
	OpenStream(ctx context.Context, addr string, env proto.Envelope, deadline time.Duration) (net.Conn, proto.Envelope, error)
}

// Engine owns the local blob directory and the logic to replicate its
// contents to the successor set.
type Engine struct {
	finder    Finder
	transport Transport
	blobDir   string
	bitlen    uint
	k         int
	log       *logrus.Entry
}

// New builds a replication Engine storing blobs under blobDir, with
// replication factor k.
func New(finder Finder, transport Transport, blobDir string, bitlen uint, k int, log *logrus.Entry) *Engine {
	return &Engine{
		finder:    finder,
		transport: transport,
		blobDir:   blobDir,
		bitlen:    bitlen,
		k:         k,
		log:       log.WithField("component", "replica"),
	}
}

// GetReplicants returns up to k ring members starting at start (defaulting
// to this engine's own node) and walking the successor chain, stopping
// early if the walk wraps back to start. The returned slice always
// includes start itself as its first element.
func (e *Engine) GetReplicants(ctx context.Context, k int, start *proto.NodeRef) ([]proto.NodeRef, error) {
	origin := e.finder.Self()
	if start != nil {
		origin = *start
	}

	replicants := []proto.NodeRef{origin}
	current := origin

	for i := 0; i < k-1; i++ {
		mod := uint64(1) << e.bitlen
		succ, err := e.finder.FindSuccessor(ctx, (current.ID+1)%mod)
		if err != nil {
			return replicants, err
		}
		if succ.ID == origin.ID {
			break
		}
		replicants = append(replicants, succ)
		current = succ
	}
	return replicants, nil
}
