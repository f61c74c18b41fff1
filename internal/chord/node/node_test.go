package node

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"chordkv/internal/chord/config"
	"chordkv/internal/chord/proto"
)

// fakeRing is an in-process Transport that dispatches directly to
// registered Node instances over net.Pipe(), exercising the real
// encode/decode path without any real socket or TLS handshake.
type fakeRing struct {
	mu    sync.Mutex
	nodes map[string]*Node
}

func newFakeRing() *fakeRing {
	return &fakeRing{nodes: make(map[string]*Node)}
}

func (r *fakeRing) register(n *Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[addrOf(n.Self())] = n
}

func (r *fakeRing) lookup(addr string) (*Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[addr]
	return n, ok
}

func (r *fakeRing) Send(_ context.Context, addr string, env proto.Envelope, _ time.Duration) (proto.Envelope, error) {
	target, ok := r.lookup(addr)
	if !ok {
		return proto.Envelope{}, fmt.Errorf("fake ring: no node at %s", addr)
	}

	clientConn, serverConn := net.Pipe()
	go func() {
		defer serverConn.Close()
		target.Dispatch(nil)(serverConn, env)
	}()
	defer clientConn.Close()
	return proto.Decode(clientConn)
}

func (r *fakeRing) SendOneWay(_ context.Context, addr string, env proto.Envelope, _ time.Duration) error {
	target, ok := r.lookup(addr)
	if !ok {
		return fmt.Errorf("fake ring: no node at %s", addr)
	}

	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer serverConn.Close()
		defer close(done)
		target.Dispatch(nil)(serverConn, env)
	}()
	clientConn.Close()
	<-done
	return nil
}

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(discardWriter{})
	return logrus.NewEntry(log)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestNode(t *testing.T, ring *fakeRing, ip string, port int, bitlen uint) *Node {
	t.Helper()
	cfg := config.Default()
	cfg.ListenIP = ip
	cfg.ListenPort = port
	cfg.IDBitLen = bitlen
	cfg.DataDir = t.TempDir()

	n, err := New(cfg, ring, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ring.register(n)
	return n
}

func TestSoloNodeIsOwnNeighbors(t *testing.T) {
	ring := newFakeRing()
	n := newTestNode(t, ring, "10.0.0.1", 5000, 8)

	if n.Successor().ID != n.Self().ID {
		t.Fatalf("solo node successor = %d, want self %d", n.Successor().ID, n.Self().ID)
	}
	if n.Predecessor().ID != n.Self().ID {
		t.Fatalf("solo node predecessor = %d, want self %d", n.Predecessor().ID, n.Self().ID)
	}
	for i, entry := range n.FingerTable() {
		if entry.ID != n.Self().ID {
			t.Fatalf("finger[%d] = %d, want self %d before any join", i, entry.ID, n.Self().ID)
		}
	}
}

func TestTwoNodeJoin(t *testing.T) {
	ring := newFakeRing()
	n1 := newTestNode(t, ring, "10.0.0.1", 5000, 8)
	n2 := newTestNode(t, ring, "10.0.0.2", 5001, 8)

	ctx := context.Background()
	if err := n2.RequestJoin(ctx, n1.Self().IP, n1.Self().Port); err != nil {
		t.Fatalf("RequestJoin: %v", err)
	}

	if n1.Successor().ID != n2.Self().ID && n1.Predecessor().ID != n2.Self().ID {
		t.Fatalf("n1 did not wire to n2 after join: succ=%d pred=%d (n2=%d)",
			n1.Successor().ID, n1.Predecessor().ID, n2.Self().ID)
	}
	if n2.RingSignature() != n1.RingSignature() {
		t.Fatalf("ring signature not adopted: n1=%s n2=%s", n1.RingSignature(), n2.RingSignature())
	}
}

func TestJoinRejectsDuplicateID(t *testing.T) {
	ring := newFakeRing()
	n1 := newTestNode(t, ring, "10.0.0.1", 5000, 8)

	// Force a duplicate id by constructing the join request by hand.
	ctx := context.Background()
	resp := n1.handleJoinReq(ctx, proto.JoinReq{
		IP: "10.0.0.9", Port: 9999, ID: n1.Self().ID, BitLen: 8,
	})
	if resp.Success {
		t.Fatal("expected join with duplicate id to be rejected")
	}
}

func TestAdoptionRejectedWhenNotIsolated(t *testing.T) {
	ring := newFakeRing()
	n1 := newTestNode(t, ring, "10.0.0.1", 5000, 8)
	n2 := newTestNode(t, ring, "10.0.0.2", 5001, 8)

	ctx := context.Background()
	if err := n2.RequestJoin(ctx, n1.Self().IP, n1.Self().Port); err != nil {
		t.Fatalf("RequestJoin: %v", err)
	}

	// n1 now has a family; a fresh adoption offer must be refused.
	resp := n1.handleAdoptReq("some-other-signature")
	if resp.Success {
		t.Fatal("expected adoption to be rejected once a node has neighbors")
	}
}

func TestThreeNodeRingFingerTablesConverge(t *testing.T) {
	const bitlen = 8
	ring := newFakeRing()
	n1 := newTestNode(t, ring, "10.0.0.1", 5000, bitlen)
	n2 := newTestNode(t, ring, "10.0.0.2", 5001, bitlen)
	n3 := newTestNode(t, ring, "10.0.0.3", 5002, bitlen)

	ctx := context.Background()
	if err := n2.RequestJoin(ctx, n1.Self().IP, n1.Self().Port); err != nil {
		t.Fatalf("n2 join: %v", err)
	}
	if err := n3.RequestJoin(ctx, n1.Self().IP, n1.Self().Port); err != nil {
		t.Fatalf("n3 join: %v", err)
	}

	for _, n := range []*Node{n1, n2, n3} {
		for i, entry := range n.FingerTable() {
			want, err := n.FindSuccessor(ctx, (n.Self().ID+(1<<uint(i)))%(1<<bitlen))
			if err != nil {
				t.Fatalf("FindSuccessor for finger %d: %v", i, err)
			}
			if entry.ID != want.ID {
				t.Errorf("node %d finger[%d] = %d, want %d (live lookup)", n.Self().ID, i, entry.ID, want.ID)
			}
		}
	}
}

func TestStabilizeHealsDeadSuccessor(t *testing.T) {
	const bitlen = 8
	ring := newFakeRing()
	n1 := newTestNode(t, ring, "10.0.0.1", 5000, bitlen)
	n2 := newTestNode(t, ring, "10.0.0.2", 5001, bitlen)
	n3 := newTestNode(t, ring, "10.0.0.3", 5002, bitlen)

	ctx := context.Background()
	if err := n2.RequestJoin(ctx, n1.Self().IP, n1.Self().Port); err != nil {
		t.Fatalf("n2 join: %v", err)
	}
	if err := n3.RequestJoin(ctx, n1.Self().IP, n1.Self().Port); err != nil {
		t.Fatalf("n3 join: %v", err)
	}

	dead := n1.Successor()

	n1.cfg.StabilizeInterval = 5 * time.Millisecond
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n1.Stabilize(runCtx)
	}()

	// Let a few ticks pass while the ring is healthy, so the fallback chain
	// (successor's successor, and that node's successor) is populated from
	// live pings before anything dies.
	time.Sleep(25 * time.Millisecond)

	ring.mu.Lock()
	delete(ring.nodes, addrOf(dead))
	ring.mu.Unlock()

	time.Sleep(40 * time.Millisecond)
	cancel()
	<-done

	if n1.Successor().ID == dead.ID {
		t.Fatalf("stabilize did not route around dead successor %d", dead.ID)
	}
}
