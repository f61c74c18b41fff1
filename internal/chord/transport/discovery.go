package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"chordkv/internal/chord/proto"
)

// DiscoveryHandler is invoked for a multicast bootstrap datagram with the
// sender's source IP (the datagram carries no ring port) and the decoded
// envelope. It is called from its own goroutine,
// scheduled via time.AfterFunc, so it never blocks the receive loop — this
// replaces the original prototype's blocking 200ms sleep inside the
// datagram callback.
type DiscoveryHandler func(sourceIP string, env proto.Envelope)

// DiscoveryDebounce is the delay between receiving a bootstrap datagram and
// invoking the handler, giving bursts of duplicate datagrams (common on
// multi-homed hosts) a chance to collapse before any ring mutation starts.
const DiscoveryDebounce = 200 * time.Millisecond

// DiscoveryListener listens for multicast bootstrap datagrams on an IPv4
// group and dispatches each to a DiscoveryHandler.
type DiscoveryListener struct {
	conn  *net.UDPConn
	group string
	port  int
	log   *logrus.Entry
}

// NewDiscoveryListener joins the given multicast group/port.
func NewDiscoveryListener(group string, port int, log *logrus.Entry) (*DiscoveryListener, error) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp on port %d: %w", port, err)
	}

	pconn := ipv4.NewPacketConn(conn)
	groupIP := net.ParseIP(group)
	if groupIP == nil {
		conn.Close()
		return nil, fmt.Errorf("invalid multicast group %q", group)
	}

	ifaces, err := multicastCapableInterfaces()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("enumerate multicast interfaces: %w", err)
	}
	joined := false
	for _, iface := range ifaces {
		if err := pconn.JoinGroup(&iface, &net.UDPAddr{IP: groupIP}); err == nil {
			joined = true
		}
	}
	if !joined {
		conn.Close()
		return nil, fmt.Errorf("failed to join multicast group %s on any interface", group)
	}

	return &DiscoveryListener{conn: conn, group: group, port: port, log: log}, nil
}

// Serve reads datagrams until the listener is closed, handing each valid
// bootstrap envelope to handler on its own goroutine after DiscoveryDebounce.
// Further datagrams from a source IP whose call is still pending are dropped.
func (d *DiscoveryListener) Serve(handler DiscoveryHandler) error {
	d.log.Infof("discovery listener ready on group %s:%d", d.group, d.port)
	buf := make([]byte, proto.MaxControlSize)
	var pendingMu sync.Mutex
	pending := make(map[string]bool)
	for {
		n, srcAddr, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			return fmt.Errorf("read multicast datagram: %w", err)
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		addr := srcAddr

		env, err := proto.DecodeBytes(data)
		if err != nil {
			d.log.WithError(err).Debug("invalid multicast datagram")
			continue
		}

		// Only an empty ring signature marks a bootstrap request; multicast
		// must never carry an authenticated in-ring message.
		if env.RingSignature != "" {
			d.log.Debug("ignoring multicast datagram with non-empty ring signature")
			continue
		}
		if env.Kind != proto.KindMulticast {
			d.log.Debugf("ignoring multicast datagram of unexpected kind %s", env.Kind)
			continue
		}

		sourceIP := addr.IP.String()
		pendingMu.Lock()
		if pending[sourceIP] {
			pendingMu.Unlock()
			continue
		}
		pending[sourceIP] = true
		pendingMu.Unlock()
		time.AfterFunc(DiscoveryDebounce, func() {
			pendingMu.Lock()
			delete(pending, sourceIP)
			pendingMu.Unlock()
			handler(sourceIP, env)
		})
	}
}

// Close stops the listener.
func (d *DiscoveryListener) Close() error {
	return d.conn.Close()
}

// SendMulticast broadcasts one bootstrap envelope with an empty ring
// signature and TTL=1 so it never crosses a router hop.
func SendMulticast(group string, port int, sourceID uint64) error {
	env := proto.Envelope{
		Kind:          proto.KindMulticast,
		SourceID:      sourceID,
		RingSignature: "",
		Payload:       proto.Multicast{},
	}
	data, err := proto.EncodeBytes(env)
	if err != nil {
		return fmt.Errorf("encode multicast envelope: %w", err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("open multicast socket: %w", err)
	}
	defer conn.Close()

	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.SetMulticastTTL(1); err != nil {
		return fmt.Errorf("set multicast ttl: %w", err)
	}

	dst := &net.UDPAddr{IP: net.ParseIP(group), Port: port}
	if _, err := conn.WriteToUDP(data, dst); err != nil {
		return fmt.Errorf("send multicast datagram: %w", err)
	}
	return nil
}

// multicastCapableInterfaces returns interfaces eligible to join a
// multicast group, falling back to a nil (system-default) interface entry
// if none are found so JoinGroup still has something to try.
func multicastCapableInterfaces() ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var usable []net.Interface
	for _, iface := range all {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		usable = append(usable, iface)
	}
	if len(usable) == 0 {
		usable = append(usable, net.Interface{})
	}
	return usable, nil
}
