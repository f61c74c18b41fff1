// cmd/chordnode is the main entrypoint for one Chord ring member.
//
// Configuration is entirely via flags/environment so a single binary can
// serve any role in the ring.
//
// Example — start a new ring:
//
//	./chordnode --mode solo --listen-ip 10.0.0.1 --listen-port 5000 \
//	            --admin-addr :8080 --data-dir /var/chordkv/node1
//
// Example — join an existing ring explicitly:
//
//	./chordnode --mode join --seed 10.0.0.1:5000 \
//	            --listen-ip 10.0.0.2 --listen-port 5000 --admin-addr :8081
//
// Example — join whatever ring answers LAN multicast:
//
//	./chordnode --mode discover --listen-ip 10.0.0.3 --listen-port 5000
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"chordkv/internal/adminapi"
	"chordkv/internal/chord/config"
	"chordkv/internal/chord/node"
	"chordkv/internal/chord/proto"
	"chordkv/internal/chord/replica"
	"chordkv/internal/chord/transport"
)

func main() {
	cfg := config.Default()

	// ── Flags ──────────────────────────────────────────────────────────────
	flag.StringVar(&cfg.NodeLabel, "label", cfg.NodeLabel, "operator-facing node label")
	flag.StringVar(&cfg.ListenIP, "listen-ip", cfg.ListenIP, "ring listen IP")
	flag.IntVar(&cfg.ListenPort, "listen-port", cfg.ListenPort, "ring listen port")
	flag.StringVar(&cfg.AdminAddr, "admin-addr", cfg.AdminAddr, "admin HTTP API listen address")
	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for stored blobs")
	flag.StringVar(&cfg.CertFile, "cert", cfg.CertFile, "ring TLS certificate file")
	flag.StringVar(&cfg.KeyFile, "key", cfg.KeyFile, "ring TLS key file")
	flag.StringVar(&cfg.CertPasswordFile, "cert-password-file", cfg.CertPasswordFile, "ring TLS key password file")
	flag.UintVar(&cfg.IDBitLen, "id-bits", cfg.IDBitLen, "identifier space bit length (m)")
	flag.IntVar(&cfg.ReplicationFactor, "replication-factor", cfg.ReplicationFactor, "successor replication factor (K)")
	flag.DurationVar(&cfg.StabilizeInterval, "stabilize-interval", cfg.StabilizeInterval, "stabilization tick interval")
	flag.StringVar(&cfg.MulticastGroup, "multicast-group", cfg.MulticastGroup, "LAN discovery multicast group")
	flag.IntVar(&cfg.MulticastPort, "multicast-port", cfg.MulticastPort, "LAN discovery multicast port")
	flag.StringVar(&cfg.Seed, "seed", cfg.Seed, "seed node address (host:port), required for mode=join")
	flag.BoolVar(&cfg.Dev, "dev", cfg.Dev, "log as human-readable text instead of JSON")

	modeFlag := flag.String("mode", string(config.ModeSolo), "ring bootstrap mode: solo|discover|join")
	flag.Parse()

	cfg.Mode = config.Mode(*modeFlag)
	cfg = cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	log := newLogger(cfg)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("chordnode exited")
	}
}

func newLogger(cfg config.Config) *logrus.Entry {
	l := logrus.New()
	if cfg.Dev {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return l.WithField("node", cfg.NodeLabel)
}

func run(cfg config.Config, log *logrus.Entry) error {
	tlsConfig, err := transport.LoadTLSConfig(cfg.CertFile, cfg.KeyFile, cfg.CertPasswordFile)
	if err != nil {
		return fmt.Errorf("load tls config: %w", err)
	}
	client := transport.NewClient(tlsConfig)

	n, err := node.New(cfg, client, log)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}

	engine := replica.New(n, client, n.BlobDir(), cfg.IDBitLen, cfg.ReplicationFactor, log)

	server, err := transport.NewServer(cfg.ListenAddr(), tlsConfig, n.Dispatch(engine), n.Logger())
	if err != nil {
		return fmt.Errorf("create ring listener: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := server.Serve()
		if gctx.Err() != nil {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return n.Stabilize(gctx)
	})

	g.Go(func() error {
		return engine.RunRepairLoop(gctx, cfg.StabilizeInterval)
	})

	if err := bootstrap(gctx, cfg, n, client, log); err != nil {
		return fmt.Errorf("bootstrap ring membership: %w", err)
	}

	if cfg.Mode == config.ModeDiscover {
		listener, err := transport.NewDiscoveryListener(cfg.MulticastGroup, cfg.MulticastPort, log)
		if err != nil {
			return fmt.Errorf("start discovery listener: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			return listener.Close()
		})
		g.Go(func() error {
			err := listener.Serve(discoveryHandler(gctx, n, cfg))
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
		g.Go(func() error { return announceLoop(gctx, cfg, n) })
	}

	g.Go(func() error {
		return serveAdminAPI(gctx, cfg, n, engine, log)
	})

	g.Go(func() error {
		<-gctx.Done()
		return server.Close()
	})

	log.WithFields(logrus.Fields{
		"ring_id":     n.Self().ID,
		"ring_addr":   cfg.ListenAddr(),
		"admin_addr":  cfg.AdminAddr,
		"mode":        cfg.Mode,
		"id_bit_len":  cfg.IDBitLen,
		"replication": cfg.ReplicationFactor,
	}).Info("chordnode started")

	err = g.Wait()
	log.Info("chordnode shutting down")
	return err
}

// bootstrap performs the one-shot join appropriate to cfg.Mode; discover
// mode's actual join happens asynchronously from discoveryHandler instead.
func bootstrap(ctx context.Context, cfg config.Config, n *node.Node, client *transport.Client, log *logrus.Entry) error {
	if cfg.Mode != config.ModeJoin {
		return nil
	}
	ip, port, err := splitHostPort(cfg.Seed)
	if err != nil {
		return err
	}
	joinCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := n.RequestJoin(joinCtx, ip, port); err != nil {
		return fmt.Errorf("join seed %s: %w", cfg.Seed, err)
	}
	log.WithField("seed", cfg.Seed).Info("joined ring")
	return nil
}

// announceLoop periodically broadcasts this node's presence so freshly
// started peers in discover mode can find it.
func announceLoop(ctx context.Context, cfg config.Config, n *node.Node) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = transport.SendMulticast(cfg.MulticastGroup, cfg.MulticastPort, n.Self().ID)
		}
	}
}

// discoveryHandler wires a multicast bootstrap datagram to JoinNode. The
// sender's ring port isn't carried on the datagram, so every discoverable
// ring member is assumed to listen on the same port as this node; deployments
// that vary the ring port across hosts should use mode=join instead.
func discoveryHandler(ctx context.Context, n *node.Node, cfg config.Config) func(string, proto.Envelope) {
	return func(sourceIP string, env proto.Envelope) {
		if sourceIP == cfg.ListenIP && env.SourceID == n.Self().ID {
			return
		}
		ref := proto.NodeRef{IP: sourceIP, Port: cfg.ListenPort, ID: env.SourceID, BitLen: cfg.IDBitLen}
		joinCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := n.JoinNode(joinCtx, ref); err != nil {
			n.Logger().WithError(err).WithField("peer", sourceIP).Debug("discovery join attempt failed")
		}
	}
}

func serveAdminAPI(ctx context.Context, cfg config.Config, n *node.Node, engine *replica.Engine, log *logrus.Entry) error {
	if cfg.Dev {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(adminapi.Recovery(log), adminapi.Logger(n.Self().ID, log))

	handler := adminapi.NewHandler(n, engine, cfg.ReplicationFactor, log)
	handler.Register(router)

	httpServer := newHTTPServer(cfg.AdminAddr, router)

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

func splitHostPort(addr string) (string, int, error) {
	var ip string
	var port int
	if _, err := fmt.Sscanf(addr, "%[^:]:%d", &ip, &port); err != nil {
		return "", 0, fmt.Errorf("invalid seed address %q: %w", addr, err)
	}
	return ip, port, nil
}
