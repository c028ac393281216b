// Command son runs the self-organizing overlay daemon: it builds the
// neighbor mesh described in SON's topology, forwards framed packets
// hop-by-hop, and serves the single local connection from the SIP process
// on this host (§4.6).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/netlab-overlay/simplenet/internal/appconfig"
	"github.com/netlab-overlay/simplenet/internal/applog"
	"github.com/netlab-overlay/simplenet/internal/metrics"
	"github.com/netlab-overlay/simplenet/internal/sipproto"
	"github.com/netlab-overlay/simplenet/internal/son"
	"github.com/netlab-overlay/simplenet/internal/topology"
)

var version = "dev"

func main() {
	v := viper.New()
	root := &cobra.Command{
		Use:     "son",
		Short:   "Self-organizing overlay daemon",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.LoadDaemonConfig(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
		SilenceUsage: true,
	}
	appconfig.BindDaemonFlags(root, v)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		applog.Errorf("son: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *appconfig.DaemonConfig) error {
	if cfg.Debug {
		applog.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("SON overlay daemon — v%s", version))
	pterm.Println()

	var t *topology.Topology
	var err error
	if cfg.NodeIDOverride >= 0 {
		t, err = topology.LoadForNode(cfg.TopologyPath, cfg.NodeIDOverride)
	} else {
		hostname, hErr := os.Hostname()
		if hErr != nil {
			return fmt.Errorf("son: reading hostname: %w", hErr)
		}
		t, err = topology.Load(cfg.TopologyPath, hostname)
	}
	if err != nil {
		return fmt.Errorf("son: loading topology: %w", err)
	}
	applog.Infof("son: this node is %d, neighbors %v", t.SelfNodeID, t.Neighbors())

	reg := metrics.New()
	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, reg)
	}

	mesh := son.NewMesh(t, cfg.ConnectionPort, reg)

	received := make(chan *sipproto.Packet, 64)
	onPacket := func(pkt *sipproto.Packet) {
		select {
		case received <- pkt:
		case <-ctx.Done():
		}
	}

	errCh := make(chan error, 2)
	go func() { errCh <- mesh.Start(ctx, onPacket) }()
	go func() { errCh <- mesh.ServeSIP(ctx, cfg.SONPort, received) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

func serveMetrics(ctx context.Context, addr string, reg *metrics.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	applog.Infof("son: metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		applog.Warnf("son: metrics server: %v", err)
	}
}
