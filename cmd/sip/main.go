// Command sip runs the distance-vector routing daemon: it maintains the
// neighbor-cost, distance-vector, and forwarding tables, broadcasts route
// updates over SON, and forwards transport segments between SON and the
// single local STCP process on this host (§4.4).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/netlab-overlay/simplenet/internal/appconfig"
	"github.com/netlab-overlay/simplenet/internal/applog"
	"github.com/netlab-overlay/simplenet/internal/metrics"
	"github.com/netlab-overlay/simplenet/internal/routing"
	"github.com/netlab-overlay/simplenet/internal/sipsvc"
	"github.com/netlab-overlay/simplenet/internal/son"
	"github.com/netlab-overlay/simplenet/internal/topology"
)

// routeUpdateInterval is how often this node rebroadcasts its distance
// vector (§4.4 ROUTEUPDATE_INTERVAL). A concrete value left open by the
// distilled spec.
const routeUpdateInterval = 3 * time.Second

var version = "dev"

func main() {
	v := viper.New()
	root := &cobra.Command{
		Use:     "sip",
		Short:   "Distance-vector routing daemon",
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
		applog.Errorf("sip: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *appconfig.DaemonConfig) error {
	if cfg.Debug {
		applog.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("SIP routing daemon — v%s", version))
	pterm.Println()

	var t *topology.Topology
	var err error
	if cfg.NodeIDOverride >= 0 {
		t, err = topology.LoadForNode(cfg.TopologyPath, cfg.NodeIDOverride)
	} else {
		hostname, hErr := os.Hostname()
		if hErr != nil {
			return fmt.Errorf("sip: reading hostname: %w", hErr)
		}
		t, err = topology.Load(cfg.TopologyPath, hostname)
	}
	if err != nil {
		return fmt.Errorf("sip: loading topology: %w", err)
	}
	applog.Infof("sip: this node is %d, known nodes %v", t.SelfNodeID, t.Nodes())

	reg := metrics.New()
	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, reg)
	}

	sonAddr := fmt.Sprintf("127.0.0.1:%d", cfg.SONPort)
	var sonClient *son.Client
	for attempt := 1; ; attempt++ {
		sonClient, err = son.Dial(sonAddr)
		if err == nil {
			break
		}
		if attempt >= 20 {
			return fmt.Errorf("sip: connecting to SON at %s: %w", sonAddr, err)
		}
		applog.Warnf("sip: waiting for SON at %s (attempt %d): %v", sonAddr, attempt, err)
		time.Sleep(500 * time.Millisecond)
	}
	defer sonClient.Close()
	applog.Infof("sip: connected to SON at %s", sonAddr)

	svc := &sipsvc.Service{}
	engine := routing.NewEngine(t, sonClient, svc.SendUp, reg)

	errCh := make(chan error, 3)
	go engine.RunBroadcaster(ctx, routeUpdateInterval)
	go func() { errCh <- readFromSON(ctx, sonClient, engine) }()

	stcpAddr := fmt.Sprintf(":%d", cfg.SIPPort)
	go func() { errCh <- svc.Serve(ctx, stcpAddr, engine) }()

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

func readFromSON(ctx context.Context, c *son.Client, engine *routing.Engine) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pkt, err := c.ReadPacket()
		if err != nil {
			return fmt.Errorf("sip: reading from SON: %w", err)
		}
		engine.HandleIncoming(pkt)
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

	applog.Infof("sip: metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		applog.Warnf("sip: metrics server: %v", err)
	}
}
