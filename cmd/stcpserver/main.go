// Command stcpserver is the server-side demo application (§6, §12): with no
// flags it accepts one connection and receives and logs the scripted
// "simple" string exchange; a "stress" mode accepts StressConns concurrent
// connections and drains a larger transfer on each.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/netlab-overlay/simplenet/internal/appconfig"
	"github.com/netlab-overlay/simplenet/internal/applog"
	"github.com/netlab-overlay/simplenet/internal/metrics"
	"github.com/netlab-overlay/simplenet/internal/netsim"
	"github.com/netlab-overlay/simplenet/internal/siplink"
	"github.com/netlab-overlay/simplenet/internal/stcpserver"
)

func main() {
	v := viper.New()
	root := &cobra.Command{
		Use:   "stcpserver",
		Short: "STCP server demo",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appconfig.LoadDemoConfig(v)
			return run(cmd.Context(), cfg)
		},
		SilenceUsage: true,
	}
	appconfig.BindDemoFlags(root, v)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		applog.Errorf("stcpserver: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *appconfig.DemoConfig) error {
	sipAddr := fmt.Sprintf("127.0.0.1:%d", cfg.SIPPort)
	link, err := siplink.Dial(sipAddr)
	if err != nil {
		return fmt.Errorf("stcpserver: connecting to SIP at %s: %w", sipAddr, err)
	}
	defer link.Close()

	reg := metrics.New()
	srv := stcpserver.New(link, reg)
	srv.SetLossRates(netsim.Rates{DropRate: cfg.DropRate, BitFlipRate: cfg.BitFlipRate})
	go srv.RunSegmentHandler(ctx)

	pterm.Info.Printfln("stcpserver: starting %q workload", cfg.Mode)

	switch cfg.Mode {
	case "stress":
		return runStress(ctx, srv, cfg)
	default:
		return runSimple(ctx, srv, cfg)
	}
}

// runSimple accepts one connection and receives the two scripted strings
// named in §8 scenario 2.
func runSimple(ctx context.Context, srv *stcpserver.Server, cfg *appconfig.DemoConfig) error {
	soc, err := srv.Listen(uint32(cfg.ServerPort))
	if err != nil {
		return fmt.Errorf("stcpserver: listen: %w", err)
	}
	if err := srv.Accept(ctx, soc); err != nil {
		return fmt.Errorf("stcpserver: accept: %w", err)
	}

	for i := 0; i < 5; i++ {
		data, err := srv.Recv(ctx, soc, 6)
		if err != nil {
			return fmt.Errorf("stcpserver: recv: %w", err)
		}
		applog.Infof("stcpserver: received %q", data)
	}
	for i := 0; i < 5; i++ {
		data, err := srv.Recv(ctx, soc, 7)
		if err != nil {
			return fmt.Errorf("stcpserver: recv: %w", err)
		}
		applog.Infof("stcpserver: received %q", data)
	}

	pterm.Success.Println("stcpserver: simple workload complete")
	return nil
}

// runStress accepts StressConns concurrent connections, each draining
// StressFileSize bytes (§12).
func runStress(ctx context.Context, srv *stcpserver.Server, cfg *appconfig.DemoConfig) error {
	var wg sync.WaitGroup
	errs := make([]error, cfg.StressConns)

	for i := 0; i < cfg.StressConns; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = runStressConn(ctx, srv, cfg, i)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("stcpserver: stress connection %d: %w", i, err)
		}
	}
	pterm.Success.Printfln("stcpserver: stress workload complete (%d connections)", cfg.StressConns)
	return nil
}

func runStressConn(ctx context.Context, srv *stcpserver.Server, cfg *appconfig.DemoConfig, idx int) error {
	localPort := uint32(cfg.ServerPort + 1 + idx)
	soc, err := srv.Listen(localPort)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if err := srv.Accept(ctx, soc); err != nil {
		return fmt.Errorf("accept: %w", err)
	}

	received := 0
	for received < cfg.StressFileSize {
		chunk := cfg.StressFileSize - received
		if chunk > 4096 {
			chunk = 4096
		}
		data, err := srv.Recv(ctx, soc, chunk)
		if err != nil {
			return fmt.Errorf("recv: %w", err)
		}
		received += len(data)
	}
	return nil
}
