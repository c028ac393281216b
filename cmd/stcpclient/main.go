// Command stcpclient is the client-side demo application (§6, §12): with no
// flags it runs the scripted "simple" workload naming a short fixed string
// exchange; a "stress" mode opens several concurrent connections and
// transfers a larger payload on each.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/netlab-overlay/simplenet/internal/appconfig"
	"github.com/netlab-overlay/simplenet/internal/applog"
	"github.com/netlab-overlay/simplenet/internal/metrics"
	"github.com/netlab-overlay/simplenet/internal/netsim"
	"github.com/netlab-overlay/simplenet/internal/siplink"
	"github.com/netlab-overlay/simplenet/internal/stcpclient"
)

func main() {
	v := viper.New()
	root := &cobra.Command{
		Use:   "stcpclient",
		Short: "STCP client demo",
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
		applog.Errorf("stcpclient: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *appconfig.DemoConfig) error {
	sipAddr := fmt.Sprintf("127.0.0.1:%d", cfg.SIPPort)
	link, err := siplink.Dial(sipAddr)
	if err != nil {
		return fmt.Errorf("stcpclient: connecting to SIP at %s: %w", sipAddr, err)
	}
	defer link.Close()

	reg := metrics.New()
	client := stcpclient.New(link, reg)
	client.SetLossRates(netsim.Rates{DropRate: cfg.DropRate, BitFlipRate: cfg.BitFlipRate})
	go client.RunSegmentHandler(ctx)

	pterm.Info.Printfln("stcpclient: starting %q workload", cfg.Mode)

	switch cfg.Mode {
	case "stress":
		return runStress(ctx, client, cfg)
	default:
		return runSimple(ctx, client, cfg)
	}
}

// runSimple runs the scripted workload named in §6 on one socket: send
// "hello\x00" five times and "byebye\x00" five times, disconnect, close.
func runSimple(ctx context.Context, client *stcpclient.Client, cfg *appconfig.DemoConfig) error {
	soc, err := client.Open(uint32(cfg.LocalPort))
	if err != nil {
		return fmt.Errorf("stcpclient: open: %w", err)
	}

	if err := client.Connect(ctx, soc, cfg.ServerNodeID, uint32(cfg.ServerPort)); err != nil {
		return fmt.Errorf("stcpclient: connect: %w", err)
	}
	applog.Infof("stcpclient: connected to node %d port %d", cfg.ServerNodeID, cfg.ServerPort)

	for _, msg := range []string{"hello\x00", "byebye\x00"} {
		for i := 0; i < 5; i++ {
			if err := client.Send(soc, []byte(msg)); err != nil {
				return fmt.Errorf("stcpclient: send: %w", err)
			}
		}
	}

	time.Sleep(500 * time.Millisecond) // let the window drain before tearing down

	if err := client.Disconnect(ctx, soc); err != nil {
		return fmt.Errorf("stcpclient: disconnect: %w", err)
	}
	if err := client.Close(soc); err != nil {
		return fmt.Errorf("stcpclient: close: %w", err)
	}

	pterm.Success.Println("stcpclient: simple workload complete")
	return nil
}

// runStress exercises GBN window saturation and retransmission under loss
// by opening StressConns concurrent connections, each transferring a
// synthetic payload of StressFileSize bytes (§12).
func runStress(ctx context.Context, client *stcpclient.Client, cfg *appconfig.DemoConfig) error {
	var wg sync.WaitGroup
	errs := make([]error, cfg.StressConns)

	for i := 0; i < cfg.StressConns; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = runStressConn(ctx, client, cfg, i)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("stcpclient: stress connection %d: %w", i, err)
		}
	}
	pterm.Success.Printfln("stcpclient: stress workload complete (%d connections, %d bytes each)",
		cfg.StressConns, cfg.StressFileSize)
	return nil
}

func runStressConn(ctx context.Context, client *stcpclient.Client, cfg *appconfig.DemoConfig, idx int) error {
	localPort := uint32(cfg.LocalPort + 1 + idx)
	soc, err := client.Open(localPort)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}

	destPort := uint32(cfg.ServerPort + 1 + idx)
	if err := client.Connect(ctx, soc, cfg.ServerNodeID, destPort); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	payload := make([]byte, cfg.StressFileSize)
	if _, err := rand.Read(payload); err != nil {
		return fmt.Errorf("generating payload: %w", err)
	}
	if err := client.Send(soc, payload); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	time.Sleep(2 * time.Second) // allow Go-Back-N to drain before teardown

	if err := client.Disconnect(ctx, soc); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return client.Close(soc)
}
