// Package appconfig layers flags and environment variables into the plain
// configuration structs each daemon process is built from, generalizing the
// reference repository's single hand-rolled Config struct into something
// that scales to several cooperating binaries while keeping the same shape:
// one struct, populated once at startup, never read from global flag state
// deep inside a package.
package appconfig

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// DaemonConfig holds the settings shared by the son and sip daemons.
type DaemonConfig struct {
	TopologyPath   string
	NodeIDOverride int32 // negative means "resolve from hostname"
	Debug          bool
	MetricsAddr    string // empty disables the metrics endpoint
	SONPort        int
	SIPPort        int
	ConnectionPort int
}

// BindDaemonFlags registers the shared daemon flags on cmd and binds them
// into v, so environment variables (prefixed SIMPLENET_) can override
// defaults without touching the flag definitions.
func BindDaemonFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.PersistentFlags()
	flags.String("topology", "topology/topology.dat", "path to the topology file")
	flags.Int32("node-id", -1, "override this host's node id instead of resolving it from the hostname")
	flags.Bool("debug", false, "enable debug-level segment/packet tracing")
	flags.String("metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9100 (empty disables)")
	flags.Int("son-port", 18000, "local port SON listens on for the SIP process")
	flags.Int("sip-port", 17000, "local port SIP listens on for the STCP process")
	flags.Int("connection-port", 16000, "port SON listens on for inbound overlay neighbor connections")

	v.SetEnvPrefix("simplenet")
	v.AutomaticEnv()
	_ = v.BindPFlags(flags)
}

// LoadDaemonConfig reads the bound flags/environment into a DaemonConfig.
func LoadDaemonConfig(v *viper.Viper) (*DaemonConfig, error) {
	cfg := &DaemonConfig{
		TopologyPath:   v.GetString("topology"),
		NodeIDOverride: int32(v.GetInt("node-id")),
		Debug:          v.GetBool("debug"),
		MetricsAddr:    v.GetString("metrics-addr"),
		SONPort:        v.GetInt("son-port"),
		SIPPort:        v.GetInt("sip-port"),
		ConnectionPort: v.GetInt("connection-port"),
	}
	if cfg.TopologyPath == "" {
		return nil, fmt.Errorf("appconfig: topology path must not be empty")
	}
	return cfg, nil
}

// DemoConfig holds the settings for the client/server demo binaries, which
// per §6 take no flags for the default scripted workload but do accept a
// mode selector for the supplemented stress workload (§12).
type DemoConfig struct {
	Mode           string // "simple" or "stress"
	SIPPort        int
	LocalPort      int
	ServerNodeID   int32
	ServerPort     int
	StressConns    int
	StressFileSize int
	DropRate       float64 // probability a received segment is simulated-lost (§8 scenario 6)
	BitFlipRate    float64 // probability a received segment is corrupted by one flipped bit
}

// BindDemoFlags registers the demo-binary flags.
func BindDemoFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.Flags()
	flags.String("mode", "simple", `workload to run: "simple" or "stress"`)
	flags.Int("sip-port", 17000, "local port the SIP process listens on")
	flags.Int("local-port", 87, "local STCP port this demo binds")
	flags.Int32("server-node", 2, "node id of the peer server demo")
	flags.Int("server-port", 88, "STCP port the peer server demo listens on")
	flags.Int("stress-conns", 10, "concurrent connections for the stress workload")
	flags.Int("stress-file-size", 100*1000, "bytes transferred per connection in the stress workload")
	flags.Float64("drop-rate", 0, "probability (0-1) a received segment is simulated-lost, mirroring seglost()")
	flags.Float64("bitflip-rate", 0, "probability (0-1) a received segment is corrupted by one flipped bit")

	_ = v.BindPFlags(flags)
}

// LoadDemoConfig reads the bound flags into a DemoConfig.
func LoadDemoConfig(v *viper.Viper) *DemoConfig {
	return &DemoConfig{
		Mode:           v.GetString("mode"),
		SIPPort:        v.GetInt("sip-port"),
		LocalPort:      v.GetInt("local-port"),
		ServerNodeID:   int32(v.GetInt32("server-node")),
		ServerPort:     v.GetInt("server-port"),
		StressConns:    v.GetInt("stress-conns"),
		StressFileSize: v.GetInt("stress-file-size"),
		DropRate:       v.GetFloat64("drop-rate"),
		BitFlipRate:    v.GetFloat64("bitflip-rate"),
	}
}
