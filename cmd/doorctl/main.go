// Command doorctl is the Hive13 door access controller.
//
// doorctl reads badge numbers from an RFID reader, asks intweb whether the
// badge may open the door using the signed nonce exchange, and releases
// the strike on a grant.
//
// Usage:
//
//	doorctl [flags]
//
// Flags:
//
//	-config string     Configuration file path
//	-log-level string  Log level: debug, info, warn, error
//	-url string        intweb access endpoint
//	-device string     intweb device name
//	-item string       Access item to request
//	-listen string     Listen address for the open-door endpoint
//	-dry-run           Log door openings instead of driving the strike
//	-interactive       Start the operator console
//	-discover          List controllers on the local network and exit
//
// The device key is read from DOORCTL_DEVICE_KEY or the file named by
// intweb.device_key_file.
//
// Examples:
//
//	# Run against a reader helper, key from a file
//	doorctl -config /etc/doorctl/doorctl.yaml
//
//	# Try the protocol from a terminal without a strike
//	DOORCTL_DEVICE_KEY=... doorctl -url http://intweb/api/access -device test -dry-run -interactive
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hive13/doorctl/pkg/config"
	"github.com/hive13/doorctl/pkg/discovery"
)

// Options holds the command-line flags.
type Options struct {
	ConfigFile  string
	LogLevel    string
	URL         string
	Device      string
	Item        string
	Listen      string
	DryRun      bool
	Interactive bool
	Discover    bool
}

var opts Options

func init() {
	flag.StringVar(&opts.ConfigFile, "config", "", "Configuration file path")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&opts.URL, "url", "", "intweb access endpoint (overrides config)")
	flag.StringVar(&opts.Device, "device", "", "intweb device name (overrides config)")
	flag.StringVar(&opts.Item, "item", "", "Access item to request (overrides config)")
	flag.StringVar(&opts.Listen, "listen", "", "Listen address for the open-door endpoint")
	flag.BoolVar(&opts.DryRun, "dry-run", false, "Log door openings instead of driving the strike")
	flag.BoolVar(&opts.Interactive, "interactive", false, "Start the operator console")
	flag.BoolVar(&opts.Discover, "discover", false, "List controllers on the local network and exit")
}

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.Discover {
		if err := discover(ctx, 3*time.Second); err != nil {
			fmt.Fprintf(os.Stderr, "doorctl: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "doorctl: %v\n", err)
		os.Exit(2)
	}

	if err := run(ctx, cfg, opts); err != nil {
		fmt.Fprintf(os.Stderr, "doorctl: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies flag overrides.
func loadConfig(o Options) (config.Config, error) {
	cfg, err := config.Load(o.ConfigFile)
	if err != nil {
		return cfg, err
	}
	applyFlags(&cfg, o)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, o Options) {
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.URL != "" {
		cfg.Intweb.URL = o.URL
	}
	if o.Device != "" {
		cfg.Intweb.Device = o.Device
	}
	if o.Item != "" {
		cfg.Intweb.Item = o.Item
	}
	if o.Listen != "" {
		cfg.HTTP.Listen = o.Listen
	}
	if o.DryRun {
		cfg.Door.Pin = ""
	}
}

func discover(ctx context.Context, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	services, err := discovery.NewMDNSBrowser(discovery.BrowserConfig{}).Browse(ctx)
	if err != nil {
		return err
	}
	found := 0
	for svc := range services {
		found++
		fmt.Printf("%-24s device=%s item=%s ver=%d %s:%d %v\n",
			svc.InstanceName, svc.Device, svc.Item, svc.Version, svc.Host, svc.Port, svc.Addresses)
	}
	if found == 0 {
		fmt.Println("No controllers found")
	}
	return nil
}
