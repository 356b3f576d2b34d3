// Command buddhactl drives a Buddha treatment device over BLE: scan for
// nearby devices, inspect status, upload step programs, and control a
// running treatment.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/halcyonmed/buddhactl/internal/ble"
	"github.com/halcyonmed/buddhactl/internal/config"
	"github.com/halcyonmed/buddhactl/internal/device"
	"github.com/halcyonmed/buddhactl/internal/program"
	"github.com/halcyonmed/buddhactl/internal/protocol"
)

const usageText = `usage: buddhactl [flags] <command> [args]

commands:
  scan                 list advertising devices
  info                 print hardware and firmware versions
  status               print a treatment snapshot
  watch                follow battery and treatment notifications
  start | stop | pause control the current treatment
  set                  set treatment parameters (see 'set -help')
  load <program.yaml>  upload a step program
  ship                 put the device into ship mode

flags:
`

func usage() {
	fmt.Fprint(os.Stderr, usageText)
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/buddhactl/config.yaml)")
	namePrefix := flag.String("name", "", "override the advertised-name prefix from config")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	if *namePrefix != "" {
		cfg.Device.NamePrefix = *namePrefix
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapter := ble.NewTinyGoAdapter()
	opts := device.DefaultOptions()
	opts.NamePrefix = cfg.Device.NamePrefix
	opts.ScanTimeout = time.Duration(cfg.Device.ScanTimeoutMs) * time.Millisecond
	opts.AdapterWait = time.Duration(cfg.Device.AdapterWaitMs) * time.Millisecond
	client := device.New(adapter, opts)

	if err := run(ctx, flag.Args(), adapter, client, opts); err != nil {
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.DefaultConfigPath()
		if _, err := os.Stat(path); err != nil {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

func run(ctx context.Context, args []string, adapter ble.Adapter, client *device.Client, opts device.Options) error {
	cmd, args := args[0], args[1:]

	if cmd == "scan" {
		return runScan(ctx, adapter, opts.ScanTimeout)
	}

	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Disconnect()

	switch cmd {
	case "info":
		return runInfo(client)
	case "status":
		return runStatus(client)
	case "watch":
		return runWatch(ctx, client)
	case "start":
		return client.Start()
	case "stop":
		return client.Stop()
	case "pause":
		return client.Pause()
	case "set":
		return runSet(client, args)
	case "load":
		return runLoad(client, args)
	case "ship":
		return client.EnterShipMode()
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// runScan collects every distinct advertisement seen within the scan
// window and prints them strongest-signal first.
func runScan(ctx context.Context, adapter ble.Adapter, window time.Duration) error {
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("enable adapter: %w", err)
	}
	if !adapter.PoweredOn() {
		return device.ErrAdapterNotReady
	}

	scanCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	seen := make(map[string]ble.Advertisement)
	err := adapter.Scan(scanCtx, func(adv ble.Advertisement) bool {
		if adv.LocalName != "" {
			seen[adv.Address] = adv
		}
		return false
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return err
	}

	devices := make([]ble.Advertisement, 0, len(seen))
	for _, adv := range seen {
		devices = append(devices, adv)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].RSSI > devices[j].RSSI })

	for _, adv := range devices {
		fmt.Printf("%-24s %s  %d dBm\n", adv.LocalName, adv.Address, adv.RSSI)
	}
	if len(devices) == 0 {
		fmt.Println("no devices found")
	}
	return nil
}

func runInfo(client *device.Client) error {
	hw, err := client.ReadVersion(protocol.FieldHWVersion)
	if err != nil {
		return err
	}
	fw, err := client.ReadVersion(protocol.FieldFWVersion)
	if err != nil {
		return err
	}
	fmt.Printf("hardware: %s\nfirmware: %s\n", hw, fw)
	return nil
}

func runStatus(client *device.Client) error {
	battery, err := client.ReadNumeric(protocol.FieldBatteryLevel)
	if err != nil {
		return err
	}
	charging, err := client.ReadNumeric(protocol.FieldChargerConnected)
	if err != nil {
		return err
	}
	snap, err := client.ReadSnapshot()
	if err != nil {
		return err
	}

	fmt.Printf("battery:    %d%%", battery)
	if charging != 0 {
		fmt.Print(" (charging)")
	}
	fmt.Println()
	fmt.Printf("status:     %s\n", snap.Status)
	fmt.Printf("control:    %s\n", snap.Control)
	fmt.Printf("duration:   %dms total, %dms remaining\n", snap.TotalDurationMs, snap.RemainingMs)
	fmt.Printf("intensity:  %d%%\n", snap.IntensityPct)
	fmt.Printf("actuators:  lra1=%v lra2=%v lra3=%v\n", snap.LRA1Enable, snap.LRA2Enable, snap.LRA3Enable)
	if snap.ErrorCode != 0 {
		fmt.Printf("error code: %d\n", snap.ErrorCode)
	}
	fmt.Printf("program:    %d steps\n", len(snap.Steps))
	for i, s := range snap.Steps {
		fmt.Printf("  %2d. %3d%% for %dms\n", i+1, s.AmplitudePct, s.DurationMs)
	}
	return nil
}

// runWatch follows notifications until interrupted. The device only
// notifies on change, so remaining time is also polled every 2s while a
// treatment is running.
func runWatch(ctx context.Context, client *device.Client) error {
	report := func(label string, format func(int) string) func(int) {
		return func(v int) { fmt.Printf("%s %s\n", label, format(v)) }
	}

	subscriptions := []struct {
		field  protocol.FieldName
		report func(int)
	}{
		{protocol.FieldBatteryLevel, report("battery:", func(v int) string { return fmt.Sprintf("%d%%", v) })},
		{protocol.FieldChargerConnected, report("charger:", func(v int) string {
			if v != 0 {
				return "connected"
			}
			return "disconnected"
		})},
		{protocol.FieldStatus, report("status:", func(v int) string { return protocol.Status(v).String() })},
		{protocol.FieldRemainingMs, report("remaining:", func(v int) string { return fmt.Sprintf("%dms", v) })},
	}
	for _, sub := range subscriptions {
		cancel, err := client.Subscribe(sub.field, sub.report)
		if err != nil {
			return err
		}
		defer cancel()
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !client.Connected() {
				return device.ErrNotConnected
			}
			status, err := client.ReadNumeric(protocol.FieldStatus)
			if err != nil {
				return err
			}
			if protocol.Status(status) != protocol.StatusRunning {
				continue
			}
			remaining, err := client.ReadNumeric(protocol.FieldRemainingMs)
			if err != nil {
				return err
			}
			fmt.Printf("remaining: %dms\n", remaining)
		}
	}
}

func runSet(client *device.Client, args []string) error {
	fs := flag.NewFlagSet("set", flag.ExitOnError)
	duration := fs.Int("duration-ms", -1, "total treatment duration in milliseconds")
	intensity := fs.Int("intensity", -1, "treatment intensity percentage")
	lra1 := fs.Int("lra1", -1, "enable (1) or disable (0) actuator 1")
	lra2 := fs.Int("lra2", -1, "enable (1) or disable (0) actuator 2")
	lra3 := fs.Int("lra3", -1, "enable (1) or disable (0) actuator 3")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *duration < 0 && *intensity < 0 && *lra1 < 0 && *lra2 < 0 && *lra3 < 0 {
		return errors.New("set requires at least one of -duration-ms, -intensity, -lra1, -lra2, -lra3")
	}

	if *duration >= 0 && *intensity >= 0 {
		if err := client.SetTreatmentParams(*duration, *intensity); err != nil {
			return err
		}
	} else if *duration >= 0 {
		if err := client.WriteNumeric(protocol.FieldTotalDurationMs, *duration); err != nil {
			return err
		}
	} else if *intensity >= 0 {
		if err := client.WriteNumeric(protocol.FieldIntensityPct, *intensity); err != nil {
			return err
		}
	}

	lras := map[protocol.FieldName]int{
		protocol.FieldLRA1Enable: *lra1,
		protocol.FieldLRA2Enable: *lra2,
		protocol.FieldLRA3Enable: *lra3,
	}
	for field, v := range lras {
		if v < 0 {
			continue
		}
		if err := client.WriteNumeric(field, v); err != nil {
			return err
		}
	}
	return nil
}

func runLoad(client *device.Client, args []string) error {
	if len(args) != 1 {
		return errors.New("load requires a program file path")
	}
	p, err := program.Load(args[0])
	if err != nil {
		return err
	}

	total := p.TotalDuration()
	if total > 65535*time.Millisecond {
		return fmt.Errorf("program runs %v, device total-duration limit is 65.535s", total)
	}

	if err := client.WriteSteps(p.ToSteps()); err != nil {
		return err
	}
	if err := client.WriteNumeric(protocol.FieldTotalDurationMs, int(total.Milliseconds())); err != nil {
		return err
	}
	if p.Name != "" {
		fmt.Printf("loaded %q: %d steps, %v\n", p.Name, len(p.Steps), total)
	} else {
		fmt.Printf("loaded %d steps, %v\n", len(p.Steps), total)
	}
	return nil
}
