package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ghalamif/sensorhub"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "get":
		err = getCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("sensorhubd %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "/etc/sensorhub/sensorhubd.yaml", "Path to daemon configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := sensorhub.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	rt, err := flow.Events()
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go watchIdleSignals(ctx, rt)
	return rt.Run(ctx)
}

// watchIdleSignals maps SIGUSR2 to idle (screen off) and SIGUSR1 to resume.
func watchIdleSignals(ctx context.Context, rt *sensorhub.Runtime) {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			rt.SetIdle(sig == syscall.SIGUSR2)
		}
	}
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "/etc/sensorhub/sensorhubd.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := sensorhub.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	fmt.Printf("config %s looks good (driver=%s, socket=%s, %d static resources)\n",
		*cfgPath, cfg.Firmware.Driver, cfg.Socket.Path, len(cfg.Resources))
	return nil
}

func getCommand(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	socket := fs.String("socket", "/run/sensorhub/sensorhubd.sock", "Daemon socket")
	resource := fs.String("resource", "", "Resource name, e.g. ACCEL")
	timeout := fs.Duration("timeout", 3*time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *resource == "" {
		return errors.New("-resource is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c, err := sensorhub.DialContext(ctx, "unix", *socket, *resource)
	if err != nil {
		return err
	}
	defer c.Close()

	sample, err := c.GetSingle(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s session=%d bytes=%d %s\n", c.Resource(), c.SessionID(), len(sample), hex.EncodeToString(sample))
	return nil
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9110/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

var statsTargets = []string{
	"sensorhub_sessions_active",
	"sensorhub_transactions_live",
	"sensorhub_firmware_frames_total",
	"sensorhub_client_frames_dropped_total",
	"sensorhub_firmware_restarts_total",
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	values := make(map[string]float64, len(statsTargets))
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, key := range statsTargets {
			if !strings.HasPrefix(line, key+" ") && !strings.HasPrefix(line, key+"{") {
				continue
			}
			// Labelled series are summed.
			fields := strings.Fields(line)
			var value float64
			if _, err := fmt.Sscanf(fields[len(fields)-1], "%g", &value); err == nil {
				values[key] += value
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("[%s] sessions=%g txns=%g frames=%g dropped=%g restarts=%g\n",
		time.Now().Format(time.RFC3339),
		values["sensorhub_sessions_active"],
		values["sensorhub_transactions_live"],
		values["sensorhub_firmware_frames_total"],
		values["sensorhub_client_frames_dropped_total"],
		values["sensorhub_firmware_restarts_total"],
	)
	return nil
}

func printUsage() {
	fmt.Printf(`sensorhubd

Usage:
  sensorhubd <command> [flags]

Commands:
  run        Start the broker using the provided config
  validate   Load and validate a config file without starting the broker
  stats      Poll the Prometheus metrics endpoint and print live counters
  get        Open a session and print one sample

Signals (run):
  SIGUSR2    enter idle; stop-on-idle streams are parked
  SIGUSR1    resume parked streams

Examples:
  sensorhubd run -config /etc/sensorhub/sensorhubd.yaml
  sensorhubd validate -config ./data/config.yaml
  sensorhubd stats -url http://localhost:9110/metrics -interval 1s
  sensorhubd get -resource ACCEL
`)
}
