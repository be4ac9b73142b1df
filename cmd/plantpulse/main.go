package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/h9661/factory-control-and-monitoring-system-sub001"
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
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("plantpulse %s: %v", cmd, err)
	}
}

func loadConfig(path string) (*plantpulse.Config, error) {
	if path == "" {
		return plantpulse.DefaultConfig(), nil
	}
	return plantpulse.LoadConfig(path)
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to configuration file (built-in simulated line when empty)")
	seed := fs.Int64("seed", 0, "Simulator seed; overrides simulation.seed when non-zero")
	printEvents := fs.Bool("print", false, "Write every event to stdout as a JSON line")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *seed != 0 {
		cfg.Simulation.Seed = *seed
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rt, err := plantpulse.NewRuntime(cfg, plantpulse.WithLogger(logger))
	if err != nil {
		return err
	}

	status := plantpulse.Subscribe(rt, func(st plantpulse.ConnectionStatus) error {
		logger.Info("data source changed",
			zap.String("mode", string(st.Mode)),
			zap.Bool("connected", st.IsConnected),
			zap.String("message", st.Message))
		return nil
	})
	defer status.Dispose()

	if *printEvents {
		var mu sync.Mutex
		enc := json.NewEncoder(os.Stdout)
		subs, err := plantpulse.OnEvent(rt, func(ev plantpulse.Event) error {
			mu.Lock()
			defer mu.Unlock()
			return enc.Encode(struct {
				Kind    string           `json:"kind"`
				Payload plantpulse.Event `json:"payload"`
			}{string(ev.Kind()), ev})
		})
		if err != nil {
			return err
		}
		defer subs.Dispose()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return rt.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := plantpulse.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	live := "none (simulated only)"
	if cfg.Live.Configured() {
		live = fmt.Sprintf("%s, %d nodes", cfg.Live.Endpoint, len(cfg.Live.Nodes))
	}
	fmt.Printf("config %s looks good: %d simulated machines, live endpoint %s\n",
		*cfgPath, len(cfg.Simulation.Equipment), live)
	return nil
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
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

var modeNames = map[float64]string{0: "stopped", 1: "live", 2: "simulated", 3: "disconnected"}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	targets := map[string]float64{
		"plantpulse_events_published_total": 0,
		"plantpulse_events_dropped_total":   0,
		"plantpulse_queue_length":           0,
		"plantpulse_failovers_total":        0,
		"plantpulse_mode":                   0,
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for key := range targets {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %g", &value); err == nil {
					targets[key] = value
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("[%s] mode=%s published=%.0f dropped=%.0f queue=%.0f failovers=%.0f\n",
		time.Now().Format(time.RFC3339),
		modeNames[targets["plantpulse_mode"]],
		targets["plantpulse_events_published_total"],
		targets["plantpulse_events_dropped_total"],
		targets["plantpulse_queue_length"],
		targets["plantpulse_failovers_total"],
	)
	return nil
}

func printUsage() {
	fmt.Printf(`PlantPulse CLI

Usage:
  plantpulse <command> [flags]

Commands:
  run        Stream factory telemetry, live when reachable and simulated otherwise
  validate   Load and validate a config file without starting the runtime
  stats      Poll the Prometheus metrics endpoint and print live counters

Examples:
  plantpulse run -config ./data/config.yaml
  plantpulse run -seed 42 -print
  plantpulse validate -config ./data/config.yaml
  plantpulse stats -url http://localhost:9100/metrics -interval 1s
`)
}
