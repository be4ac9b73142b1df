package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/h9661/factory-control-and-monitoring-system-sub001"
)

func main() {
	cfg := plantpulse.DefaultConfig()
	cfg.Metrics.Addr = "off"
	cfg.Simulation.Seed = 42

	rt, err := plantpulse.NewRuntime(cfg)
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	readings := plantpulse.Subscribe(rt, func(r plantpulse.SensorReading) error {
		flag := ""
		if r.IsAnomaly {
			flag = " (anomaly)"
		}
		fmt.Printf("%s %s %s=%.2f%s%s\n",
			r.Timestamp.Format(time.RFC3339Nano), r.EquipmentID, r.TagName, r.Value, r.Unit, flag)
		return nil
	})
	defer readings.Dispose()

	alarms := plantpulse.Subscribe(rt, func(a plantpulse.AlarmRaised) error {
		fmt.Printf("ALARM %s [%s] %s\n", a.EquipmentID, a.Severity, a.Message)
		return nil
	})
	defer alarms.Dispose()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("runtime error: %v", err)
	}
}
