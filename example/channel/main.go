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

	rt, err := plantpulse.NewRuntime(cfg)
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	reports, closeReports := plantpulse.SubscribeChannel[plantpulse.ProductionReport](rt, 32)
	defer closeReports()
	changes, closeChanges := plantpulse.SubscribeChannel[plantpulse.StatusChange](rt, 32)
	defer closeChanges()

	go yieldWorker(reports)
	go statusWorker(changes)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("runtime error: %v", err)
	}
}

func yieldWorker(reports <-chan plantpulse.ProductionReport) {
	produced := map[string]int{}
	defects := map[string]int{}
	for r := range reports {
		produced[r.EquipmentID] += r.UnitsProduced
		defects[r.EquipmentID] += r.DefectCount
		yield := 100.0
		if produced[r.EquipmentID] > 0 {
			yield = 100 * float64(produced[r.EquipmentID]-defects[r.EquipmentID]) / float64(produced[r.EquipmentID])
		}
		fmt.Printf("[yield] %s total=%d yield=%.1f%% at %s\n",
			r.EquipmentID, produced[r.EquipmentID], yield, r.Timestamp.Format(time.RFC3339))
	}
}

func statusWorker(changes <-chan plantpulse.StatusChange) {
	for c := range changes {
		fmt.Printf("[status] %s %s -> %s\n", c.EquipmentID, c.PreviousStatus, c.NewStatus)
	}
}
