package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"

	"relay/observability"
	"relay/runtime"
)

// Telemetry samples presence and host usage on an interval, feeding the
// gauges the /metrics endpoint exposes.
type Telemetry struct {
	log      *slog.Logger
	presence *runtime.PresenceTracker
	metrics  observability.IRecorder
	interval time.Duration
}

func NewTelemetry(log *slog.Logger, presence *runtime.PresenceTracker,
	metrics observability.IRecorder, interval time.Duration) *Telemetry {
	return &Telemetry{log: log, presence: presence, metrics: metrics, interval: interval}
}

func (w *Telemetry) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sample()
		}
	}
}

func (w *Telemetry) sample() {
	online := w.presence.OnlineIdentities()
	w.metrics.SetOnlineIdentities(online)

	var memPercent, cpuPercent float64
	if vm, err := mem.VirtualMemory(); err == nil {
		memPercent = vm.UsedPercent
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}
	w.metrics.SetSystemUsage(memPercent, cpuPercent)

	w.log.Debug("telemetry sample",
		"identities_online", online,
		"connections", w.presence.ConnectionCount(),
		"mem_used_percent", memPercent,
		"cpu_used_percent", cpuPercent)
}
