package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"go.opentelemetry.io/otel"
)

// ProcessStats is one sample of the serving process.
type ProcessStats struct {
	// CPUPercent is the machine wide cpu usage over the sampling window.
	CPUPercent  float64
	AllocatedMB int64
	LiveObjects int64
	Goroutines  int
}

// SampleProcess reads the memory counters of the runtime and measures cpu
// usage over window.
func SampleProcess(ctx context.Context, window time.Duration) (ProcessStats, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	stats := ProcessStats{
		AllocatedMB: int64(mem.Alloc / 1_000_000),
		LiveObjects: int64(mem.Mallocs) - int64(mem.Frees),
		Goroutines:  runtime.NumGoroutine(),
	}

	usage, err := cpu.PercentWithContext(ctx, window, false)
	if err != nil {
		return stats, fmt.Errorf("read cpu usage: %w", err)
	}
	if len(usage) > 0 {
		stats.CPUPercent = usage[0]
	}
	return stats, nil
}

// RecordProcessStats exports a sample to the process gauges every interval,
// it blocks until ctx is done.
func RecordProcessStats(ctx context.Context, interval time.Duration) {
	meter := otel.Meter("animeagg.process")
	cpuGauge, _ := meter.Float64Gauge("process.cpu_usage")
	memoryGauge, _ := meter.Int64Gauge("process.allocated_mb")
	objectsGauge, _ := meter.Int64Gauge("process.live_objects")
	goroutineGauge, _ := meter.Int64Gauge("process.goroutines")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// the cpu window takes a third of the interval
		stats, err := SampleProcess(ctx, interval/3)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("failed to sample process", "err", err)
		}
		cpuGauge.Record(ctx, stats.CPUPercent)
		memoryGauge.Record(ctx, stats.AllocatedMB)
		objectsGauge.Record(ctx, stats.LiveObjects)
		goroutineGauge.Record(ctx, int64(stats.Goroutines))
	}
}
