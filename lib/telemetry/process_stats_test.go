package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSampleProcess(t *testing.T) {
	stats, err := SampleProcess(context.Background(), time.Millisecond*50)
	require.NoError(t, err)
	require.GreaterOrEqual(t, stats.Goroutines, 1)
	require.Positive(t, stats.LiveObjects)
	require.GreaterOrEqual(t, stats.CPUPercent, 0.0)
}

func TestRecordProcessStatsStops(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*250)
	defer cancel()

	done := make(chan struct{})
	go func() {
		RecordProcessStats(ctx, time.Millisecond*60)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second * 2):
		t.Fatal("recording did not stop with its context")
	}
}
