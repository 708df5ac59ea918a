package schedule

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunDriftStaysBounded(t *testing.T) {
	const (
		period = 20 * time.Millisecond
		work   = 5 * time.Millisecond
		cycles = 10
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var starts []time.Time
	err := Run(ctx, period, func(now time.Time) {
		starts = append(starts, time.Now())
		time.Sleep(work)
		if len(starts) == cycles {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: got %v, want context.Canceled", err)
	}
	if len(starts) != cycles {
		t.Fatalf("cycles: got %d, want %d", len(starts), cycles)
	}

	// Drift must not accumulate with N: each cycle's start should sit
	// within a few sleep thresholds of start+N*period even though work
	// consumes a quarter of the period. A bound this tight fails if the
	// anchor ever advances by elapsed wall-clock time instead of the
	// period.
	const driftBound = 4 * time.Millisecond
	for i, s := range starts {
		want := starts[0].Add(time.Duration(i) * period)
		drift := s.Sub(want)
		if drift < 0 {
			drift = -drift
		}
		if drift > driftBound {
			t.Errorf("cycle %d: drift %v exceeds %v", i, drift, driftBound)
		}
	}
}

func TestRunOverrunFiresBackToBack(t *testing.T) {
	const period = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	count := 0
	start := time.Now()
	Run(ctx, period, func(now time.Time) {
		count++
		time.Sleep(3 * period)
		if count == 3 {
			cancel()
		}
	})

	// Each invocation overruns the period, so no inter-cycle sleep should
	// occur: total elapsed is roughly 3 work durations, not 3 work+sleep.
	elapsed := time.Since(start)
	if elapsed > 12*period {
		t.Errorf("elapsed %v, want back-to-back cycles near %v", elapsed, 9*period)
	}
}

func TestRunCancelDuringSleep(t *testing.T) {
	const period = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	ran := make(chan struct{})

	go func() {
		done <- Run(ctx, period, func(now time.Time) {
			close(ran)
		})
	}()

	<-ran
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run: got %v, want context.Canceled", err)
		}
	case <-time.After(period / 2):
		t.Fatal("Run did not return within half a period of cancellation")
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Run(ctx, time.Minute, func(now time.Time) {
		t.Error("work ran despite pre-cancelled context")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: got %v, want context.Canceled", err)
	}
}
