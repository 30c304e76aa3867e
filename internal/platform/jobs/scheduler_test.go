package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSweeper struct {
	calls atomic.Int32
	n     int
	err   error
}

func (f *fakeSweeper) MarkMissedAppointments(ctx context.Context) (int, error) {
	f.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("sweep should run with a deadline")
	}
	return f.n, f.err
}

func TestRunMissedSweep(t *testing.T) {
	s := &fakeSweeper{n: 3}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if got := RunMissedSweep(ctx, s, zerolog.Nop()); got != 3 {
		t.Errorf("marked = %d, want 3", got)
	}
}

func TestRunMissedSweep_PartialFailure(t *testing.T) {
	s := &fakeSweeper{n: 1, err: errors.New("update failed")}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if got := RunMissedSweep(ctx, s, zerolog.Nop()); got != 1 {
		t.Errorf("marked = %d, want 1", got)
	}
}

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	sch := NewScheduler(zerolog.Nop(), time.Second)
	if err := sch.AddMissedSweep("not a cron line", &fakeSweeper{}); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestScheduler_DefaultSchedule(t *testing.T) {
	sch := NewScheduler(zerolog.Nop(), time.Second)
	if err := sch.AddMissedSweep("", &fakeSweeper{}); err != nil {
		t.Fatalf("AddMissedSweep: %v", err)
	}
	if n := len(sch.cron.Entries()); n != 1 {
		t.Errorf("entries = %d, want 1", n)
	}
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	sch := NewScheduler(zerolog.Nop(), time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sch.Stop(ctx)
}
