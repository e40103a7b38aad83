package retention

import (
	"context"
	"sync"
	"testing"
	"time"

	logx "mailerbot/pkg/logx"
)

func testLogger() logx.Logger { return logx.Nop() }

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	removed int64
}

func (f *fakePruner) PruneCampaigns(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.removed, nil
}

func TestSweepUsesMaxAgeCutoff(t *testing.T) {
	t.Parallel()

	p := &fakePruner{removed: 3}
	s := New(Config{Schedule: "@daily", MaxAge: 48 * time.Hour}, p, testLogger())

	before := time.Now().Add(-48 * time.Hour)
	s.sweep()
	after := time.Now().Add(-48 * time.Hour)

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.cutoffs) != 1 {
		t.Fatalf("got %d prune calls, want 1", len(p.cutoffs))
	}
	c := p.cutoffs[0]
	if c.Before(before) || c.After(after) {
		t.Fatalf("cutoff %v outside [%v, %v]", c, before, after)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	s := New(Config{Schedule: "not a schedule"}, &fakePruner{}, testLogger())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("want error for invalid schedule")
	}
}

func TestStartStopAndApply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := New(Config{Schedule: "@hourly", MaxAge: time.Hour}, &fakePruner{}, testLogger())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Fatal("second Start must fail")
	}

	// Schedule change restarts the cron under the new spec.
	if err := s.Apply(Config{Schedule: "@daily", MaxAge: time.Hour}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Stop is idempotent.
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop again: %v", err)
	}
}
