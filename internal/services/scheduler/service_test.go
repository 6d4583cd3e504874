package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	logx "choreboard/pkg/logx"
)

func TestApplyUpdatesConfigAndTimeouts(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, JobTimeout: time.Minute}, logx.Nop(), nil)

	noop := func(ctx context.Context) error { return nil }
	if err := s.Register("sweep", "0 6 * * MON", noop); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.Apply(Config{Enabled: false, JobTimeout: 5 * time.Second})

	if s.Enabled() {
		t.Fatal("Enabled() must reflect the applied config")
	}
	s.mu.Lock()
	gotTimeout := s.defs[0].timeout
	workers, hist := s.cfg.Workers, s.cfg.HistorySize
	s.mu.Unlock()
	if gotTimeout != 5*time.Second {
		t.Fatalf("def timeout = %v, want 5s", gotTimeout)
	}
	// Defaults are re-applied just like at construction.
	if workers != 2 || hist != 50 {
		t.Fatalf("defaults not applied: workers=%d history=%d", workers, hist)
	}

	// Registration after Apply uses the new timeout.
	if err := s.Register("other", "45m", noop); err != nil {
		t.Fatalf("register after apply: %v", err)
	}
	s.mu.Lock()
	gotTimeout = s.defs[len(s.defs)-1].timeout
	s.mu.Unlock()
	if gotTimeout != 5*time.Second {
		t.Fatalf("new def timeout = %v, want 5s", gotTimeout)
	}
}

func TestApplyWhileRunningKeepsSchedules(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop(), nil)
	noop := func(ctx context.Context) error { return nil }
	if err := s.Register("sweep", "0 6 * * MON", noop); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.Start(context.Background())
	defer s.Stop(context.Background())

	// Timezone change restarts cron; the registered schedule must survive
	// with a live next-fire time.
	s.Apply(Config{Enabled: true, Timezone: "America/New_York"})

	scheds := s.Schedules()
	if len(scheds) != 1 || scheds[0].Name != "sweep" {
		t.Fatalf("schedules after apply = %+v", scheds)
	}
	if scheds[0].Next.IsZero() {
		t.Fatal("schedule lost its next fire time after timezone change")
	}
}

func TestStopWithConcurrentTriggers(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Workers: 2}, logx.Nop(), nil)
	if err := s.Register("job", "45m", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.Start(context.Background())

	s.mu.Lock()
	def := s.defs[0]
	s.mu.Unlock()

	// Hammer the trigger path while stopping; a trigger caught mid-enqueue
	// must never send on the closed queue.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					s.enqueue(def)
				}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	s.Stop(context.Background())
	close(stop)
	wg.Wait()

	// Triggers after Stop are silent no-ops.
	s.enqueue(def)
}
