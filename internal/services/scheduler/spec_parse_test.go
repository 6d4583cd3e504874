package scheduler

import (
	"context"
	"testing"
	"time"

	logx "choreboard/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		kind    SpecKind
		cron    string
		every   time.Duration
		source  string
		wantErr bool
	}{
		{in: "0 6 * * MON", kind: SpecCron, cron: "0 6 * * MON", source: "cron"},
		{in: "@daily", kind: SpecCron, cron: "@daily", source: "cron"},
		{in: "@every 12h", kind: SpecCron, cron: "@every 12h", source: "cron"},
		{in: "cron:*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *", source: "cron"},
		{in: "45m", kind: SpecInterval, every: 45 * time.Minute, source: "duration"},
		{in: "2h30m", kind: SpecInterval, every: 2*time.Hour + 30*time.Minute, source: "duration"},
		{in: "02:30", kind: SpecInterval, every: 2*time.Hour + 30*time.Minute, source: "hhmm"},
		{in: "00:50", kind: SpecInterval, every: 50 * time.Minute, source: "hhmm"},
		{in: "interval:02:30", kind: SpecInterval, every: 2*time.Hour + 30*time.Minute, source: "hhmm"},
		{in: "every:45m", kind: SpecInterval, every: 45 * time.Minute, source: "duration"},
		{in: "", wantErr: true},
		{in: "cron:", wantErr: true},
		{in: "00:00", wantErr: true},
		{in: "02:99", wantErr: true},
		{in: "-5m", wantErr: true},
		{in: "nonsense", wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseSchedule(%q) = %+v, want error", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSchedule(%q): %v", tc.in, err)
			}
			if got.Kind != tc.kind {
				t.Fatalf("kind = %v, want %v", got.Kind, tc.kind)
			}
			if got.Cron != tc.cron {
				t.Fatalf("cron = %q, want %q", got.Cron, tc.cron)
			}
			if got.Every != tc.every {
				t.Fatalf("every = %v, want %v", got.Every, tc.every)
			}
			if got.Source != tc.source {
				t.Fatalf("source = %q, want %q", got.Source, tc.source)
			}
		})
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop(), nil)

	noop := func(ctx context.Context) error { return nil }
	if err := s.Register("", "45m", noop); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := s.Register("sweep", "nonsense", noop); err == nil {
		t.Fatal("expected error for bad schedule")
	}
	if err := s.Register("sweep", "nil job check", nil); err == nil {
		t.Fatal("expected error for nil job")
	}
	if err := s.Register("sweep", "0 6 * * MON", noop); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Upsert replaces, never duplicates.
	if err := s.Register("sweep", "45m", noop); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if got := s.Schedules(); len(got) != 1 || got[0].Spec != "@every 45m0s" {
		t.Fatalf("schedules = %+v", got)
	}
}
