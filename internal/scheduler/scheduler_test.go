package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextRun(t *testing.T) {
	shanghai := time.FixedZone("CST", 8*3600)
	s, err := New(Options{Hour: 2, Minute: 0, Location: shanghai}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2026, 10, 1, 1, 59, 0, 0, shanghai), time.Date(2026, 10, 1, 2, 0, 0, 0, shanghai)},
		{time.Date(2026, 10, 1, 2, 0, 0, 0, shanghai), time.Date(2026, 10, 2, 2, 0, 0, 0, shanghai)},
		{time.Date(2026, 10, 31, 23, 0, 0, 0, shanghai), time.Date(2026, 11, 1, 2, 0, 0, 0, shanghai)},
		// 17:30 UTC is already 01:30 the next day in UTC+8.
		{time.Date(2026, 10, 1, 17, 30, 0, 0, time.UTC), time.Date(2026, 10, 2, 2, 0, 0, 0, shanghai)},
	}
	for _, tc := range cases {
		if got := s.NextRun(tc.now); !got.Equal(tc.want) {
			t.Errorf("NextRun(%v) = %v, want %v", tc.now, got, tc.want)
		}
	}
}

func TestRunDayUsesLocalCalendar(t *testing.T) {
	shanghai := time.FixedZone("CST", 8*3600)
	run := time.Date(2026, 10, 2, 2, 0, 0, 0, shanghai)
	if got := RunDay(run); !got.Equal(time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("RunDay = %v", got)
	}
}

func TestNewRejectsInvalidTime(t *testing.T) {
	if _, err := New(Options{Hour: 24}, zerolog.Nop()); err == nil {
		t.Fatal("hour 24 must be rejected")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _ := New(Options{Hour: 2, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Run(ctx, func(context.Context, time.Time) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunInvokesTick(t *testing.T) {
	s, _ := New(Options{Hour: 2}, zerolog.Nop())
	y, m, d := time.Now().UTC().AddDate(0, 0, -1).Date()
	fixed := time.Date(y, m, d, 1, 59, 59, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	days := make(chan time.Time, 1)
	go func() {
		_ = s.Run(ctx, func(_ context.Context, day time.Time) error {
			select {
			case days <- day:
			default:
			}
			return errors.New("tick failures are logged only")
		})
	}()

	select {
	case day := <-days:
		if !day.Equal(time.Date(y, m, d, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("unexpected day %v", day)
		}
	case <-ctx.Done():
		t.Fatal("tick was not invoked")
	}
}
