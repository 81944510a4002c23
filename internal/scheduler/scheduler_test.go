package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type stubEconomy struct {
	mu sync.Mutex

	leaseGranted bool
	leaseErr     error
	leaseCalls   int

	expired     int64
	expireErr   error
	expireCalls int

	delivered    int
	deliverErr   error
	deliverCalls int
}

func (s *stubEconomy) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaseCalls++
	return s.leaseGranted, s.leaseErr
}

func (s *stubEconomy) ExpireStreaks(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireCalls++
	return s.expired, s.expireErr
}

func (s *stubEconomy) DeliverPending(ctx context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliverCalls++
	return s.delivered, s.deliverErr
}

func TestNew_ParsesSweepTime(t *testing.T) {
	s, err := New(&stubEconomy{}, zap.NewNop(), "03:45")
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if s.sweepHour != 3 || s.sweepMinute != 45 {
		t.Fatalf("sweep time = %d:%d, want 3:45", s.sweepHour, s.sweepMinute)
	}
}

func TestNew_RejectsBadSweepTime(t *testing.T) {
	for _, bad := range []string{"", "25:00", "12:61", "noon"} {
		if _, err := New(&stubEconomy{}, zap.NewNop(), bad); err == nil {
			t.Errorf("New(%q) expected error", bad)
		}
	}
}

func TestNextSweep(t *testing.T) {
	s, err := New(&stubEconomy{}, zap.NewNop(), "00:05")
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{
			// До момента запуска — сегодня.
			now:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 1, 0, 5, 0, 0, time.UTC),
		},
		{
			// После момента запуска — завтра.
			now:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 2, 0, 5, 0, 0, time.UTC),
		},
		{
			// Ровно в момент запуска — завтра.
			now:  time.Date(2026, 3, 1, 0, 5, 0, 0, time.UTC),
			want: time.Date(2026, 3, 2, 0, 5, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		if got := s.nextSweep(tt.now); !got.Equal(tt.want) {
			t.Errorf("nextSweep(%v) = %v, want %v", tt.now, got, tt.want)
		}
	}
}

func TestRunSweep_SkipsWithoutLease(t *testing.T) {
	stub := &stubEconomy{leaseGranted: false}
	s, _ := New(stub, zap.NewNop(), "00:05")

	s.runSweep(context.Background())

	if stub.leaseCalls != 1 {
		t.Fatalf("lease calls = %d, want 1", stub.leaseCalls)
	}
	if stub.expireCalls != 0 {
		t.Fatalf("sweep ran without lease")
	}
}

func TestRunSweep_RunsWithLease(t *testing.T) {
	stub := &stubEconomy{leaseGranted: true, expired: 3}
	s, _ := New(stub, zap.NewNop(), "00:05")

	s.runSweep(context.Background())

	if stub.expireCalls != 1 {
		t.Fatalf("expire calls = %d, want 1", stub.expireCalls)
	}
}

func TestRunSweep_LeaseError(t *testing.T) {
	stub := &stubEconomy{leaseErr: errors.New("db down")}
	s, _ := New(stub, zap.NewNop(), "00:05")

	s.runSweep(context.Background())

	if stub.expireCalls != 0 {
		t.Fatalf("sweep ran despite lease error")
	}
}

func TestRedeliverPending_RetriesOnError(t *testing.T) {
	stub := &stubEconomy{deliverErr: errors.New("fulfillment down")}
	s, _ := New(stub, zap.NewNop(), "00:05")

	s.redeliverPending(context.Background())

	// Первая попытка плюс повторы.
	if stub.deliverCalls != 4 {
		t.Fatalf("deliver calls = %d, want 4", stub.deliverCalls)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	stub := &stubEconomy{}
	s, _ := New(stub, zap.NewNop(), "00:05")

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}
