package purge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSessions struct {
	mu          sync.Mutex
	expiredErr  error
	inactiveErr error
	calls       int
	days        int
}

func (f *fakeSessions) PurgeExpired(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.expiredErr != nil {
		return 0, f.expiredErr
	}
	return 3, nil
}

func (f *fakeSessions) PurgeInactive(_ context.Context, days int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.days = days
	if f.inactiveErr != nil {
		return 0, f.inactiveErr
	}
	return 2, nil
}

func (f *fakeSessions) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRunOnce(t *testing.T) {
	f := &fakeSessions{}
	res, err := New(f, time.Minute, 14, nil).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Expired != 3 || res.Inactive != 2 {
		t.Errorf("result = %+v", res)
	}
	if f.days != 14 {
		t.Errorf("retention days = %d, want 14", f.days)
	}
}

func TestRunOnce_Defaults(t *testing.T) {
	f := &fakeSessions{}
	p := New(f, 0, 0, nil)
	if p.interval != DefaultInterval {
		t.Errorf("interval = %v", p.interval)
	}
	_, _ = p.RunOnce(context.Background())
	if f.days != DefaultRetentionDays {
		t.Errorf("retention days = %d", f.days)
	}
}

func TestRunOnce_ContinuesAfterExpiredFailure(t *testing.T) {
	boom := errors.New("boom")
	f := &fakeSessions{expiredErr: boom}
	res, err := New(f, time.Minute, 30, nil).RunOnce(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if res.Inactive != 2 {
		t.Error("inactive purge should run even if the expired purge fails")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := &fakeSessions{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(f, 10*time.Millisecond, 30, nil).Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for f.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if f.callCount() < 2 {
		t.Errorf("expected at least two passes, got %d", f.callCount())
	}
}
