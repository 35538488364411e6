package quote

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGroupCoalescesConcurrentCallers(t *testing.T) {
	group := NewGroup[*QuoteRecord](DedupeConfig{Grace: 50 * time.Millisecond, WaitTimeout: time.Second})

	var invocations int64
	release := make(chan struct{})
	fn := func() (*QuoteRecord, error) {
		atomic.AddInt64(&invocations, 1)
		<-release
		return &QuoteRecord{Symbol: "AAPL", CurrentPrice: 150}, nil
	}

	const callers = 20
	results := make([]*QuoteRecord, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = group.Do(context.Background(), "quote:AAPL", fn)
		}(i)
	}

	// Let every goroutine reach the group before the leader finishes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt64(&invocations); got != 1 {
		t.Fatalf("operation invoked %d times, want 1", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Errorf("caller %d got a different result instance", i)
		}
	}
}

func TestGroupSharesLeaderError(t *testing.T) {
	group := NewGroup[*QuoteRecord](DedupeConfig{Grace: 50 * time.Millisecond, WaitTimeout: time.Second})

	wantErr := errors.New("upstream exploded")
	release := make(chan struct{})

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = group.Do(context.Background(), "quote:FAIL", func() (*QuoteRecord, error) {
				<-release
				return nil, wantErr
			})
		}(i)
	}

	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, wantErr) {
			t.Errorf("caller %d error = %v, want %v", i, err, wantErr)
		}
	}
}

func TestGroupGracePeriodSharesOutcome(t *testing.T) {
	group := NewGroup[*QuoteRecord](DedupeConfig{Grace: 200 * time.Millisecond, WaitTimeout: time.Second})

	var invocations int64
	fn := func() (*QuoteRecord, error) {
		atomic.AddInt64(&invocations, 1)
		return &QuoteRecord{Symbol: "MSFT"}, nil
	}

	if _, err := group.Do(context.Background(), "quote:MSFT", fn); err != nil {
		t.Fatalf("first Do() error = %v", err)
	}
	// Inside the grace window: the completed entry still answers.
	if _, err := group.Do(context.Background(), "quote:MSFT", fn); err != nil {
		t.Fatalf("second Do() error = %v", err)
	}
	if got := atomic.LoadInt64(&invocations); got != 1 {
		t.Fatalf("operation invoked %d times within grace, want 1", got)
	}

	// After the grace window the entry is purged and a new leader runs.
	time.Sleep(300 * time.Millisecond)
	if _, err := group.Do(context.Background(), "quote:MSFT", fn); err != nil {
		t.Fatalf("post-grace Do() error = %v", err)
	}
	if got := atomic.LoadInt64(&invocations); got != 2 {
		t.Fatalf("operation invoked %d times after grace, want 2", got)
	}
}

func TestGroupWaitTimeout(t *testing.T) {
	group := NewGroup[*QuoteRecord](DedupeConfig{Grace: 50 * time.Millisecond, WaitTimeout: 50 * time.Millisecond})

	release := make(chan struct{})
	defer close(release)

	started := make(chan struct{})
	go func() {
		_, _ = group.Do(context.Background(), "quote:SLOW", func() (*QuoteRecord, error) {
			close(started)
			<-release
			return &QuoteRecord{Symbol: "SLOW"}, nil
		})
	}()
	<-started

	_, err := group.Do(context.Background(), "quote:SLOW", func() (*QuoteRecord, error) {
		t.Fatal("waiter must not re-invoke the operation")
		return nil, nil
	})
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("waiter error = %v, want ErrWaitTimeout", err)
	}
}

func TestGroupWaiterContextCancelled(t *testing.T) {
	group := NewGroup[*QuoteRecord](DedupeConfig{Grace: 50 * time.Millisecond, WaitTimeout: time.Second})

	release := make(chan struct{})
	defer close(release)

	started := make(chan struct{})
	go func() {
		_, _ = group.Do(context.Background(), "quote:HANG", func() (*QuoteRecord, error) {
			close(started)
			<-release
			return nil, nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := group.Do(ctx, "quote:HANG", func() (*QuoteRecord, error) { return nil, nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("waiter error = %v, want context.Canceled", err)
	}
}
