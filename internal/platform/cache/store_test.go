package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errUnexpectedValue = errors.New("unexpected value")

func TestStore_GetOrLoad_CollapsesConcurrentLoads(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute)
	var calls atomic.Int32

	loader := func(context.Context) (any, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return "token", nil
	}

	const workers = 32
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)
	errCh := make(chan error, workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			v, err := store.GetOrLoad(context.Background(), "default", loader)
			if err != nil {
				errCh <- err
				return
			}
			if got, _ := v.(string); got != "token" {
				errCh <- errUnexpectedValue
			}
		}()
	}

	close(start)
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if got := calls.Load(); got != 1 {
		t.Fatalf("loader called %d times, want 1", got)
	}
}

func TestStore_GetOrLoad_ReusesCachedValue(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute)
	var calls atomic.Int32

	loader := func(context.Context) (any, error) {
		calls.Add(1)
		return "token", nil
	}

	for i := 0; i < 3; i++ {
		if _, err := store.GetOrLoad(context.Background(), "default", loader); err != nil {
			t.Fatalf("load %d failed: %v", i, err)
		}
	}

	if got := calls.Load(); got != 1 {
		t.Fatalf("loader called %d times, want 1", got)
	}
}

func TestStore_GetOrLoad_ErrorIsNotCached(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute)
	var calls atomic.Int32
	errLoad := errors.New("token exchange failed")

	loader := func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errLoad
		}
		return "token", nil
	}

	if _, err := store.GetOrLoad(context.Background(), "default", loader); !errors.Is(err, errLoad) {
		t.Fatalf("expected load error, got %v", err)
	}
	v, err := store.GetOrLoad(context.Background(), "default", loader)
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if v != "token" {
		t.Fatalf("unexpected value: %v", v)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("loader called %d times, want 2", got)
	}
}

func TestStore_TTLExpiry(t *testing.T) {
	t.Parallel()

	store := NewStore(10 * time.Millisecond)
	store.Set(context.Background(), "default", "token")

	if _, ok := store.Get(context.Background(), "default"); !ok {
		t.Fatal("expected fresh entry")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := store.Get(context.Background(), "default"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute)
	store.Set(context.Background(), "default", "token")
	store.Delete(context.Background(), "default")

	if _, ok := store.Get(context.Background(), "default"); ok {
		t.Fatal("expected entry removed")
	}
}
