package locking

import (
	"sync"
	"testing"
	"time"
)

func TestLockSerializesSameKey(t *testing.T) {
	keyed := NewKeyed()

	const numGoroutines = 50
	var counter, max int
	var wg sync.WaitGroup

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keyed.Lock("order-1")
			counter++
			if counter > max {
				max = counter
			}
			counter--
			keyed.Unlock("order-1")
		}()
	}
	wg.Wait()

	if max != 1 {
		t.Errorf("Expected at most 1 holder of the same key, saw %d", max)
	}
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	keyed := NewKeyed()

	keyed.Lock("order-1")
	defer keyed.Unlock("order-1")

	acquired := make(chan struct{})
	go func() {
		keyed.Lock("order-2")
		defer keyed.Unlock("order-2")
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Lock on a different key blocked")
	}
}

func TestSameMutexReturnedForKey(t *testing.T) {
	keyed := NewKeyed()

	keyed.Lock("order-1")

	blocked := make(chan struct{})
	go func() {
		keyed.Lock("order-1")
		defer keyed.Unlock("order-1")
		close(blocked)
	}()

	select {
	case <-blocked:
		t.Fatal("Second Lock on the same key did not block")
	case <-time.After(50 * time.Millisecond):
	}

	keyed.Unlock("order-1")

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("Second Lock never acquired after Unlock")
	}
}
