package hrb

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestAggregatedCallback_FiresOnceAfterLast(t *testing.T) {
	for _, n := range []int{1, 2, 5, 64} {
		var fired atomic.Int32
		var countAtFire int
		var agg *AggregatedCallback
		agg = NewAggregatedCallback(n, func() {
			fired.Add(1)
			countAtFire = agg.Count()
		})

		for i := 0; i < n; i++ {
			if fired.Load() != 0 {
				t.Fatalf("n=%d: fired after %d calls", n, i)
			}
			agg.Done()
		}
		if fired.Load() != 1 {
			t.Fatalf("n=%d: fired %d times, want 1", n, fired.Load())
		}
		if countAtFire != n {
			t.Errorf("n=%d: fired at count %d", n, countAtFire)
		}

		agg.Done()
		agg.Done()
		if fired.Load() != 1 {
			t.Errorf("n=%d: extra calls fired again", n)
		}
	}
}

func TestAggregatedCallback_Concurrent(t *testing.T) {
	const n = 200
	var fired atomic.Int32
	done := make(chan struct{})
	agg := NewAggregatedCallback(n, func() {
		fired.Add(1)
		close(done)
	})

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.Done()
		}()
	}
	wg.Wait()
	<-done

	if fired.Load() != 1 {
		t.Errorf("fired %d times, want 1", fired.Load())
	}
	if agg.Count() != n {
		t.Errorf("Count() = %d, want %d", agg.Count(), n)
	}
}

func TestAggregatedCallback_ZeroExpected(t *testing.T) {
	fired := false
	agg := NewAggregatedCallback(0, func() { fired = true })
	agg.Done()
	if fired {
		t.Error("callback with expected 0 fired")
	}
}
