package faultline_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sharnoff/faultline"
	"golang.org/x/exp/slices"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := faultline.NewQueue[int](0)
	q.Push(1)
	q.Push(2)
	q.Emplace(3, 4)
	q.Push(5)
	assert(q.Len() == 5)

	var got []int
	for {
		v, ok := q.TryPop()
		if !ok {
			break
		}
		got = append(got, v)
	}

	if !slices.Equal(got, []int{1, 2, 3, 4, 5}) {
		t.Fatalf("bad order: %v", got)
	}
	assert(q.Empty())
}

func TestQueueTryPopEmpty(t *testing.T) {
	t.Parallel()

	q := faultline.NewQueue[string](time.Hour)
	_, ok := q.TryPop()
	assert(!ok)

	// TryPopFor with no timeout only checks once
	start := time.Now()
	_, ok = q.TryPopFor(0)
	assert(!ok)
	assert(time.Since(start) < 50*time.Millisecond)
}

func TestQueueTimeoutAccuracy(t *testing.T) {
	t.Parallel()

	q := faultline.NewQueue[int](0)

	start := time.Now()
	_, ok := q.TryPopFor(50 * time.Millisecond)
	elapsed := time.Since(start)

	assert(!ok)
	if elapsed < 50*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Fatalf("expected to wait ~50ms, waited %v", elapsed)
	}
}

func TestQueuePopWaitsForPush(t *testing.T) {
	t.Parallel()

	q := faultline.NewQueue[int](time.Second)
	assert(q.Timeout() == time.Second)

	go func() {
		time.Sleep(10 * jiffy)
		q.Push(42)
	}()

	start := time.Now()
	v, ok := q.Pop()
	assert(ok && v == 42)
	assert(time.Since(start) < 500*time.Millisecond)

	q.SetTimeout(0)
	_, ok = q.Pop()
	assert(!ok)
}

func TestQueuePopContext(t *testing.T) {
	t.Parallel()

	q := faultline.NewQueue[int](0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*jiffy)
	defer cancel()
	_, err := q.PopContext(ctx)
	assert(err == context.DeadlineExceeded)

	go func() {
		time.Sleep(jiffy)
		q.Push(7)
	}()
	v, err := q.PopContext(context.Background())
	assert(err == nil && v == 7)
}

func TestQueueClear(t *testing.T) {
	t.Parallel()

	q := faultline.NewQueue[int](0)
	q.Emplace(1, 2, 3)
	q.Clear()
	assert(q.Empty())
	_, ok := q.TryPop()
	assert(!ok)

	q.Push(4)
	v, ok := q.TryPop()
	assert(ok && v == 4)
}

func TestQueueConcurrentNoLossNoDuplication(t *testing.T) {
	t.Parallel()

	const producers = 8
	const perProducer = 2000

	q := faultline.NewQueue[int](0)

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p += 1 {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i += 1 {
				q.Push(p*perProducer + i)
			}
		}(p)
	}

	// consume concurrently with the producers
	seen := make([]int, producers*perProducer)
	lastPerProducer := make([]int, producers)
	for i := range lastPerProducer {
		lastPerProducer[i] = -1
	}

	producersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(producersDone)
	}()

	count := 0
	for {
		v, ok := q.TryPopFor(jiffy)
		if !ok {
			if isClosed(producersDone) && q.Empty() {
				break
			}
			continue
		}

		seen[v] += 1
		count += 1

		// items from a single producer come out in the order they went in
		p, i := v/perProducer, v%perProducer
		assert(i > lastPerProducer[p])
		lastPerProducer[p] = i
	}

	if count != producers*perProducer {
		t.Fatalf("expected %d items, got %d", producers*perProducer, count)
	}
	for v, n := range seen {
		if n != 1 {
			t.Fatalf("item %d seen %d times", v, n)
		}
	}
}

func TestQueueMultipleConsumers(t *testing.T) {
	t.Parallel()

	const total = 1000
	q := faultline.NewQueue[int](0)

	results := make(chan int, total)
	var wg sync.WaitGroup
	for c := 0; c < 4; c += 1 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok := q.TryPopFor(20 * jiffy)
				if !ok {
					return
				}
				results <- v
			}
		}()
	}

	for i := 0; i < total; i += 1 {
		q.Push(i)
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	for v := range results {
		assert(!seen[v])
		seen[v] = true
	}
	assert(len(seen) == total)
}
