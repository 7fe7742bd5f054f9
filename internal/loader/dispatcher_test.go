package loader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDispatcher_DrainRunsInOrder(t *testing.T) {
	t.Parallel()

	q := NewQueueDispatcher()
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		q.Post(func() { got = append(got, i) })
	}
	assert.Equal(t, 5, q.Len())
	assert.Equal(t, 5, q.Drain())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.Equal(t, 0, q.Drain())
}

func TestQueueDispatcher_RunOnOneGoroutine(t *testing.T) {
	t.Parallel()

	q := NewQueueDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan int, 100)
	errCh := make(chan error, 1)
	go func() { errCh <- q.Run(ctx) }()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Post(func() { ran <- i })
		}(i)
	}
	wg.Wait()

	seen := 0
	timeout := time.After(5 * time.Second)
	for seen < 100 {
		select {
		case <-ran:
			seen++
		case <-timeout:
			t.Fatalf("only %d of 100 functions ran", seen)
		}
	}

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}
