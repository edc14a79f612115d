package observable

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCell_GetSet(t *testing.T) {
	c := NewCell(1)
	assert.Equal(t, 1, c.Get())
	assert.Equal(t, uint64(0), c.Version())

	c.Set(2)
	assert.Equal(t, 2, c.Get())
	assert.Equal(t, uint64(1), c.Version())
}

func TestCell_SubscribeReceivesCurrentValue(t *testing.T) {
	c := NewCell("initial")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := c.Subscribe(ctx)
	select {
	case v := <-ch:
		assert.Equal(t, "initial", v)
	case <-time.After(time.Second):
		t.Fatal("no initial value")
	}
}

func TestCell_SubscribeLatestWins(t *testing.T) {
	c := NewCell(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := c.Subscribe(ctx)
	for i := 1; i <= 10; i++ {
		c.Set(i)
	}

	// Slow subscriber sees only the newest value
	select {
	case v := <-ch:
		assert.Equal(t, 10, v)
	case <-time.After(time.Second):
		t.Fatal("no value")
	}
}

func TestCell_UnsubscribeOnContextDone(t *testing.T) {
	c := NewCell(0)
	ctx, cancel := context.WithCancel(context.Background())

	ch := c.Subscribe(ctx)
	<-ch
	require.Equal(t, 1, c.Subscribers())

	cancel()

	require.Eventually(t, func() bool {
		return c.Subscribers() == 0
	}, time.Second, 5*time.Millisecond)

	_, open := <-ch
	assert.False(t, open, "channel should be closed after unsubscribe")
}

func TestCell_Close(t *testing.T) {
	c := NewCell(0)
	ch := c.Subscribe(context.Background())
	<-ch

	c.Close()
	c.Close() // idempotent

	_, open := <-ch
	assert.False(t, open)

	c.Set(5)
	assert.Equal(t, 0, c.Get(), "set after close is ignored")

	late := c.Subscribe(context.Background())
	_, open = <-late
	assert.False(t, open, "subscribe after close returns closed channel")
}

func TestCell_ConcurrentWriters(t *testing.T) {
	c := NewCell(0)
	const writers = 50

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Set(i)
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(writers), c.Version())
	assert.GreaterOrEqual(t, c.Get(), 0)
	assert.Less(t, c.Get(), writers)
}
