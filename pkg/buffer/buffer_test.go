package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircular_WriteRead(t *testing.T) {
	buf := NewCircular[int](4)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	assert.Equal(t, 2, buf.Size())

	v, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = buf.Read()
	assert.False(t, ok)
	assert.True(t, buf.IsEmpty())
}

func TestCircular_DropOldest(t *testing.T) {
	var dropped []int
	buf := NewCircular[int](2,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3))

	assert.Equal(t, []int{1}, dropped)
	got := buf.ReadBatch(10)
	assert.Equal(t, []int{2, 3}, got)
	assert.Equal(t, int64(1), buf.Stats().Drops())
	assert.Equal(t, int64(1), buf.Stats().Overflows())
}

func TestCircular_DropNewest(t *testing.T) {
	buf := NewCircular[int](2, WithOverflowPolicy[int](DropNewest))

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3))

	got := buf.ReadBatch(10)
	assert.Equal(t, []int{1, 2}, got)
	assert.Equal(t, int64(1), buf.Stats().Drops())
}

func TestCircular_BlockUnblocksOnRead(t *testing.T) {
	buf := NewCircular[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, buf.Write(1))

	done := make(chan struct{})
	go func() {
		_ = buf.Write(2)
		close(done)
	}()

	// Writer should be blocked until a read frees space
	select {
	case <-done:
		t.Fatal("blocked write completed before read")
	case <-time.After(50 * time.Millisecond):
	}

	v, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked write never completed")
	}

	v, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestCircular_CloseWakesBlockedWriter(t *testing.T) {
	buf := NewCircular[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, buf.Write(1))

	errCh := make(chan error, 1)
	go func() {
		errCh <- buf.Write(2)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, buf.Close())

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked writer not released on close")
	}

	assert.Error(t, buf.Write(3))
}

func TestCircular_PeekDoesNotRemove(t *testing.T) {
	buf := NewCircular[string](2)
	require.NoError(t, buf.Write("a"))

	v, ok := buf.Peek()
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, 1, buf.Size())
}

func TestCircular_Clear(t *testing.T) {
	var dropped []int
	buf := NewCircular[int](4,
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)
	for i := 1; i <= 3; i++ {
		require.NoError(t, buf.Write(i))
	}

	buf.Clear()
	assert.True(t, buf.IsEmpty())
	assert.Equal(t, []int{1, 2, 3}, dropped)
}

func TestCircular_WrapAround(t *testing.T) {
	buf := NewCircular[int](3)
	for i := 0; i < 10; i++ {
		require.NoError(t, buf.Write(i))
		if i%2 == 1 {
			buf.Read()
		}
	}
	// Buffer stays consistent after many wraps
	assert.LessOrEqual(t, buf.Size(), buf.Capacity())
	assert.Equal(t, int64(10), buf.Stats().Writes())
}

func TestCircular_ConcurrentAccess(t *testing.T) {
	buf := NewCircular[int](64)
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = buf.Write(i)
			}
		}()
	}
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 150; i++ {
				buf.Read()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int64(400), buf.Stats().Writes())
}
