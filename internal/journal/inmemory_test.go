package journal

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInMemoryJournal_AppendAssignsOffsets verifies offsets are sequential from 0
func TestInMemoryJournal_AppendAssignsOffsets(t *testing.T) {
	j := NewInMemoryJournal(0)
	defer j.Close()

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e, err := j.Append(ctx, Entry{Kind: KindClusterHealthy})
		require.NoError(t, err)
		assert.Equal(t, int64(i), e.Offset)
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Time.IsZero())
	}

	end, err := j.EndOffset(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), end)
}

func TestInMemoryJournal_ReadFromOffset(t *testing.T) {
	j := NewInMemoryJournal(0)
	defer j.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := j.Append(ctx, Entry{Kind: KindMessageReceived, ContentLength: int64(i)})
		require.NoError(t, err)
	}

	entries, err := j.Read(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].Offset)
	assert.Equal(t, int64(3), entries[1].Offset)

	entries, err = j.Read(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInMemoryJournal_InvalidArguments(t *testing.T) {
	j := NewInMemoryJournal(0)
	defer j.Close()

	ctx := context.Background()

	_, err := j.Read(ctx, -1, 1)
	assert.ErrorIs(t, err, ErrNegativeOffset)

	_, err = j.Read(ctx, 0, -1)
	assert.ErrorIs(t, err, ErrNegativeMaxCount)

	_, err = j.Latest(ctx, -1)
	assert.ErrorIs(t, err, ErrNegativeMaxCount)
}

func TestInMemoryJournal_Latest(t *testing.T) {
	j := NewInMemoryJournal(0)
	defer j.Close()

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := j.Append(ctx, Entry{Kind: KindMessageSent})
		require.NoError(t, err)
	}

	entries, err := j.Latest(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].Offset)
	assert.Equal(t, int64(3), entries[1].Offset)

	entries, err = j.Latest(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

// TestInMemoryJournal_MaxEntries verifies old entries are dropped while offsets keep increasing
func TestInMemoryJournal_MaxEntries(t *testing.T) {
	j := NewInMemoryJournal(3)
	defer j.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := j.Append(ctx, Entry{Kind: KindClusterUnhealthy})
		require.NoError(t, err)
	}

	entries, err := j.Read(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(2), entries[0].Offset)
	assert.Equal(t, int64(4), entries[2].Offset)

	end, err := j.EndOffset(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), end)
}

// TestInMemoryJournal_TrimKeepsBoundedStorage appends far past the limit and
// checks retention and that the backing array stays proportional to the limit
func TestInMemoryJournal_TrimKeepsBoundedStorage(t *testing.T) {
	const limit = 64
	j := NewInMemoryJournal(limit)
	defer j.Close()

	ctx := context.Background()
	for i := 0; i < 50*limit; i++ {
		_, err := j.Append(ctx, Entry{Kind: KindMessageReceived, ContentLength: int64(i)})
		require.NoError(t, err)

		j.mu.RLock()
		size, capacity := len(j.entries), cap(j.entries)
		j.mu.RUnlock()
		require.LessOrEqual(t, size, limit)
		require.LessOrEqual(t, capacity, 4*limit)
	}

	entries, err := j.Read(ctx, 0, 2*limit)
	require.NoError(t, err)
	require.Len(t, entries, limit)
	for i, e := range entries {
		assert.Equal(t, int64(49*limit+i), e.Offset)
		assert.Equal(t, e.Offset, e.ContentLength)
	}
}

func TestInMemoryJournal_Closed(t *testing.T) {
	j := NewInMemoryJournal(0)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	ctx := context.Background()

	_, err := j.Append(ctx, Entry{Kind: KindClusterHealthy})
	assert.ErrorIs(t, err, ErrClosed)

	_, err = j.Read(ctx, 0, 1)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = j.Latest(ctx, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestInMemoryJournal_CancelledContext(t *testing.T) {
	j := NewInMemoryJournal(0)
	defer j.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := j.Append(ctx, Entry{Kind: KindClusterHealthy})
	assert.ErrorIs(t, err, context.Canceled)
}

// TestInMemoryJournal_ConcurrentAppend verifies every append gets a unique offset
func TestInMemoryJournal_ConcurrentAppend(t *testing.T) {
	j := NewInMemoryJournal(0)
	defer j.Close()

	ctx := context.Background()
	const workers, perWorker = 8, 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := j.Append(ctx, Entry{Kind: KindMessageReceived})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	entries, err := j.Read(ctx, 0, workers*perWorker)
	require.NoError(t, err)
	require.Len(t, entries, workers*perWorker)
	for i, e := range entries {
		assert.Equal(t, int64(i), e.Offset)
	}
}
