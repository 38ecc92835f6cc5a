package journal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryJournal implements Journal in memory. When maxEntries is positive
// the oldest entries are dropped once the limit is reached; offsets keep increasing.
// It is safe for concurrent use.
type InMemoryJournal struct {
	mu         sync.RWMutex
	entries    []Entry
	nextOffset int64
	maxEntries int
	closed     bool
}

// NewInMemoryJournal creates an in-memory journal keeping at most maxEntries (0 = unbounded)
func NewInMemoryJournal(maxEntries int) *InMemoryJournal {
	return &InMemoryJournal{maxEntries: maxEntries}
}

// Append stores an entry and assigns the next offset
func (j *InMemoryJournal) Append(ctx context.Context, e Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return Entry{}, ErrClosed
	}

	fillDefaults(&e)
	e.Offset = j.nextOffset
	j.nextOffset++

	if j.maxEntries > 0 && len(j.entries) >= j.maxEntries {
		// Drop the oldest in place; append reallocates to the live entries
		// once the front of the backing array is used up.
		j.entries[0] = Entry{}
		j.entries = j.entries[1:]
	}
	j.entries = append(j.entries, e)
	return e, nil
}

// Read returns entries with offset >= startOffset, up to maxCount
func (j *InMemoryJournal) Read(ctx context.Context, startOffset int64, maxCount int) ([]Entry, error) {
	if startOffset < 0 {
		return nil, ErrNegativeOffset
	}
	if maxCount < 0 {
		return nil, ErrNegativeMaxCount
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return nil, ErrClosed
	}

	results := make([]Entry, 0, min(maxCount, len(j.entries)))
	for _, e := range j.entries {
		if len(results) >= maxCount {
			break
		}
		if e.Offset >= startOffset {
			results = append(results, e)
		}
	}
	return results, nil
}

// Latest returns the newest limit entries, oldest first
func (j *InMemoryJournal) Latest(ctx context.Context, limit int) ([]Entry, error) {
	if limit < 0 {
		return nil, ErrNegativeMaxCount
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return nil, ErrClosed
	}

	start := len(j.entries) - limit
	if start < 0 {
		start = 0
	}
	return append([]Entry{}, j.entries[start:]...), nil
}

// EndOffset returns the offset the next appended entry will get
func (j *InMemoryJournal) EndOffset(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.nextOffset, nil
}

// Close drops all entries. Safe to call multiple times.
func (j *InMemoryJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.entries = nil
	j.closed = true
	return nil
}

func fillDefaults(e *Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
}

// Verify that InMemoryJournal implements the Journal interface at compile time
var _ Journal = (*InMemoryJournal)(nil)
