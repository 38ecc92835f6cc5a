package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// entryRow is the table layout of a journal entry
type entryRow struct {
	Seq           int64     `gorm:"primaryKey;autoIncrement:false"`
	EntryID       string    `gorm:"uniqueIndex;not null"`
	Kind          string    `gorm:"index;not null"`
	RecordedAt    time.Time `gorm:"index"`
	ContentLength int64
	Metadata      map[string]any `gorm:"serializer:json"`
	Detail        string
}

func (entryRow) TableName() string {
	return "journal_entries"
}

func (r entryRow) entry() Entry {
	return Entry{
		ID:            r.EntryID,
		Offset:        r.Seq,
		Kind:          Kind(r.Kind),
		Time:          r.RecordedAt.UTC(),
		ContentLength: r.ContentLength,
		Metadata:      r.Metadata,
		Detail:        r.Detail,
	}
}

// SQLiteJournal implements Journal on a SQLite database through gorm
type SQLiteJournal struct {
	db         *gorm.DB
	maxEntries int

	mu     sync.Mutex
	closed bool
}

// OpenSQLite opens or creates the journal database at path.
// When maxEntries is positive older rows are pruned on append.
func OpenSQLite(path string, maxEntries int) (*SQLiteJournal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&entryRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate journal schema: %w", err)
	}

	return &SQLiteJournal{db: db, maxEntries: maxEntries}, nil
}

func (j *SQLiteJournal) isClosed() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closed
}

// Append stores an entry with the next offset
func (j *SQLiteJournal) Append(ctx context.Context, e Entry) (Entry, error) {
	if j.isClosed() {
		return Entry{}, ErrClosed
	}
	fillDefaults(&e)

	err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var next int64
		if err := tx.Model(&entryRow{}).Select("COALESCE(MAX(seq), -1) + 1").Scan(&next).Error; err != nil {
			return err
		}
		e.Offset = next

		row := entryRow{
			Seq:           next,
			EntryID:       e.ID,
			Kind:          string(e.Kind),
			RecordedAt:    e.Time,
			ContentLength: e.ContentLength,
			Metadata:      e.Metadata,
			Detail:        e.Detail,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		if j.maxEntries > 0 && next >= int64(j.maxEntries) {
			return tx.Where("seq <= ?", next-int64(j.maxEntries)).Delete(&entryRow{}).Error
		}
		return nil
	})
	if err != nil {
		return Entry{}, fmt.Errorf("append journal entry: %w", err)
	}
	return e, nil
}

// Read returns entries with offset >= startOffset, up to maxCount
func (j *SQLiteJournal) Read(ctx context.Context, startOffset int64, maxCount int) ([]Entry, error) {
	if startOffset < 0 {
		return nil, ErrNegativeOffset
	}
	if maxCount < 0 {
		return nil, ErrNegativeMaxCount
	}
	if j.isClosed() {
		return nil, ErrClosed
	}
	if maxCount == 0 {
		return []Entry{}, nil
	}

	var rows []entryRow
	if err := j.db.WithContext(ctx).
		Where("seq >= ?", startOffset).
		Order("seq ASC").
		Limit(maxCount).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return toEntries(rows), nil
}

// Latest returns the newest limit entries, oldest first
func (j *SQLiteJournal) Latest(ctx context.Context, limit int) ([]Entry, error) {
	if limit < 0 {
		return nil, ErrNegativeMaxCount
	}
	if j.isClosed() {
		return nil, ErrClosed
	}
	if limit == 0 {
		return []Entry{}, nil
	}

	var rows []entryRow
	if err := j.db.WithContext(ctx).
		Order("seq DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	for i, k := 0, len(rows)-1; i < k; i, k = i+1, k-1 {
		rows[i], rows[k] = rows[k], rows[i]
	}
	return toEntries(rows), nil
}

// EndOffset returns the offset the next appended entry will get
func (j *SQLiteJournal) EndOffset(ctx context.Context) (int64, error) {
	if j.isClosed() {
		return 0, ErrClosed
	}
	var next int64
	if err := j.db.WithContext(ctx).Model(&entryRow{}).Select("COALESCE(MAX(seq), -1) + 1").Scan(&next).Error; err != nil {
		return 0, fmt.Errorf("read journal end offset: %w", err)
	}
	return next, nil
}

// Close closes the database. Safe to call multiple times.
func (j *SQLiteJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toEntries(rows []entryRow) []Entry {
	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = r.entry()
	}
	return entries
}

// Verify that SQLiteJournal implements the Journal interface at compile time
var _ Journal = (*SQLiteJournal)(nil)
