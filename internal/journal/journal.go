// Package journal records link events of a node: health transitions and
// message traffic. Entries carry a per-journal offset starting at 0.
package journal

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNegativeOffset is returned when a negative offset is provided
	ErrNegativeOffset = errors.New("offset cannot be negative")
	// ErrNegativeMaxCount is returned when a negative max count is provided
	ErrNegativeMaxCount = errors.New("max count cannot be negative")
	// ErrClosed is returned when using a closed journal
	ErrClosed = errors.New("journal is closed")
)

// Kind classifies a journal entry
type Kind string

const (
	KindClusterHealthy   Kind = "cluster_healthy"
	KindClusterUnhealthy Kind = "cluster_unhealthy"
	KindMessageReceived  Kind = "message_received"
	KindMessageSent      Kind = "message_sent"
	KindSendFailed       Kind = "send_failed"
)

// Entry is one journal record
type Entry struct {
	ID            string         `json:"id"`
	Offset        int64          `json:"offset"`
	Kind          Kind           `json:"kind"`
	Time          time.Time      `json:"time"`
	ContentLength int64          `json:"contentLength,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Detail        string         `json:"detail,omitempty"`
}

// Journal stores entries in append order
type Journal interface {
	// Append stores e and returns it with its assigned offset.
	// ID and Time are filled in when empty.
	Append(ctx context.Context, e Entry) (Entry, error)

	// Read returns up to maxCount entries starting at startOffset
	Read(ctx context.Context, startOffset int64, maxCount int) ([]Entry, error)

	// Latest returns the newest entries, oldest first
	Latest(ctx context.Context, limit int) ([]Entry, error)

	// EndOffset returns the offset the next entry will get
	EndOffset(ctx context.Context) (int64, error)

	Close() error
}
