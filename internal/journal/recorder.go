package journal

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/pairlink-go/pkg/pairlink"
)

// appendTimeout bounds a single journal write made from an observer callback
const appendTimeout = 2 * time.Second

// Recorder is a pairlink.Observer that writes node events to a Journal.
// Message payloads are not read; only their length and metadata are recorded.
type Recorder struct {
	journal Journal
	logger  *zap.Logger
}

// NewRecorder creates a Recorder writing to j
func NewRecorder(j Journal, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{journal: j, logger: logger}
}

func (r *Recorder) OnClusterHealthy() {
	r.Record(Entry{Kind: KindClusterHealthy})
}

func (r *Recorder) OnClusterUnhealthy() {
	r.Record(Entry{Kind: KindClusterUnhealthy})
}

func (r *Recorder) OnMessageReceived(msg pairlink.Message) {
	r.Record(Entry{
		Kind:          KindMessageReceived,
		ContentLength: msg.ContentLength,
		Metadata:      msg.Metadata,
	})
}

// Record appends e, logging instead of returning failures
func (r *Recorder) Record(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()

	if _, err := r.journal.Append(ctx, e); err != nil {
		r.logger.Warn("failed to record journal entry",
			zap.String("kind", string(e.Kind)),
			zap.Error(err))
	}
}

var _ pairlink.Observer = (*Recorder)(nil)
