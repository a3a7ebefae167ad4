package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/bitwire/log"
	"github.com/pithecene-io/bitwire/metrics"
	"github.com/pithecene-io/bitwire/types"
)

// Policy selects how a Recorder hands records to its sink.
type Policy string

const (
	// PolicyStrict writes every record as it is captured. A failed write
	// drops that record.
	PolicyStrict Policy = "strict"
	// PolicyBuffered batches records and writes every FlushCount records
	// and on Close. A failed flush keeps the batch for the next attempt.
	PolicyBuffered Policy = "buffered"
)

// Buffered defaults.
const (
	DefaultFlushCount = 100
	// DefaultBufferFactor bounds the buffer at FlushCount * factor records
	// while flushes keep failing.
	DefaultBufferFactor = 10
)

// ErrInvalidPolicy is returned for an unknown policy name.
var ErrInvalidPolicy = errors.New("invalid capture policy")

// ParsePolicy parses "strict" or "buffered". The empty string selects strict.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyStrict:
		return PolicyStrict, nil
	case PolicyBuffered:
		return PolicyBuffered, nil
	default:
		return "", fmt.Errorf("%w: %q (must be strict or buffered)", ErrInvalidPolicy, s)
	}
}

// Config configures a Recorder.
type Config struct {
	Policy Policy
	// FlushCount is the buffered batch size (default 100).
	FlushCount int
	// MaxBuffer caps buffered records while flushes fail; the oldest are
	// dropped beyond it (default FlushCount * 10).
	MaxBuffer int
	// Logger is optional; nil disables logging.
	Logger *log.Logger
	// Metrics is optional.
	Metrics *metrics.Collector
}

// Stats is a point-in-time view of recorder counters.
type Stats struct {
	// Captured is the number of frames observed.
	Captured int64 `json:"captured" yaml:"captured"`
	// Persisted is the number of records written to the sink.
	Persisted int64 `json:"persisted" yaml:"persisted"`
	// Dropped is the number of records given up on.
	Dropped int64 `json:"dropped" yaml:"dropped"`
	// Flushes is the number of successful buffered flushes.
	Flushes int64 `json:"flushes" yaml:"flushes"`
	// Errors is the number of failed sink writes.
	Errors int64 `json:"errors" yaml:"errors"`
	// Buffered is the number of records waiting for a flush.
	Buffered int `json:"buffered" yaml:"buffered"`
}

// Recorder turns observed frames into records. It implements link.Tap.
type Recorder struct {
	sink    Sink
	meta    *types.SessionMeta
	config  Config
	logger  *log.Logger
	metrics *metrics.Collector
	now     func() time.Time

	mu     sync.Mutex
	seq    int64
	buffer []Record
	stats  Stats
}

// NewRecorder creates a recorder for one session.
func NewRecorder(sink Sink, meta *types.SessionMeta, config Config) (*Recorder, error) {
	if sink == nil {
		return nil, errors.New("capture recorder requires a sink")
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("capture recorder: %w", err)
	}
	policy, err := ParsePolicy(string(config.Policy))
	if err != nil {
		return nil, err
	}
	config.Policy = policy
	if config.FlushCount <= 0 {
		config.FlushCount = DefaultFlushCount
	}
	if config.MaxBuffer <= 0 {
		config.MaxBuffer = config.FlushCount * DefaultBufferFactor
	}
	if config.MaxBuffer < config.FlushCount {
		return nil, fmt.Errorf("capture recorder: max buffer %d below flush count %d", config.MaxBuffer, config.FlushCount)
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Nop()
	}

	return &Recorder{
		sink:    sink,
		meta:    meta,
		config:  config,
		logger:  logger,
		metrics: config.Metrics,
		now:     time.Now,
	}, nil
}

// Tap records one frame. Write failures are logged and counted; they never
// reach the caller.
func (r *Recorder) Tap(ctx context.Context, dir types.Direction, message string, id uint64, frame []byte) {
	// Frames observed while a session shuts down must still be written.
	ctx = context.WithoutCancel(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	rec := NewRecord(r.meta, r.seq, dir, message, id, frame, r.now())
	r.stats.Captured++

	if r.config.Policy == PolicyStrict {
		if err := r.writeLocked(ctx, []Record{rec}); err != nil {
			r.stats.Dropped++
		}
		return
	}

	r.buffer = append(r.buffer, rec)
	if len(r.buffer) >= r.config.FlushCount {
		_ = r.flushLocked(ctx)
	}
}

func (r *Recorder) writeLocked(ctx context.Context, batch []Record) error {
	if err := r.sink.Write(ctx, batch); err != nil {
		r.stats.Errors++
		r.metrics.IncCaptureWriteFailure()
		r.logger.Warn("capture write failed", map[string]any{
			"records": len(batch),
			"error":   err.Error(),
		})
		return err
	}
	r.stats.Persisted += int64(len(batch))
	r.metrics.IncCaptureWriteSuccess()
	return nil
}

func (r *Recorder) flushLocked(ctx context.Context) error {
	if len(r.buffer) == 0 {
		return nil
	}
	if err := r.writeLocked(ctx, r.buffer); err != nil {
		if over := len(r.buffer) - r.config.MaxBuffer; over > 0 {
			r.buffer = append(r.buffer[:0], r.buffer[over:]...)
			r.stats.Dropped += int64(over)
		}
		return err
	}
	r.buffer = r.buffer[:0]
	r.stats.Flushes++
	return nil
}

// Flush writes buffered records.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked(ctx)
}

// summaryWriter is implemented by sinks that can store a session summary.
type summaryWriter interface {
	WriteSummary(ctx context.Context, meta Record, fields map[string]any) error
}

// Summarize stores fields as the session summary when the sink supports it.
func (r *Recorder) Summarize(ctx context.Context, fields map[string]any) error {
	sw, ok := r.sink.(summaryWriter)
	if !ok {
		return nil
	}
	meta := NewRecord(r.meta, 0, DirectionSummary, "", 0, nil, r.now())
	return sw.WriteSummary(ctx, meta, fields)
}

// Close flushes remaining records, closes the sink and reports final
// counts to the metrics collector. Records still unflushed are dropped.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	flushErr := r.flushLocked(ctx)
	if flushErr != nil {
		r.stats.Dropped += int64(len(r.buffer))
		r.buffer = nil
	}
	captured, dropped := r.stats.Captured, r.stats.Dropped
	r.mu.Unlock()

	r.metrics.AbsorbCaptureStats(captured, dropped)
	return errors.Join(flushErr, r.sink.Close())
}

// Stats returns a snapshot of recorder counters.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Buffered = len(r.buffer)
	return s
}
