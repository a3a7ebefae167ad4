package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// DefaultDataset is the Lode dataset id used when none is configured.
const DefaultDataset = "bitwire"

// PartitionKeys is the Hive layout of the capture dataset.
var PartitionKeys = []string{"session", "day", "direction"}

// Sink persists batches of records.
type Sink interface {
	// Write persists records in order.
	Write(ctx context.Context, records []Record) error
	// Close releases sink resources.
	Close() error
}

// NewDataset opens the capture dataset on factory. Reads and writes use the
// same codec and layout.
func NewDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(PartitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// S3Config holds configuration for the S3 storage backend.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom endpoint for S3-compatible providers (MinIO, R2).
	Endpoint string
	// UsePathStyle forces path-style addressing.
	UsePathStyle bool
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// ParseS3Path parses a path in format "bucket/prefix" or "bucket".
func ParseS3Path(path string) (bucket, prefix string) {
	parts := strings.SplitN(path, "/", 2)
	bucket = parts[0]
	if len(parts) > 1 {
		prefix = parts[1]
	}
	return bucket, prefix
}

// S3Factory returns a store factory for s3cfg.
// Uses the AWS SDK default credential chain (env vars, shared config, IAM role).
func S3Factory(ctx context.Context, s3cfg S3Config) (lode.StoreFactory, error) {
	if err := s3cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if s3cfg.Region != "" {
		opts = append(opts, config.WithRegion(s3cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if s3cfg.Endpoint != "" {
		endpoint := s3cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if s3cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsConfig, s3Opts...)

	return func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{
			Bucket: s3cfg.Bucket,
			Prefix: s3cfg.Prefix,
		})
	}, nil
}

// LodeSink writes records to a Lode dataset, one snapshot per batch.
type LodeSink struct {
	mu      sync.Mutex
	dataset lode.Dataset
}

// NewLodeSink opens dataset on factory.
// Use lode.NewMemoryFactory() for testing.
func NewLodeSink(dataset string, factory lode.StoreFactory) (*LodeSink, error) {
	ds, err := NewDataset(dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, dataset)
	}
	return &LodeSink{dataset: ds}, nil
}

// NewFSSink writes under root on the local filesystem.
func NewFSSink(dataset, root string) (*LodeSink, error) {
	return NewLodeSink(dataset, lode.NewFSFactory(root))
}

// NewS3Sink writes to an S3 bucket.
func NewS3Sink(ctx context.Context, dataset string, s3cfg S3Config) (*LodeSink, error) {
	factory, err := S3Factory(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return NewLodeSink(dataset, factory)
}

// Dataset returns the underlying dataset, for reading back.
func (s *LodeSink) Dataset() lode.Dataset { return s.dataset }

// Write implements Sink.
func (s *LodeSink) Write(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, r.toMap())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.dataset.Write(ctx, rows, lode.Metadata{}); err != nil {
		return WrapWriteError(err, records[0].SessionID)
	}
	return nil
}

// WriteSummary stores a session summary record holding fields (typically a
// metrics snapshot) next to the session's frames.
func (s *LodeSink) WriteSummary(ctx context.Context, meta Record, fields map[string]any) error {
	row := map[string]any{
		"record_kind": RecordKindSummary,
		"session":     meta.SessionID,
		"protocol":    meta.Protocol,
		"direction":   string(DirectionSummary),
		"day":         meta.Day,
		"ts":          meta.Ts,
	}
	for k, v := range fields {
		if _, reserved := row[k]; !reserved {
			row[k] = v
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.dataset.Write(ctx, []any{row}, lode.Metadata{}); err != nil {
		return WrapWriteError(err, meta.SessionID)
	}
	return nil
}

// Close implements Sink. Datasets hold no open handles.
func (s *LodeSink) Close() error { return nil }

// StubSink keeps written batches in memory. Use for tests.
type StubSink struct {
	mu      sync.Mutex
	Batches [][]Record
	Closed  bool
	// Err, when set, is returned by Write instead of recording the batch.
	Err error
}

// NewStubSink creates a new stub sink.
func NewStubSink() *StubSink {
	return &StubSink{}
}

// Write implements Sink.
func (s *StubSink) Write(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	batch := make([]Record, len(records))
	copy(batch, records)
	s.Batches = append(s.Batches, batch)
	return nil
}

// Records returns every record written so far, in order.
func (s *StubSink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, b := range s.Batches {
		out = append(out, b...)
	}
	return out
}

// SetErr changes the injected write error.
func (s *StubSink) SetErr(err error) {
	s.mu.Lock()
	s.Err = err
	s.mu.Unlock()
}

// Close implements Sink.
func (s *StubSink) Close() error {
	s.mu.Lock()
	s.Closed = true
	s.mu.Unlock()
	return nil
}

// Verify implementations.
var (
	_ Sink = (*LodeSink)(nil)
	_ Sink = (*StubSink)(nil)
)
