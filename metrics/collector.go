// Package metrics provides per-session counters for the link and capture
// layers.
//
// The Collector accumulates counters during a single session. It is a leaf
// package with no internal dependencies. Capture record counts are absorbed
// from capture.Stats at session end rather than recorded live.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Traffic
	FramesSent     int64 `json:"frames_sent" yaml:"frames_sent"`
	FramesReceived int64 `json:"frames_received" yaml:"frames_received"`
	BytesSent      int64 `json:"bytes_sent" yaml:"bytes_sent"`
	BytesReceived  int64 `json:"bytes_received" yaml:"bytes_received"`

	// Decode outcomes
	DecodeErrors          int64            `json:"decode_errors" yaml:"decode_errors"`
	UnrecognizedIDs       int64            `json:"unrecognized_ids" yaml:"unrecognized_ids"`
	UnknownDiscriminants  int64            `json:"unknown_discriminants" yaml:"unknown_discriminants"`
	FramingErrors         int64            `json:"framing_errors" yaml:"framing_errors"`
	ReceivedByMessage     map[string]int64 `json:"received_by_message" yaml:"received_by_message"`
	TransportSendRetries  int64            `json:"transport_send_retries" yaml:"transport_send_retries"`
	TransportSendFailures int64            `json:"transport_send_failures" yaml:"transport_send_failures"`

	// Capture (per call)
	CaptureWriteSuccess int64 `json:"capture_write_success" yaml:"capture_write_success"`
	CaptureWriteFailure int64 `json:"capture_write_failure" yaml:"capture_write_failure"`
	// Capture (absorbed from capture.Stats)
	RecordsCaptured int64 `json:"records_captured" yaml:"records_captured"`
	RecordsDropped  int64 `json:"records_dropped" yaml:"records_dropped"`

	// Dimensions (informational, set at construction)
	Protocol       string `json:"protocol" yaml:"protocol"`
	Transport      string `json:"transport" yaml:"transport"`
	StorageBackend string `json:"storage_backend" yaml:"storage_backend"`
	SessionID      string `json:"session_id" yaml:"session_id"`
}

// Collector accumulates metrics during a single session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	framesSent     int64
	framesReceived int64
	bytesSent      int64
	bytesReceived  int64

	decodeErrors          int64
	unrecognizedIDs       int64
	unknownDiscriminants  int64
	framingErrors         int64
	receivedByMessage     map[string]int64
	transportSendRetries  int64
	transportSendFailures int64

	captureWriteSuccess int64
	captureWriteFailure int64
	recordsCaptured     int64
	recordsDropped      int64

	protocol       string
	transport      string
	storageBackend string
	sessionID      string
}

// NewCollector creates a Collector with dimension labels.
// storageBackend is empty when capture is disabled.
func NewCollector(protocol, transport, storageBackend, sessionID string) *Collector {
	return &Collector{
		receivedByMessage: make(map[string]int64),
		protocol:          protocol,
		transport:         transport,
		storageBackend:    storageBackend,
		sessionID:         sessionID,
	}
}

// --- Traffic ---

// RecordSent records one transmitted frame of n payload bytes.
func (c *Collector) RecordSent(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesSent++
	c.bytesSent += int64(n)
	c.mu.Unlock()
}

// RecordReceived records one received frame of n payload bytes that was
// applied as message.
func (c *Collector) RecordReceived(message string, n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesReceived++
	c.bytesReceived += int64(n)
	c.receivedByMessage[message]++
	c.mu.Unlock()
}

// --- Decode outcomes ---
// A rejected frame counts once in FramesReceived/BytesReceived via
// RecordRejected and once in exactly one of the error counters.

// RecordRejected records a received frame of n bytes that was not applied.
func (c *Collector) RecordRejected(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesReceived++
	c.bytesReceived += int64(n)
	c.mu.Unlock()
}

// IncDecodeErrors records a payload that failed to decode or apply.
func (c *Collector) IncDecodeErrors() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.decodeErrors++
	c.mu.Unlock()
}

// IncUnrecognizedIDs records a frame whose message id is not in the set.
func (c *Collector) IncUnrecognizedIDs() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.unrecognizedIDs++
	c.mu.Unlock()
}

// IncUnknownDiscriminants records a payload with an undeclared union tag.
func (c *Collector) IncUnknownDiscriminants() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.unknownDiscriminants++
	c.mu.Unlock()
}

// IncFramingErrors records a non-fatal framing error.
func (c *Collector) IncFramingErrors() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framingErrors++
	c.mu.Unlock()
}

// --- Transport ---

// IncTransportSendRetries records one retried transport send.
func (c *Collector) IncTransportSendRetries() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.transportSendRetries++
	c.mu.Unlock()
}

// IncTransportSendFailures records a send that exhausted its retries.
func (c *Collector) IncTransportSendFailures() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.transportSendFailures++
	c.mu.Unlock()
}

// --- Capture ---
// Capture counters are per-call, not per-record. A single Write call with N
// records counts as 1 success. Per-record granularity is absorbed from
// capture.Stats.

// IncCaptureWriteSuccess records a successful capture sink write (per call).
func (c *Collector) IncCaptureWriteSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.captureWriteSuccess++
	c.mu.Unlock()
}

// IncCaptureWriteFailure records a failed capture sink write (per call).
func (c *Collector) IncCaptureWriteFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.captureWriteFailure++
	c.mu.Unlock()
}

// AbsorbCaptureStats copies record counters from capture.Stats.
// Called once at session end with the final stats snapshot.
func (c *Collector) AbsorbCaptureStats(captured, dropped int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recordsCaptured = captured
	c.recordsDropped = dropped
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byMessage := make(map[string]int64, len(c.receivedByMessage))
	for k, v := range c.receivedByMessage {
		byMessage[k] = v
	}

	return Snapshot{
		FramesSent:     c.framesSent,
		FramesReceived: c.framesReceived,
		BytesSent:      c.bytesSent,
		BytesReceived:  c.bytesReceived,

		DecodeErrors:          c.decodeErrors,
		UnrecognizedIDs:       c.unrecognizedIDs,
		UnknownDiscriminants:  c.unknownDiscriminants,
		FramingErrors:         c.framingErrors,
		ReceivedByMessage:     byMessage,
		TransportSendRetries:  c.transportSendRetries,
		TransportSendFailures: c.transportSendFailures,

		CaptureWriteSuccess: c.captureWriteSuccess,
		CaptureWriteFailure: c.captureWriteFailure,
		RecordsCaptured:     c.recordsCaptured,
		RecordsDropped:      c.recordsDropped,

		Protocol:       c.protocol,
		Transport:      c.transport,
		StorageBackend: c.storageBackend,
		SessionID:      c.sessionID,
	}
}
