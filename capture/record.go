// Package capture records the frames a protocol session exchanges and
// persists them to a Lode dataset.
//
// Records are written as JSONL under a Hive layout
// session=<id>/day=<YYYY-MM-DD>/direction=<tx|rx|summary>, on local disk,
// S3 (or an S3-compatible store) or memory.
package capture

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/pithecene-io/bitwire/types"
)

// Record kinds.
const (
	RecordKindFrame   = "frame"
	RecordKindSummary = "summary"
)

// DirectionSummary is the direction partition used for summary records.
const DirectionSummary types.Direction = "summary"

// Record is one captured frame.
type Record struct {
	RecordKind string          `json:"record_kind"`
	SessionID  string          `json:"session"`
	Protocol   string          `json:"protocol"`
	Seq        int64           `json:"seq"`
	Direction  types.Direction `json:"direction"`
	Message    string          `json:"message"`
	ID         uint64          `json:"id"`
	Size       int             `json:"size"`
	Hex        string          `json:"hex"`
	Ts         string          `json:"ts"`

	// Partition key (used by Lode HiveLayout)
	Day string `json:"day"`
}

// DeriveDay computes the partition day from a timestamp.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// NewRecord builds a frame record. The frame bytes are hex encoded.
func NewRecord(meta *types.SessionMeta, seq int64, dir types.Direction, message string, id uint64, frame []byte, at time.Time) Record {
	return Record{
		RecordKind: RecordKindFrame,
		SessionID:  meta.SessionID,
		Protocol:   meta.Protocol,
		Seq:        seq,
		Direction:  dir,
		Message:    message,
		ID:         id,
		Size:       len(frame),
		Hex:        hex.EncodeToString(frame),
		Ts:         at.UTC().Format(time.RFC3339Nano),
		Day:        DeriveDay(at),
	}
}

// Frame decodes the captured bytes.
func (r Record) Frame() ([]byte, error) {
	return hex.DecodeString(r.Hex)
}

// toMap converts a record to the map form Lode partitions on.
func (r Record) toMap() map[string]any {
	return map[string]any{
		"record_kind": r.RecordKind,
		"session":     r.SessionID,
		"protocol":    r.Protocol,
		"seq":         r.Seq,
		"direction":   string(r.Direction),
		"message":     r.Message,
		"id":          r.ID,
		"size":        r.Size,
		"hex":         r.Hex,
		"ts":          r.Ts,
		"day":         r.Day,
	}
}

// recordFromMap decodes a record read back from the dataset. JSON numbers
// arrive as float64, so decoding is weakly typed.
func recordFromMap(m map[string]any) (Record, error) {
	var r Record
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &r,
	})
	if err != nil {
		return Record{}, err
	}
	if err := dec.Decode(m); err != nil {
		return Record{}, fmt.Errorf("decode capture record: %w", err)
	}
	return r, nil
}
