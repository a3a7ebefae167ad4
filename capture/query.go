package capture

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/bitwire/types"
)

// ErrNoSummary is returned when a session has no summary record.
var ErrNoSummary = errors.New("no summary record found")

// OpenFS opens the capture dataset for reading from the local filesystem.
func OpenFS(dataset, root string) (lode.Dataset, error) {
	return NewDataset(dataset, lode.NewFSFactory(root))
}

// OpenS3 opens the capture dataset for reading from S3.
func OpenS3(ctx context.Context, dataset string, s3cfg S3Config) (lode.Dataset, error) {
	factory, err := S3Factory(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return NewDataset(dataset, factory)
}

// Query reads the frame records of a session back, ordered by seq. An empty
// sessionID matches every session; an empty dir matches both directions.
func Query(ctx context.Context, ds lode.Dataset, sessionID string, dir types.Direction) ([]Record, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, "snapshots")
	}

	type key struct {
		session string
		seq     int64
	}
	seen := make(map[key]bool)
	var out []Record

	for _, snap := range snapshots {
		if !snapshotMatches(snap, "session", sessionID) || !snapshotMatches(snap, "direction", string(dir)) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("snapshot/%s", snap.ID))
		}
		for _, item := range data {
			m, ok := item.(map[string]any)
			if !ok || m["record_kind"] != RecordKindFrame {
				continue
			}
			rec, err := recordFromMap(m)
			if err != nil {
				return nil, err
			}
			if sessionID != "" && rec.SessionID != sessionID {
				continue
			}
			if dir != "" && rec.Direction != dir {
				continue
			}
			k := key{rec.SessionID, rec.Seq}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionID != out[j].SessionID {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

// Sessions lists the session ids present in the dataset.
func Sessions(ctx context.Context, ds lode.Dataset) ([]string, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, "snapshots")
	}
	set := make(map[string]struct{})
	for _, snap := range snapshots {
		for _, f := range snap.Manifest.Files {
			if id := partitionValue(f.Path, "session"); id != "" {
				set[id] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// LatestSummary returns the most recent summary record of a session.
func LatestSummary(ctx context.Context, ds lode.Dataset, sessionID string) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, "snapshots")
	}

	// Snapshots are ordered by creation time; walk latest first.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatches(snap, "direction", string(DirectionSummary)) || !snapshotMatches(snap, "session", sessionID) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("snapshot/%s", snap.ID))
		}
		for j := len(data) - 1; j >= 0; j-- {
			m, ok := data[j].(map[string]any)
			if !ok || m["record_kind"] != RecordKindSummary {
				continue
			}
			if sessionID != "" && m["session"] != sessionID {
				continue
			}
			return m, nil
		}
	}
	return nil, ErrNoSummary
}

// snapshotMatches reports whether any file of snap lies in the key=value
// partition. An empty value matches everything.
func snapshotMatches(snap *lode.Snapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if partitionValue(f.Path, key) == value {
			return true
		}
	}
	return false
}

// partitionValue extracts the value of an exact key= segment of a Hive path.
func partitionValue(path, key string) string {
	prefix := key + "="
	for _, part := range strings.Split(path, "/") {
		if v, ok := strings.CutPrefix(part, prefix); ok {
			return v
		}
	}
	return ""
}
