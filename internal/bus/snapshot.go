package bus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/actuar/projector/internal/apperr"
)

// Snapshot captures a segment's metadata and a copy of its bytes at the
// moment an integrity check failed, for post-mortem inspection. It is
// attached to diagnostics rather than logged wholesale, since segments
// can be large.
type Snapshot struct {
	Name       string    `json:"name"`
	Version    int       `json:"version"`
	Shape      []int     `json:"shape"`
	CapturedAt time.Time `json:"captured_at"`
	Bytes      []byte    `json:"bytes"`
	ExpectCRC  uint32    `json:"expect_crc"`
	ActualCRC  uint32    `json:"actual_crc"`
}

// Save writes the snapshot as JSON to filename, for post-mortem
// inspection by `actuar bus inspect`.
func (s *Snapshot) Save(filename string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode bus snapshot: %w", err)
	}
	return os.WriteFile(filename, data, 0o644)
}

// LoadSnapshot reads a snapshot previously written by Snapshot.Save.
func LoadSnapshot(filename string) (*Snapshot, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read bus snapshot %s: %w", filename, err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode bus snapshot %s: %w", filename, err)
	}
	return &s, nil
}

// CaptureSnapshot copies out a segment's current bytes and metadata for
// attachment to an IntegrityError. It never mutates the segment.
func CaptureSnapshot(seg *Segment) *Snapshot {
	seg.mu.Lock()
	defer seg.mu.Unlock()
	return captureSnapshotLocked(seg)
}

// captureSnapshotLocked is CaptureSnapshot's body for callers that
// already hold seg.mu (sync.Mutex is not reentrant).
func captureSnapshotLocked(seg *Segment) *Snapshot {
	cp := make([]byte, len(seg.data))
	copy(cp, seg.data)
	return &Snapshot{
		Name:       seg.Name,
		Version:    seg.Version,
		Shape:      append([]int(nil), seg.Shape...),
		CapturedAt: time.Now(),
		Bytes:      cp,
		ExpectCRC:  seg.crc,
		ActualCRC:  crc32Of(cp),
	}
}

// IntegrityError is a KindIntegrity apperr.Error carrying the Snapshot
// captured at the moment the CRC mismatch was detected
type IntegrityError struct {
	*apperr.Error
	Snapshot *Snapshot
}

// Unwrap exposes the embedded *apperr.Error itself (not what it wraps)
// so errors.As can match both *IntegrityError and *apperr.Error against
// the same error value.
func (ie *IntegrityError) Unwrap() error { return ie.Error }

// newIntegrityError must be called with seg.mu already held.
func newIntegrityError(seg *Segment) *IntegrityError {
	snap := captureSnapshotLocked(seg)
	return &IntegrityError{
		Error:    apperr.Integrityf("", "CRC mismatch on segment %q: expected %08x, got %08x", seg.Name, snap.ExpectCRC, snap.ActualCRC),
		Snapshot: snap,
	}
}

