// Package bus implements the Typed Bus: named, versioned,
// 16-byte-aligned byte ranges handed off between pipeline nodes with
// reference-counted producer/consumer lifetime.
package bus

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/google/uuid"

	"github.com/actuar/projector/internal/apperr"
)

// ElementType identifies the scalar type a segment's bytes are
// interpreted as.
type ElementType int

const (
	ElementFloat64 ElementType = iota
	ElementUint32
	ElementByte
)

func (e ElementType) size() int {
	switch e {
	case ElementFloat64:
		return 8
	case ElementUint32:
		return 4
	default:
		return 1
	}
}

// Alignment is the fixed byte alignment every segment satisfies.
const Alignment = 16

var nameGrammar = regexp.MustCompile(`^bus://[a-zA-Z0-9_-]+/[a-zA-Z0-9_.-]+$`)

// ValidateName checks a segment name against the bus://<category>/<label>
// grammar
func ValidateName(name string) error {
	if !nameGrammar.MatchString(name) {
		return fmt.Errorf("bus segment name %q does not match grammar bus://<category>/<label>", name)
	}
	return nil
}

// segmentState tracks a segment's lifecycle: writable until Publish,
// then read-only and reference counted until it reaches zero pending
// releases.
type segmentState int

const (
	stateWritable segmentState = iota
	statePublished
	stateFreed
)

// Segment is a named, versioned, aligned byte range. Its storage is
// arena-owned by the Bus that allocated it; nodes only ever hold a
// Handle view, never the segment itself, so the runtime is the sole
// arena owner and no node-to-node reference cycle can form.
type Segment struct {
	Name        string
	Version     int
	ElementType ElementType
	Shape       []int
	data        []byte
	crc         uint32
	crcEnabled  bool

	mu              sync.Mutex
	state           segmentState
	declaredConsume int
	pendingCount    int
}

// Handle is an opaque reference a producer or consumer holds to a
// segment. Its ID is a fresh UUID for every Allocate or AcquireRead
// call.
type Handle struct {
	ID      string
	Segment *Segment
}

// Bus is the arena owner of every allocated segment in a pipeline run.
// Allocate/publish/acquire/release operations are safe for concurrent
// use.
type Bus struct {
	mu       sync.Mutex
	segments map[string]*Segment
	debugCRC bool
}

// New creates an empty Bus. debugCRC enables the CRC32 integrity check
// for every segment it allocates (verified on every acquire_read).
func New(debugCRC bool) *Bus {
	return &Bus{segments: make(map[string]*Segment), debugCRC: debugCRC}
}

// Allocate reserves a new segment of elemType/shape under name, owned by
// exactly one producer until Publish. declaredConsumers is the number of
// acquire_read calls expected before the segment is eligible for
// freeing.
func (b *Bus) Allocate(name string, elemType ElementType, shape []int, declaredConsumers int) (*Handle, error) {
	if err := ValidateName(name); err != nil {
		return nil, apperr.New(apperr.KindConfiguration, "", err.Error(), err)
	}
	count := 1
	for _, d := range shape {
		count *= d
	}
	size := count * elemType.size()
	// Round up to a multiple of Alignment so the backing array, which Go
	// already aligns to at least 8 bytes, presents a 16-byte-aligned
	// region for any consumer reinterpreting it.
	if size%Alignment != 0 {
		size += Alignment - size%Alignment
	}

	seg := &Segment{
		Name:            name,
		Version:         1,
		ElementType:     elemType,
		Shape:           shape,
		data:            make([]byte, size),
		crcEnabled:      b.debugCRC,
		declaredConsume: declaredConsumers,
		state:           stateWritable,
	}

	b.mu.Lock()
	if existing, ok := b.segments[name]; ok && existing.state != stateFreed {
		b.mu.Unlock()
		return nil, apperr.New(apperr.KindExecution, "", fmt.Sprintf("segment %q already allocated and not yet freed", name), nil)
	}
	b.segments[name] = seg
	b.mu.Unlock()

	return &Handle{ID: uuid.NewString(), Segment: seg}, nil
}

// WriteRegion returns the segment's backing bytes for the sole producer
// to fill before Publish. Calling it after Publish is a programmer error
// (the segment is already read-only) and returns an error rather than
// panicking.
func (h *Handle) WriteRegion() ([]byte, error) {
	seg := h.Segment
	seg.mu.Lock()
	defer seg.mu.Unlock()
	if seg.state != stateWritable {
		return nil, apperr.New(apperr.KindExecution, "", fmt.Sprintf("segment %q is not writable (already published)", seg.Name), nil)
	}
	return seg.data, nil
}

// Publish transitions the segment to read-only and sets its pending
// count to its declared-consumer count. If the segment's integrity check
// is on (Bus constructed with debugCRC, or EnableIntegrityCheck called),
// a CRC32 is computed over the published bytes for later verification on
// AcquireRead.
func (h *Handle) Publish() error {
	seg := h.Segment
	seg.mu.Lock()
	defer seg.mu.Unlock()
	if seg.state != stateWritable {
		return apperr.New(apperr.KindExecution, "", fmt.Sprintf("segment %q already published", seg.Name), nil)
	}
	seg.state = statePublished
	seg.pendingCount = seg.declaredConsume
	if seg.crcEnabled {
		seg.crc = crc32Of(seg.data)
	}
	return nil
}

// EnableIntegrityCheck turns on the CRC32 check for this segment even on
// a Bus constructed without debugCRC; it must be called before Publish.
func (h *Handle) EnableIntegrityCheck() {
	h.Segment.crcEnabled = true
}

// AcquireRead returns a read-only view of name's bytes. The segment must
// already be published. If integrity checking is enabled, a CRC mismatch
// returns an IntegrityError and the caller should capture a Snapshot.
func (b *Bus) AcquireRead(name string) (*Handle, []byte, error) {
	b.mu.Lock()
	seg, ok := b.segments[name]
	b.mu.Unlock()
	if !ok {
		return nil, nil, apperr.New(apperr.KindExecution, "", fmt.Sprintf("segment %q not found", name), nil)
	}

	seg.mu.Lock()
	defer seg.mu.Unlock()
	if seg.state != statePublished {
		return nil, nil, apperr.New(apperr.KindExecution, "", fmt.Sprintf("segment %q not yet published", name), nil)
	}
	if seg.crcEnabled {
		if crc32Of(seg.data) != seg.crc {
			return nil, nil, newIntegrityError(seg)
		}
	}
	return &Handle{ID: uuid.NewString(), Segment: seg}, seg.data, nil
}

// Release decrements the segment's pending-consumer count; when it
// reaches zero the segment is freed (removed from the arena). Releasing
// past zero is a programmer error and returns an error.
func (b *Bus) Release(h *Handle) error {
	seg := h.Segment
	seg.mu.Lock()
	defer seg.mu.Unlock()
	if seg.state == stateFreed {
		return apperr.New(apperr.KindExecution, "", fmt.Sprintf("segment %q already freed", seg.Name), nil)
	}
	if seg.pendingCount <= 0 {
		return apperr.New(apperr.KindExecution, "", fmt.Sprintf("segment %q released more times than declared consumers", seg.Name), nil)
	}
	seg.pendingCount--
	if seg.pendingCount == 0 {
		seg.state = stateFreed
		seg.data = nil
		b.mu.Lock()
		delete(b.segments, seg.Name)
		b.mu.Unlock()
	}
	return nil
}

// Pending returns the segment's current pending-release count, for
// tests and diagnostics.
func (seg *Segment) Pending() int {
	seg.mu.Lock()
	defer seg.mu.Unlock()
	return seg.pendingCount
}
