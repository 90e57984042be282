package qpack

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Codec is one end of a QPACK connection. It plans wire bytes for field
// blocks and stream instructions, and returns commit closures that apply
// the corresponding table mutations atomically. Planning never mutates
// shared state, so a caller may abandon planned bytes without corrupting
// the table; a commit acquires the dynamic-table write lock exactly once
// and applies everything it captured, or nothing.
//
// Lock order, where multiple locks are held: dynamic table first, then the
// pending-section locks. The insert-count condvar has its own mutex and is
// never held across other acquisitions.
type Codec struct {
	table  *table
	logger *zap.Logger

	// Encoder-side state: sections in flight to the peer decoder.
	encMu             sync.Mutex
	knownSendingCount uint64
	encSections       map[uint64]encSection

	// Decoder-side state: sections decoded but not yet acknowledged, and
	// the blocked-stream budget.
	decMu          sync.Mutex
	decSections    map[uint64]uint64
	blockedStreams uint16
	blockedLimit   uint16
}

type encSection struct {
	requiredInsertCount uint64
	refs                []uint64
}

// Commit applies the state changes captured by a plan or decode call. Each
// closure is single-shot; invoking it out of wire order is a host bug.
type Commit func() error

// Config carries the host-negotiated parameters for one Codec.
type Config struct {
	// MaxCapacity is the hard upper bound for the dynamic-table capacity
	// (SETTINGS_QPACK_MAX_TABLE_CAPACITY on the encoder side).
	MaxCapacity uint64
	// BlockedStreamsLimit bounds concurrently blocked decoders
	// (SETTINGS_QPACK_BLOCKED_STREAMS).
	BlockedStreamsLimit uint16
	// Logger is optional; nil disables logging.
	Logger *zap.Logger
}

// New builds a Codec with an empty dynamic table of capacity zero.
func New(cfg Config) *Codec {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Codec{
		table:        newTable(cfg.MaxCapacity),
		logger:       logger,
		encSections:  make(map[uint64]encSection),
		decSections:  make(map[uint64]uint64),
		blockedLimit: cfg.BlockedStreamsLimit,
	}
}

// --- Encoder-stream planning ---

// PlanSetCapacity appends a Set Dynamic Table Capacity instruction. The
// commit applies the new capacity, evicting as needed.
func (c *Codec) PlanSetCapacity(buf *[]byte, capacity uint64) (Commit, error) {
	dt := c.table.dynamic
	if capacity > dt.maxCapacity {
		return nil, fmt.Errorf("capacity %d exceeds maximum %d: %w", capacity, dt.maxCapacity, ErrEncoderStream)
	}
	*buf = appendSetCapacity(*buf, capacity)
	return func() error {
		dt.mu.Lock()
		defer dt.mu.Unlock()
		return dt.setCapacityLocked(capacity)
	}, nil
}

// PlanInsertHeaders appends one encoder-stream instruction per header:
// Duplicate for an exact dynamic match, Insert With Name Reference for a
// name match, Insert With Literal Name otherwise. The commit performs all
// inserts under one write-lock acquisition and advances the known sending
// count.
func (c *Codec) PlanInsertHeaders(buf *[]byte, headers []Header) (Commit, error) {
	dt := c.table.dynamic
	dt.mu.RLock()
	defer dt.mu.RUnlock()

	// Relative indices are resolved by the peer after it has applied the
	// instructions planned before this one, so the plan counts its own
	// pending inserts when converting absolute indices.
	insertCount := dt.insertCount()
	resolved := make([]Header, 0, len(headers))
	for i, h := range headers {
		planned := uint64(i)
		res := c.table.findLocked(h)
		switch {
		case res.found && res.bothMatch && !res.onStatic:
			rel := insertCount + planned - 1 - res.idx
			*buf = appendDuplicate(*buf, rel)
		case res.found && res.onStatic:
			*buf = appendInsertNameRef(*buf, res.idx, h.Value, true)
		case res.found:
			rel := insertCount + planned - 1 - res.idx
			*buf = appendInsertNameRef(*buf, rel, h.Value, false)
		default:
			*buf = appendInsertLiteral(*buf, h.Name, h.Value)
		}
		resolved = append(resolved, h)
	}

	count := uint64(len(resolved))
	return func() error {
		dt.mu.Lock()
		defer dt.mu.Unlock()
		for _, h := range resolved {
			if err := dt.insertLocked(h); err != nil {
				return err
			}
		}
		c.encMu.Lock()
		c.knownSendingCount += count
		c.encMu.Unlock()
		return nil
	}, nil
}

// IsInsertable reports whether the summed size of headers fits the current
// capacity after evicting only acknowledged, unreferenced entries.
func (c *Codec) IsInsertable(headers []Header) bool {
	dt := c.table.dynamic
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	var sum uint64
	for _, h := range headers {
		sum += h.size()
	}
	if sum > dt.capacity {
		return false
	}
	return dt.evictableUpToLocked(dt.capacity - sum)
}

// --- Field-block planning ---

type fieldPlan struct {
	kind      fieldKind
	onStatic  bool
	sensitive bool
	abs       uint64 // dynamic absolute index when !onStatic
	idx       uint64 // static index when onStatic
	header    Header
}

// PlanHeaders encodes headers as one field block for streamID. The commit
// registers the section and takes a reference on every dynamic entry the
// block uses; the host must invoke it when the bytes are actually sent.
func (c *Codec) PlanHeaders(buf *[]byte, headers []Header, streamID uint64) (Commit, error) {
	dt := c.table.dynamic
	dt.mu.RLock()
	defer dt.mu.RUnlock()

	plans := make([]fieldPlan, 0, len(headers))
	var refs []uint64
	for _, h := range headers {
		p := c.planField(h)
		if (p.kind == kindIndexed || p.kind == kindLiteralNameRef) && !p.onStatic {
			refs = append(refs, p.abs)
		}
		plans = append(plans, p)
	}

	var requiredInsertCount uint64
	postBase := false
	base := uint64(0)
	if len(refs) > 0 {
		minRef, maxRef := refs[0], refs[0]
		for _, r := range refs[1:] {
			if r < minRef {
				minRef = r
			}
			if r > maxRef {
				maxRef = r
			}
		}
		requiredInsertCount = maxRef + 1
		// Representations lean post-base when the referenced range sits in
		// the older half of the live entries; either choice decodes.
		postBase = minRef+maxRef < uint64(dt.entryCountLocked())
		if postBase {
			base = minRef
		} else {
			base = requiredInsertCount
		}
	}

	*buf = appendFieldSectionPrefix(*buf, requiredInsertCount, base, dt.maxEntries())
	for _, p := range plans {
		switch p.kind {
		case kindIndexed:
			if p.onStatic {
				*buf = appendIndexed(*buf, p.idx, true)
			} else if postBase && p.abs >= base {
				*buf = appendIndexedPostBase(*buf, p.abs-base)
			} else {
				*buf = appendIndexed(*buf, base-1-p.abs, false)
			}
		case kindLiteralNameRef:
			if p.onStatic {
				*buf = appendLiteralNameRef(*buf, p.idx, p.header.Value, true, p.sensitive)
			} else if postBase && p.abs >= base {
				*buf = appendLiteralPostBaseNameRef(*buf, p.abs-base, p.header.Value, p.sensitive)
			} else {
				*buf = appendLiteralNameRef(*buf, base-1-p.abs, p.header.Value, false, p.sensitive)
			}
		default:
			*buf = appendLiteralBoth(*buf, p.header)
		}
	}

	ric := requiredInsertCount
	sectionRefs := refs
	return func() error {
		if ric == 0 {
			return nil
		}
		dt.mu.Lock()
		defer dt.mu.Unlock()
		for _, abs := range sectionRefs {
			if err := dt.refEntryLocked(abs); err != nil {
				return err
			}
		}
		c.encMu.Lock()
		c.encSections[streamID] = encSection{requiredInsertCount: ric, refs: sectionRefs}
		c.encMu.Unlock()
		return nil
	}, nil
}

// planField picks the representation for one header. Sensitive headers are
// forced to a literal form: an indexed reference must not be reused for
// them even when an exact match exists.
func (c *Codec) planField(h Header) fieldPlan {
	res := c.table.findLocked(h)
	if h.Sensitive {
		if res.found {
			if res.onStatic {
				return fieldPlan{kind: kindLiteralNameRef, onStatic: true, sensitive: true, idx: res.idx, header: h}
			}
			return fieldPlan{kind: kindLiteralNameRef, sensitive: true, abs: res.idx, header: h}
		}
		return fieldPlan{kind: kindLiteralBoth, sensitive: true, header: h}
	}
	switch {
	case res.found && res.bothMatch && res.onStatic:
		return fieldPlan{kind: kindIndexed, onStatic: true, idx: res.idx, header: h}
	case res.found && res.bothMatch:
		return fieldPlan{kind: kindIndexed, abs: res.idx, header: h}
	case res.found && res.onStatic:
		return fieldPlan{kind: kindLiteralNameRef, onStatic: true, idx: res.idx, header: h}
	case res.found:
		return fieldPlan{kind: kindLiteralNameRef, abs: res.idx, header: h}
	default:
		return fieldPlan{kind: kindLiteralBoth, header: h}
	}
}

// --- Decoder-stream planning ---

// PlanSectionAck appends a Section Acknowledgment for a previously decoded
// section on streamID. The commit advances the local known received count
// and forgets the section.
func (c *Codec) PlanSectionAck(buf *[]byte, streamID uint64) (Commit, error) {
	c.decMu.Lock()
	ric, ok := c.decSections[streamID]
	c.decMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no pending section for stream %d: %w", streamID, ErrDecoderStream)
	}
	*buf = appendSectionAck(*buf, streamID)
	dt := c.table.dynamic
	return func() error {
		dt.mu.Lock()
		if ric > dt.knownReceived {
			dt.knownReceived = ric
		}
		dt.mu.Unlock()
		c.decMu.Lock()
		delete(c.decSections, streamID)
		c.decMu.Unlock()
		return nil
	}, nil
}

// PlanStreamCancellation appends a Stream Cancellation for streamID. The
// commit drops any pending section state for the stream.
func (c *Codec) PlanStreamCancellation(buf *[]byte, streamID uint64) (Commit, error) {
	*buf = appendStreamCancellation(*buf, streamID)
	return func() error {
		c.decMu.Lock()
		delete(c.decSections, streamID)
		c.decMu.Unlock()
		return nil
	}, nil
}

// PlanInsertCountIncrement appends an Insert Count Increment covering every
// insert not yet acknowledged, returning the delta it encodes. The commit
// advances the local known received count by that delta.
func (c *Codec) PlanInsertCountIncrement(buf *[]byte) (Commit, uint64, error) {
	dt := c.table.dynamic
	dt.mu.RLock()
	delta := dt.insertCount() - dt.knownReceived
	dt.mu.RUnlock()
	if delta == 0 {
		return nil, 0, fmt.Errorf("no unacknowledged inserts: %w", ErrDecoderStream)
	}
	*buf = appendInsertCountIncrement(*buf, delta)
	return func() error {
		dt.mu.Lock()
		defer dt.mu.Unlock()
		dt.knownReceived += delta
		return nil
	}, delta, nil
}

// --- Decoding ---

// DecodeHeaders decodes one field block received on streamID. When the
// block's required insert count is ahead of the dynamic table, the call
// blocks until the table catches up, unless that would exceed the
// blocked-streams limit, which fails fast. The bool result reports whether
// the block referenced the dynamic table, i.e. whether it needs a Section
// Acknowledgment.
func (c *Codec) DecodeHeaders(wire []byte, streamID uint64) ([]Header, bool, error) {
	dt := c.table.dynamic
	consumed, requiredInsertCount, base, err := parseFieldSectionPrefix(wire, dt.maxEntries(), dt.insertCount())
	if err != nil {
		return nil, false, err
	}

	if dt.insertCount() < requiredInsertCount {
		c.decMu.Lock()
		if c.blockedStreams == c.blockedLimit {
			c.decMu.Unlock()
			return nil, false, fmt.Errorf("blocked streams limit %d reached: %w", c.blockedLimit, ErrDecompressionFailed)
		}
		c.blockedStreams++
		c.decMu.Unlock()
		c.logger.Debug("field block blocked on insert count",
			zap.Uint64("stream_id", streamID),
			zap.Uint64("required_insert_count", requiredInsertCount),
		)
		dt.inserts.waitAtLeast(requiredInsertCount)
		c.decMu.Lock()
		c.blockedStreams--
		c.decMu.Unlock()
	}

	dt.mu.RLock()
	headers := make([]Header, 0, 8)
	refDynamic := false
	off := consumed
	for off < len(wire) {
		n, fl, err := parseFieldLine(wire, off)
		if err != nil {
			dt.mu.RUnlock()
			return nil, false, err
		}
		off += n
		h, dyn, err := c.resolveFieldLocked(fl, base, requiredInsertCount)
		if err != nil {
			dt.mu.RUnlock()
			return nil, false, err
		}
		headers = append(headers, h)
		refDynamic = refDynamic || dyn
	}
	dt.mu.RUnlock()

	if requiredInsertCount > 0 {
		c.decMu.Lock()
		c.decSections[streamID] = requiredInsertCount
		c.decMu.Unlock()
	}
	return headers, refDynamic, nil
}

// resolveFieldLocked turns a parsed representation into a header, reporting
// whether it touched the dynamic table. Caller holds the table read lock.
func (c *Codec) resolveFieldLocked(fl fieldLine, base, requiredInsertCount uint64) (Header, bool, error) {
	switch fl.kind {
	case kindIndexed:
		if fl.onStatic {
			h, err := staticGet(fl.idx)
			return h, false, err
		}
		h, err := c.table.getDynamicLocked(base, fl.idx, false, requiredInsertCount)
		return h, true, err
	case kindIndexedPostBase:
		h, err := c.table.getDynamicLocked(base, fl.idx, true, requiredInsertCount)
		return h, true, err
	case kindLiteralNameRef:
		var name HeaderString
		if fl.onStatic {
			h, err := staticGet(fl.idx)
			if err != nil {
				return Header{}, false, err
			}
			name = h.Name
		} else {
			h, err := c.table.getDynamicLocked(base, fl.idx, false, requiredInsertCount)
			if err != nil {
				return Header{}, false, err
			}
			name = h.Name
		}
		return Header{Name: name, Value: fl.value, Sensitive: fl.sensitive}, !fl.onStatic, nil
	case kindLiteralPostBaseNameRef:
		h, err := c.table.getDynamicLocked(base, fl.idx, true, requiredInsertCount)
		if err != nil {
			return Header{}, false, err
		}
		return Header{Name: h.Name, Value: fl.value, Sensitive: fl.sensitive}, true, nil
	default:
		return Header{Name: fl.name, Value: fl.value, Sensitive: fl.sensitive}, false, nil
	}
}

// DecodeEncoderStream parses a run of encoder-stream instructions and
// returns one commit that applies them in order under a single write-lock
// acquisition. Name and index references are resolved at apply time, so an
// instruction may refer to an entry inserted earlier in the same run.
func (c *Codec) DecodeEncoderStream(wire []byte) (Commit, error) {
	var instrs []encoderInstr
	for off := 0; off < len(wire); {
		n, instr, err := parseEncoderInstr(wire, off)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, instr)
		off += n
	}

	dt := c.table.dynamic
	return func() error {
		dt.mu.Lock()
		defer dt.mu.Unlock()
		for _, instr := range instrs {
			if err := c.applyEncoderInstrLocked(instr); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func (c *Codec) applyEncoderInstrLocked(instr encoderInstr) error {
	dt := c.table.dynamic
	switch instr.kind {
	case encInstrSetCapacity:
		return dt.setCapacityLocked(instr.capacity)
	case encInstrInsertNameRef:
		var name HeaderString
		if instr.onStatic {
			h, err := staticGet(instr.idx)
			if err != nil {
				return fmt.Errorf("insert with name reference: %w", err)
			}
			name = h.Name
		} else {
			h, err := dt.getRelativeLocked(instr.idx)
			if err != nil {
				return fmt.Errorf("insert with name reference: %w", err)
			}
			name = h.Name
		}
		return dt.insertLocked(Header{Name: name, Value: instr.value})
	case encInstrInsertLiteral:
		return dt.insertLocked(Header{Name: instr.name, Value: instr.value})
	default:
		return dt.duplicateLocked(instr.idx)
	}
}

// DecodeDecoderStream parses a run of decoder-stream instructions and
// returns one commit applying the acknowledgement effects in order.
func (c *Codec) DecodeDecoderStream(wire []byte) (Commit, error) {
	var instrs []decoderInstr
	for off := 0; off < len(wire); {
		n, instr, err := parseDecoderInstr(wire, off)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, instr)
		off += n
	}

	dt := c.table.dynamic
	return func() error {
		dt.mu.Lock()
		defer dt.mu.Unlock()
		for _, instr := range instrs {
			if err := c.applyDecoderInstrLocked(instr); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func (c *Codec) applyDecoderInstrLocked(instr decoderInstr) error {
	dt := c.table.dynamic
	switch instr.kind {
	case decInstrSectionAck:
		c.encMu.Lock()
		sec, ok := c.encSections[instr.streamID]
		if ok {
			delete(c.encSections, instr.streamID)
		}
		c.encMu.Unlock()
		if !ok {
			return fmt.Errorf("section ack for unknown stream %d: %w", instr.streamID, ErrDecoderStream)
		}
		return dt.ackSectionLocked(sec.requiredInsertCount, sec.refs)
	case decInstrStreamCancel:
		c.encMu.Lock()
		sec, ok := c.encSections[instr.streamID]
		if ok {
			delete(c.encSections, instr.streamID)
		}
		c.encMu.Unlock()
		if !ok {
			// A cancellation may race a section the encoder never committed.
			return nil
		}
		for _, abs := range sec.refs {
			if err := dt.derefEntryLocked(abs); err != nil {
				return err
			}
		}
		return nil
	default:
		if instr.delta == 0 {
			return fmt.Errorf("insert count increment of zero: %w", ErrDecoderStream)
		}
		c.encMu.Lock()
		knownSending := c.knownSendingCount
		c.encMu.Unlock()
		if dt.knownReceived+instr.delta > knownSending {
			return fmt.Errorf("insert count increment %d exceeds sent inserts: %w", instr.delta, ErrDecoderStream)
		}
		dt.knownReceived += instr.delta
		return nil
	}
}

// --- Introspection ---

// EntryState is one live dynamic-table entry as seen by inspection tooling.
type EntryState struct {
	AbsoluteIndex uint64
	Name          string
	Value         string
	Size          uint64
	Outstanding   int
}

// TableState is a point-in-time copy of the dynamic-table bookkeeping.
type TableState struct {
	Capacity           uint64
	MaxCapacity        uint64
	Size               uint64
	InsertCount        uint64
	KnownReceivedCount uint64
	EvictionCount      uint64
	BlockedStreams     uint16
	Entries            []EntryState
}

// TableState snapshots the dynamic table for dumps and snapshots. It takes
// the read lock and copies everything, so the result is self-consistent.
func (c *Codec) TableState() TableState {
	dt := c.table.dynamic
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	c.decMu.Lock()
	blocked := c.blockedStreams
	c.decMu.Unlock()

	st := TableState{
		Capacity:           dt.capacity,
		MaxCapacity:        dt.maxCapacity,
		Size:               dt.size,
		InsertCount:        dt.insertCount(),
		KnownReceivedCount: dt.knownReceived,
		EvictionCount:      dt.evictionCount,
		BlockedStreams:     blocked,
		Entries:            make([]EntryState, 0, len(dt.entries)),
	}
	for i, e := range dt.entries {
		st.Entries = append(st.Entries, EntryState{
			AbsoluteIndex: dt.evictionCount + uint64(i),
			Name:          e.header.Name.Value,
			Value:         e.header.Value.Value,
			Size:          e.size,
			Outstanding:   e.outstanding,
		})
	}
	return st
}
