package qpack

import (
	"fmt"
	"sync"
)

// The dynamic table (RFC 9204 Section 3.2). Entries are kept in insertion
// order; entries[0] is the oldest surviving entry and its absolute index is
// evictionCount, so absolute = evictionCount + position. The insert count
// lives in its own mutex/condvar pair so a decoder blocking on it never
// holds the table lock.

type pair struct {
	name  string
	value string
}

type tableEntry struct {
	header      Header
	size        uint64
	outstanding int
}

// insertCounter is the (mutex, condvar)-guarded total number of successful
// insertions. Inserters increment and broadcast; blocked decoders wait.
type insertCounter struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    uint64
}

func newInsertCounter() *insertCounter {
	c := &insertCounter{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *insertCounter) get() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func (c *insertCounter) increment() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	c.cond.Broadcast()
	return c.n
}

// waitAtLeast blocks until the counter reaches target.
func (c *insertCounter) waitAtLeast(target uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.n < target {
		c.cond.Wait()
	}
}

type dynamicTable struct {
	mu sync.RWMutex

	entries       []*tableEntry
	size          uint64
	capacity      uint64
	maxCapacity   uint64
	evictionCount uint64
	knownReceived uint64

	// Highest absolute index holding a given (name, value) or name. Newer
	// inserts overwrite, so lookups always return the most recent entry.
	bothIndex map[pair]uint64
	nameIndex map[string]uint64

	inserts *insertCounter
}

func newDynamicTable(maxCapacity uint64) *dynamicTable {
	return &dynamicTable{
		maxCapacity: maxCapacity,
		bothIndex:   make(map[pair]uint64),
		nameIndex:   make(map[string]uint64),
		inserts:     newInsertCounter(),
	}
}

// maxEntries is the wrap-around modulus component for the encoded insert
// count (RFC 9204 Section 4.5.1.1).
func (dt *dynamicTable) maxEntries() uint64 {
	return dt.maxCapacity / 32
}

func (dt *dynamicTable) insertCount() uint64 {
	return dt.inserts.get()
}

// entryCountLocked is the number of live (non-evicted) entries.
func (dt *dynamicTable) entryCountLocked() int {
	return len(dt.entries)
}

// evictableUpToLocked reports whether evicting from the front can bring the
// table size down to target without dropping an entry that is still
// referenced or not yet known to the peer.
func (dt *dynamicTable) evictableUpToLocked(target uint64) bool {
	size := dt.size
	for i := 0; i < len(dt.entries) && size > target; i++ {
		e := dt.entries[i]
		abs := dt.evictionCount + uint64(i)
		if e.outstanding > 0 || abs >= dt.knownReceived {
			return false
		}
		size -= e.size
	}
	return size <= target
}

// evictUpToLocked drops entries from the front until size <= target. The
// check pass runs before any mutation, so a refused eviction leaves the
// table untouched.
func (dt *dynamicTable) evictUpToLocked(target uint64) error {
	size := dt.size
	drop := 0
	for size > target {
		if drop >= len(dt.entries) {
			return fmt.Errorf("table size %d cannot reach %d: %w", dt.size, target, ErrEncoderStream)
		}
		e := dt.entries[drop]
		abs := dt.evictionCount + uint64(drop)
		if e.outstanding > 0 || abs >= dt.knownReceived {
			return fmt.Errorf("entry %d still referenced: %w", abs, ErrEncoderStream)
		}
		size -= e.size
		drop++
	}
	for i := 0; i < drop; i++ {
		e := dt.entries[i]
		abs := dt.evictionCount + uint64(i)
		key := pair{e.header.Name.Value, e.header.Value.Value}
		if cur, ok := dt.bothIndex[key]; ok && cur == abs {
			delete(dt.bothIndex, key)
		}
		if cur, ok := dt.nameIndex[e.header.Name.Value]; ok && cur == abs {
			delete(dt.nameIndex, e.header.Name.Value)
		}
	}
	dt.entries = dt.entries[drop:]
	dt.evictionCount += uint64(drop)
	dt.size = size
	return nil
}

func (dt *dynamicTable) setCapacityLocked(capacity uint64) error {
	if capacity > dt.maxCapacity {
		return fmt.Errorf("capacity %d exceeds maximum %d: %w", capacity, dt.maxCapacity, ErrEncoderStream)
	}
	if err := dt.evictUpToLocked(capacity); err != nil {
		return err
	}
	dt.capacity = capacity
	return nil
}

// insertLocked appends a new entry, updating the lookup maps and the
// insert-count condvar.
func (dt *dynamicTable) insertLocked(h Header) error {
	sz := h.size()
	if sz > dt.capacity {
		return fmt.Errorf("entry size %d exceeds capacity %d: %w", sz, dt.capacity, ErrEncoderStream)
	}
	if err := dt.evictUpToLocked(dt.capacity - sz); err != nil {
		return err
	}
	abs := dt.evictionCount + uint64(len(dt.entries))
	dt.entries = append(dt.entries, &tableEntry{header: h, size: sz})
	dt.size += sz
	dt.bothIndex[pair{h.Name.Value, h.Value.Value}] = abs
	dt.nameIndex[h.Name.Value] = abs
	dt.inserts.increment()
	return nil
}

// duplicateLocked re-inserts the entry at the given relative-to-insert-count
// index.
func (dt *dynamicTable) duplicateLocked(rel uint64) error {
	h, err := dt.getRelativeLocked(rel)
	if err != nil {
		return err
	}
	return dt.insertLocked(h)
}

// getAbsoluteLocked fetches the entry at abs; indices below the eviction
// count or at/above the insert count are dead.
func (dt *dynamicTable) getAbsoluteLocked(abs uint64) (Header, error) {
	if abs < dt.evictionCount || abs >= dt.evictionCount+uint64(len(dt.entries)) {
		return Header{}, fmt.Errorf("dynamic index %d out of range [%d, %d): %w",
			abs, dt.evictionCount, dt.evictionCount+uint64(len(dt.entries)), ErrDecompressionFailed)
	}
	return dt.entries[abs-dt.evictionCount].header, nil
}

// getRelativeLocked resolves an encoder-stream relative index, where 0 is
// the most recent insertion.
func (dt *dynamicTable) getRelativeLocked(rel uint64) (Header, error) {
	count := dt.evictionCount + uint64(len(dt.entries))
	if rel >= uint64(len(dt.entries)) {
		return Header{}, fmt.Errorf("relative index %d out of range: %w", rel, ErrDecompressionFailed)
	}
	return dt.getAbsoluteLocked(count - 1 - rel)
}

// findLocked returns the highest absolute index matching h exactly, or
// failing that by name.
func (dt *dynamicTable) findLocked(h Header) (bothMatch bool, abs uint64, found bool) {
	if abs, ok := dt.bothIndex[pair{h.Name.Value, h.Value.Value}]; ok {
		return true, abs, true
	}
	if abs, ok := dt.nameIndex[h.Name.Value]; ok {
		return false, abs, true
	}
	return false, 0, false
}

func (dt *dynamicTable) refEntryLocked(abs uint64) error {
	if abs < dt.evictionCount || abs >= dt.evictionCount+uint64(len(dt.entries)) {
		return fmt.Errorf("reference to dead entry %d: %w", abs, ErrDecompressionFailed)
	}
	dt.entries[abs-dt.evictionCount].outstanding++
	return nil
}

func (dt *dynamicTable) derefEntryLocked(abs uint64) error {
	if abs < dt.evictionCount || abs >= dt.evictionCount+uint64(len(dt.entries)) {
		return fmt.Errorf("dereference of dead entry %d: %w", abs, ErrDecompressionFailed)
	}
	e := dt.entries[abs-dt.evictionCount]
	if e.outstanding == 0 {
		return fmt.Errorf("dereference of unreferenced entry %d: %w", abs, ErrDecoderStream)
	}
	e.outstanding--
	return nil
}

// ackSectionLocked releases a section's references and advances the known
// received count to at least requiredInsertCount.
func (dt *dynamicTable) ackSectionLocked(requiredInsertCount uint64, refs []uint64) error {
	for _, abs := range refs {
		if err := dt.derefEntryLocked(abs); err != nil {
			return err
		}
	}
	if requiredInsertCount > dt.knownReceived {
		dt.knownReceived = requiredInsertCount
	}
	return nil
}
