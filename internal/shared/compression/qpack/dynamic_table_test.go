package qpack

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaxCapacity = 1024

func newTestTable(t *testing.T, capacity uint64) *dynamicTable {
	t.Helper()
	dt := newDynamicTable(testMaxCapacity)
	dt.mu.Lock()
	defer dt.mu.Unlock()
	require.NoError(t, dt.setCapacityLocked(capacity))
	return dt
}

func insertAcked(t *testing.T, dt *dynamicTable, name, value string) {
	t.Helper()
	dt.mu.Lock()
	defer dt.mu.Unlock()
	require.NoError(t, dt.insertLocked(NewHeader(name, value)))
	dt.knownReceived = dt.insertCount()
}

func TestDynamicTableSetCapacity(t *testing.T) {
	dt := newDynamicTable(testMaxCapacity)
	dt.mu.Lock()
	defer dt.mu.Unlock()

	require.NoError(t, dt.setCapacityLocked(512))
	assert.Equal(t, uint64(512), dt.capacity)

	err := dt.setCapacityLocked(testMaxCapacity + 1)
	assert.ErrorIs(t, err, ErrEncoderStream)
	assert.Equal(t, uint64(512), dt.capacity)
}

func TestDynamicTableInsertAndGet(t *testing.T) {
	dt := newTestTable(t, 512)
	insertAcked(t, dt, ":path", "/index.html")
	insertAcked(t, dt, "custom-key", "custom-value")

	dt.mu.RLock()
	defer dt.mu.RUnlock()
	assert.Equal(t, uint64(2), dt.insertCount())
	assert.Equal(t, NewHeader(":path", "/index.html").size()+NewHeader("custom-key", "custom-value").size(), dt.size)

	h, err := dt.getAbsoluteLocked(1)
	require.NoError(t, err)
	assert.Equal(t, "custom-key", h.Name.Value)

	// Relative index 0 is the most recent insertion.
	h, err = dt.getRelativeLocked(0)
	require.NoError(t, err)
	assert.Equal(t, "custom-key", h.Name.Value)
	h, err = dt.getRelativeLocked(1)
	require.NoError(t, err)
	assert.Equal(t, ":path", h.Name.Value)

	_, err = dt.getAbsoluteLocked(2)
	assert.ErrorIs(t, err, ErrDecompressionFailed)
}

func TestDynamicTableInsertBiggerThanCapacity(t *testing.T) {
	dt := newTestTable(t, 10)
	dt.mu.Lock()
	defer dt.mu.Unlock()
	err := dt.insertLocked(NewHeader(":path", "/index.html"))
	assert.ErrorIs(t, err, ErrEncoderStream)
	assert.Zero(t, dt.size)
	assert.Zero(t, dt.insertCount())
	assert.Empty(t, dt.entries)
}

func TestDynamicTableEviction(t *testing.T) {
	// Capacity fits two of the three entries; the third insert must evict
	// the oldest once it is acknowledged.
	e1 := NewHeader("a", "1") // size 34
	dt := newTestTable(t, 2*e1.size())

	insertAcked(t, dt, "a", "1")
	insertAcked(t, dt, "b", "2")
	insertAcked(t, dt, "c", "3")

	dt.mu.RLock()
	defer dt.mu.RUnlock()
	assert.Equal(t, uint64(1), dt.evictionCount)
	assert.Equal(t, uint64(3), dt.insertCount())
	assert.Len(t, dt.entries, 2)

	_, err := dt.getAbsoluteLocked(0)
	assert.ErrorIs(t, err, ErrDecompressionFailed)

	// The evicted entry's lookup mappings must be gone.
	_, _, found := dt.findLocked(NewHeader("a", "1"))
	assert.False(t, found)
}

func TestDynamicTableEvictionBlockedByUnacknowledgedEntry(t *testing.T) {
	e := NewHeader("a", "1")
	dt := newTestTable(t, 2*e.size())

	dt.mu.Lock()
	defer dt.mu.Unlock()
	require.NoError(t, dt.insertLocked(NewHeader("a", "1")))
	require.NoError(t, dt.insertLocked(NewHeader("b", "2")))
	// Nothing acknowledged: evicting entry 0 would drop state the peer has
	// never confirmed.
	err := dt.insertLocked(NewHeader("c", "3"))
	assert.ErrorIs(t, err, ErrEncoderStream)
	assert.Len(t, dt.entries, 2)
	assert.Equal(t, uint64(2), dt.insertCount())
}

func TestDynamicTableEvictionBlockedByOutstandingReference(t *testing.T) {
	e := NewHeader("a", "1")
	dt := newTestTable(t, 2*e.size())

	insertAcked(t, dt, "a", "1")
	insertAcked(t, dt, "b", "2")

	dt.mu.Lock()
	defer dt.mu.Unlock()
	require.NoError(t, dt.refEntryLocked(0))
	err := dt.insertLocked(NewHeader("c", "3"))
	assert.ErrorIs(t, err, ErrEncoderStream)

	// Releasing the reference unblocks the same insert.
	require.NoError(t, dt.derefEntryLocked(0))
	require.NoError(t, dt.insertLocked(NewHeader("c", "3")))
	assert.Equal(t, uint64(1), dt.evictionCount)
}

func TestDynamicTableSetCapacityEvicts(t *testing.T) {
	dt := newTestTable(t, 512)
	insertAcked(t, dt, "a", "1")
	insertAcked(t, dt, "b", "2")

	dt.mu.Lock()
	defer dt.mu.Unlock()
	require.NoError(t, dt.setCapacityLocked(0))
	assert.Empty(t, dt.entries)
	assert.Zero(t, dt.size)
	assert.Equal(t, uint64(2), dt.evictionCount)
}

func TestDynamicTableFindPrefersNewestAndBothMatch(t *testing.T) {
	dt := newTestTable(t, 512)
	insertAcked(t, dt, "k", "v1")
	insertAcked(t, dt, "k", "v2")
	insertAcked(t, dt, "k", "v1")

	dt.mu.RLock()
	defer dt.mu.RUnlock()

	both, abs, found := dt.findLocked(NewHeader("k", "v1"))
	require.True(t, found)
	assert.True(t, both)
	assert.Equal(t, uint64(2), abs)

	both, abs, found = dt.findLocked(NewHeader("k", "other"))
	require.True(t, found)
	assert.False(t, both)
	assert.Equal(t, uint64(2), abs)
}

func TestDynamicTableDuplicate(t *testing.T) {
	dt := newTestTable(t, 512)
	insertAcked(t, dt, "a", "1")
	insertAcked(t, dt, "b", "2")

	dt.mu.Lock()
	defer dt.mu.Unlock()
	require.NoError(t, dt.duplicateLocked(1)) // relative 1 is ("a", "1")
	assert.Equal(t, uint64(3), dt.insertCount())
	h, err := dt.getAbsoluteLocked(2)
	require.NoError(t, err)
	assert.Equal(t, "a", h.Name.Value)
	assert.Equal(t, "1", h.Value.Value)
}

func TestDynamicTableAckSection(t *testing.T) {
	dt := newTestTable(t, 512)
	insertAcked(t, dt, "a", "1")

	dt.mu.Lock()
	defer dt.mu.Unlock()
	require.NoError(t, dt.insertLocked(NewHeader("b", "2")))
	require.NoError(t, dt.refEntryLocked(1))

	require.NoError(t, dt.ackSectionLocked(2, []uint64{1}))
	assert.Equal(t, uint64(2), dt.knownReceived)
	assert.Zero(t, dt.entries[1].outstanding)

	// Known received never regresses.
	require.NoError(t, dt.ackSectionLocked(1, nil))
	assert.Equal(t, uint64(2), dt.knownReceived)
}

func TestInsertCounterWaitAtLeast(t *testing.T) {
	dt := newTestTable(t, 512)

	var wg sync.WaitGroup
	wg.Add(1)
	released := make(chan struct{})
	go func() {
		defer wg.Done()
		dt.inserts.waitAtLeast(2)
		close(released)
	}()

	insertAcked(t, dt, "a", "1")
	select {
	case <-released:
		t.Fatal("woke before insert count reached target")
	case <-time.After(20 * time.Millisecond):
	}

	insertAcked(t, dt, "b", "2")
	wg.Wait()
}
