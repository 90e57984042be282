package qpack

import (
	"fmt"
)

// table combines the immutable static table with a dynamic table and owns
// the index arithmetic between the two address spaces.

type table struct {
	dynamic *dynamicTable
}

func newTable(maxCapacity uint64) *table {
	return &table{dynamic: newDynamicTable(maxCapacity)}
}

// findResult describes where a header was found. idx is a static index when
// onStatic, otherwise a dynamic absolute index.
type findResult struct {
	bothMatch bool
	onStatic  bool
	idx       uint64
	found     bool
}

// findLocked prefers an exact static match, then any dynamic match, then a
// static name-only match. Caller holds at least a read lock on the dynamic
// table.
func (t *table) findLocked(h Header) findResult {
	staticBoth, staticIdx, staticFound := staticFind(h)
	if staticBoth {
		return findResult{bothMatch: true, onStatic: true, idx: staticIdx, found: true}
	}
	dynBoth, dynIdx, dynFound := t.dynamic.findLocked(h)
	if dynFound {
		return findResult{bothMatch: dynBoth, idx: dynIdx, found: true}
	}
	if staticFound {
		return findResult{onStatic: true, idx: staticIdx, found: true}
	}
	return findResult{}
}

// absIndex resolves a field-block index against its base: post-base indices
// count forward from base, relative indices backward from base-1.
func absIndex(base uint64, idx uint64, postBase bool) (uint64, error) {
	if postBase {
		return base + idx, nil
	}
	if idx >= base {
		return 0, fmt.Errorf("relative index %d underflows base %d: %w", idx, base, ErrDecompressionFailed)
	}
	return base - 1 - idx, nil
}

// getDynamicLocked fetches a dynamic entry addressed relative to base,
// enforcing that the target sits below requiredInsertCount.
func (t *table) getDynamicLocked(base, idx uint64, postBase bool, requiredInsertCount uint64) (Header, error) {
	abs, err := absIndex(base, idx, postBase)
	if err != nil {
		return Header{}, err
	}
	if abs >= requiredInsertCount {
		return Header{}, fmt.Errorf("dynamic index %d not covered by required insert count %d: %w",
			abs, requiredInsertCount, ErrDecompressionFailed)
	}
	return t.dynamic.getAbsoluteLocked(abs)
}
