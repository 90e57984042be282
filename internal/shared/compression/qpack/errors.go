package qpack

import (
	"errors"
)

// The three QPACK error conditions from RFC 9204 Section 6. Every failure
// returned by this package wraps one of these sentinels, so callers can map
// it back to the connection error code with errors.Is.
var (
	// ErrDecompressionFailed covers malformed field blocks: bad varints,
	// invalid Huffman padding, out-of-range indices, unknown representation
	// patterns, and the blocked-streams limit being exceeded (0x0200).
	ErrDecompressionFailed = errors.New("qpack: decompression failed")

	// ErrEncoderStream covers dynamic-table violations caused by encoder
	// instructions: inserts past capacity, evictions blocked by unacknowledged
	// references, capacity beyond the configured maximum (0x0201).
	ErrEncoderStream = errors.New("qpack: encoder stream error")

	// ErrDecoderStream covers invalid acknowledgements: unknown stream ids,
	// zero or overshooting insert count increments (0x0202).
	ErrDecoderStream = errors.New("qpack: decoder stream error")
)
