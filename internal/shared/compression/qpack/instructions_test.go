package qpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldSectionPrefixRoundTrip(t *testing.T) {
	const maxEntries = 32
	cases := []struct {
		requiredInsertCount uint64
		base                uint64
		totalInserts        uint64
	}{
		{0, 0, 0},
		{1, 1, 1},
		{2, 0, 2},    // post-base form, sign bit set
		{4, 4, 4},    // relative form, delta zero
		{9, 12, 20},  // base past the insert count
		{70, 70, 70}, // wrapped encoded insert count
	}
	for _, tc := range cases {
		wire := appendFieldSectionPrefix(nil, tc.requiredInsertCount, tc.base, maxEntries)
		consumed, ric, base, err := parseFieldSectionPrefix(wire, maxEntries, tc.totalInserts)
		require.NoError(t, err)
		assert.Equal(t, len(wire), consumed)
		assert.Equal(t, tc.requiredInsertCount, ric, "ric for %+v", tc)
		assert.Equal(t, tc.base, base, "base for %+v", tc)
	}
}

func TestFieldSectionPrefixRejectsOutOfRange(t *testing.T) {
	// Encoded insert count above 2*MaxEntries cannot be reconstructed.
	wire, _ := appendVarint(nil, 2*32+1, 8)
	wire = append(wire, 0x00)
	_, _, _, err := parseFieldSectionPrefix(wire, 32, 0)
	assert.ErrorIs(t, err, ErrDecompressionFailed)

	// A dynamic reference against a zero-capacity table is malformed.
	_, _, _, err = parseFieldSectionPrefix([]byte{0x01, 0x00}, 0, 0)
	assert.ErrorIs(t, err, ErrDecompressionFailed)
}

func TestFieldLineRepresentations(t *testing.T) {
	t.Run("indexed static", func(t *testing.T) {
		wire := appendIndexed(nil, 17, true)
		assert.Equal(t, []byte{0xd1}, wire)
		n, fl, err := parseFieldLine(wire, 0)
		require.NoError(t, err)
		assert.Equal(t, len(wire), n)
		assert.Equal(t, kindIndexed, fl.kind)
		assert.True(t, fl.onStatic)
		assert.Equal(t, uint64(17), fl.idx)
	})

	t.Run("indexed post-base", func(t *testing.T) {
		wire := appendIndexedPostBase(nil, 3)
		assert.Equal(t, []byte{0x13}, wire)
		n, fl, err := parseFieldLine(wire, 0)
		require.NoError(t, err)
		assert.Equal(t, len(wire), n)
		assert.Equal(t, kindIndexedPostBase, fl.kind)
		assert.Equal(t, uint64(3), fl.idx)
	})

	t.Run("literal with name reference", func(t *testing.T) {
		wire := appendLiteralNameRef(nil, 1, HeaderString{Value: "/index.html"}, true, false)
		assert.Equal(t, byte(0x51), wire[0])
		n, fl, err := parseFieldLine(wire, 0)
		require.NoError(t, err)
		assert.Equal(t, len(wire), n)
		assert.Equal(t, kindLiteralNameRef, fl.kind)
		assert.True(t, fl.onStatic)
		assert.False(t, fl.sensitive)
		assert.Equal(t, "/index.html", fl.value.Value)
	})

	t.Run("literal with post-base name reference", func(t *testing.T) {
		wire := appendLiteralPostBaseNameRef(nil, 2, HeaderString{Value: "v"}, true)
		n, fl, err := parseFieldLine(wire, 0)
		require.NoError(t, err)
		assert.Equal(t, len(wire), n)
		assert.Equal(t, kindLiteralPostBaseNameRef, fl.kind)
		assert.True(t, fl.sensitive)
		assert.Equal(t, uint64(2), fl.idx)
		assert.Equal(t, "v", fl.value.Value)
	})

	t.Run("literal with literal name", func(t *testing.T) {
		h := NewHeader("custom-key", "custom-value")
		h.Sensitive = true
		wire := appendLiteralBoth(nil, h)
		n, fl, err := parseFieldLine(wire, 0)
		require.NoError(t, err)
		assert.Equal(t, len(wire), n)
		assert.Equal(t, kindLiteralBoth, fl.kind)
		assert.True(t, fl.sensitive)
		assert.Equal(t, "custom-key", fl.name.Value)
		assert.Equal(t, "custom-value", fl.value.Value)
	})

	t.Run("huffman-coded literal", func(t *testing.T) {
		h := NewHuffmanHeader("custom-key", "custom-value")
		wire := appendLiteralBoth(nil, h)
		n, fl, err := parseFieldLine(wire, 0)
		require.NoError(t, err)
		assert.Equal(t, len(wire), n)
		assert.Equal(t, "custom-key", fl.name.Value)
		assert.True(t, fl.name.Huffman)
		assert.Equal(t, "custom-value", fl.value.Value)
		assert.True(t, fl.value.Huffman)
	})
}

func TestFieldLineTruncatedString(t *testing.T) {
	wire := appendLiteralBoth(nil, NewHeader("custom-key", "custom-value"))
	_, _, err := parseFieldLine(wire[:4], 0)
	assert.ErrorIs(t, err, ErrDecompressionFailed)
}

func TestEncoderInstructions(t *testing.T) {
	t.Run("set capacity", func(t *testing.T) {
		wire := appendSetCapacity(nil, 220)
		assert.Equal(t, []byte{0x3f, 0xbd, 0x01}, wire)
		n, instr, err := parseEncoderInstr(wire, 0)
		require.NoError(t, err)
		assert.Equal(t, len(wire), n)
		assert.Equal(t, encInstrSetCapacity, instr.kind)
		assert.Equal(t, uint64(220), instr.capacity)
	})

	t.Run("insert with name reference", func(t *testing.T) {
		wire := appendInsertNameRef(nil, 0, HeaderString{Value: "www.example.com"}, true)
		assert.Equal(t, byte(0xc0), wire[0])
		n, instr, err := parseEncoderInstr(wire, 0)
		require.NoError(t, err)
		assert.Equal(t, len(wire), n)
		assert.Equal(t, encInstrInsertNameRef, instr.kind)
		assert.True(t, instr.onStatic)
		assert.Equal(t, uint64(0), instr.idx)
		assert.Equal(t, "www.example.com", instr.value.Value)
	})

	t.Run("insert with literal name", func(t *testing.T) {
		wire := appendInsertLiteral(nil, HeaderString{Value: "custom-key"}, HeaderString{Value: "custom-value"})
		assert.Equal(t, byte(0x4a), wire[0])
		n, instr, err := parseEncoderInstr(wire, 0)
		require.NoError(t, err)
		assert.Equal(t, len(wire), n)
		assert.Equal(t, encInstrInsertLiteral, instr.kind)
		assert.Equal(t, "custom-key", instr.name.Value)
		assert.Equal(t, "custom-value", instr.value.Value)
	})

	t.Run("duplicate", func(t *testing.T) {
		wire := appendDuplicate(nil, 2)
		assert.Equal(t, []byte{0x02}, wire)
		n, instr, err := parseEncoderInstr(wire, 0)
		require.NoError(t, err)
		assert.Equal(t, len(wire), n)
		assert.Equal(t, encInstrDuplicate, instr.kind)
		assert.Equal(t, uint64(2), instr.idx)
	})
}

func TestDecoderInstructions(t *testing.T) {
	wire := appendSectionAck(nil, 4)
	assert.Equal(t, []byte{0x84}, wire)
	n, instr, err := parseDecoderInstr(wire, 0)
	require.NoError(t, err)
	assert.Equal(t, len(wire), n)
	assert.Equal(t, decInstrSectionAck, instr.kind)
	assert.Equal(t, uint64(4), instr.streamID)

	wire = appendStreamCancellation(nil, 8)
	assert.Equal(t, []byte{0x48}, wire)
	n, instr, err = parseDecoderInstr(wire, 0)
	require.NoError(t, err)
	assert.Equal(t, len(wire), n)
	assert.Equal(t, decInstrStreamCancel, instr.kind)
	assert.Equal(t, uint64(8), instr.streamID)

	wire = appendInsertCountIncrement(nil, 1)
	assert.Equal(t, []byte{0x01}, wire)
	n, instr, err = parseDecoderInstr(wire, 0)
	require.NoError(t, err)
	assert.Equal(t, len(wire), n)
	assert.Equal(t, decInstrInsertCountInc, instr.kind)
	assert.Equal(t, uint64(1), instr.delta)
}
