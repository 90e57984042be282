package qpack

import (
	"fmt"
)

// Pure wire codec for field-line representations (RFC 9204 Section 4.5),
// encoder-stream instructions (Section 4.3), and decoder-stream
// instructions (Section 4.4). Nothing in this file touches table state;
// the Codec resolves indices and applies effects.

// Field-line representation patterns.
const (
	fieldIndexed             = 0b1000_0000 // 1 T iiiiii
	fieldIndexedStaticBit    = 0b0100_0000
	fieldIndexedPostBase     = 0b0001_0000 // 0001 iiii
	fieldLiteralNameRef      = 0b0100_0000 // 01 N T iiii
	fieldNameRefSensitiveBit = 0b0010_0000
	fieldNameRefStaticBit    = 0b0001_0000
	fieldLiteralPostBase     = 0b0000_0000 // 0000 N iii
	fieldPostBaseSensitive   = 0b0000_1000
	fieldLiteralBoth         = 0b0010_0000 // 001 N H nnn
	fieldBothSensitiveBit    = 0b0001_0000
)

// Encoder-stream instruction patterns.
const (
	insInsertNameRef  = 0b1000_0000 // 1 T iiiiii
	insInsertNameRefT = 0b0100_0000
	insInsertLiteral  = 0b0100_0000 // 01 H nnnnn
	insSetCapacity    = 0b0010_0000 // 001 ccccc
	insDuplicate      = 0b0000_0000 // 000 iiiii
)

// Decoder-stream instruction patterns.
const (
	insSectionAck     = 0b1000_0000 // 1 sssssss
	insStreamCancel   = 0b0100_0000 // 01 ssssss
	insInsertCountInc = 0b0000_0000 // 00 dddddd
)

// appendPrefixed appends v with an n-bit prefix and ORs pattern into the
// first byte's high bits.
func appendPrefixed(buf []byte, pattern byte, v uint64, n uint8) []byte {
	buf, written := appendVarint(buf, v, n)
	buf[len(buf)-written] |= pattern
	return buf
}

// appendString appends a length-prefixed string whose length uses an n-bit
// prefix with the Huffman flag at bit n. pattern is ORed into the first
// byte above the flag.
func appendString(buf []byte, pattern byte, s HeaderString, n uint8) []byte {
	if s.Huffman {
		encoded := appendHuffman(nil, s.Value)
		buf, written := appendVarint(buf, uint64(len(encoded)), n)
		buf[len(buf)-written] |= pattern | 1<<n
		return append(buf, encoded...)
	}
	buf, written := appendVarint(buf, uint64(len(s.Value)), n)
	buf[len(buf)-written] |= pattern
	return append(buf, s.Value...)
}

// parseString reads a length-prefixed string with an n-bit length prefix,
// decoding Huffman content when the flag at bit n is set.
func parseString(wire []byte, off int, n uint8) (int, HeaderString, error) {
	if off >= len(wire) {
		return 0, HeaderString{}, fmt.Errorf("string at offset %d: truncated: %w", off, ErrDecompressionFailed)
	}
	huffman := wire[off]&(1<<n) != 0
	consumed, length, err := readVarint(wire, off, n)
	if err != nil {
		return 0, HeaderString{}, err
	}
	end := off + consumed + int(length)
	if end > len(wire) || end < off {
		return 0, HeaderString{}, fmt.Errorf("string at offset %d: length %d past end: %w", off, length, ErrDecompressionFailed)
	}
	raw := wire[off+consumed : end]
	if huffman {
		decoded, err := decodeHuffman(raw)
		if err != nil {
			return 0, HeaderString{}, err
		}
		return consumed + int(length), HeaderString{Value: decoded, Huffman: true}, nil
	}
	return consumed + int(length), HeaderString{Value: string(raw)}, nil
}

// --- Field section prefix (Section 4.5.1) ---

// appendFieldSectionPrefix writes the encoded insert count and the signed
// delta base. requiredInsertCount of zero means the section references no
// dynamic entries.
func appendFieldSectionPrefix(buf []byte, requiredInsertCount, base, maxEntries uint64) []byte {
	var encodedInsertCount uint64
	if requiredInsertCount > 0 {
		encodedInsertCount = requiredInsertCount%(2*maxEntries) + 1
	}
	buf, _ = appendVarint(buf, encodedInsertCount, 8)
	if base >= requiredInsertCount {
		return appendPrefixed(buf, 0, base-requiredInsertCount, 7)
	}
	return appendPrefixed(buf, 0b1000_0000, requiredInsertCount-base-1, 7)
}

// parseFieldSectionPrefix reverses appendFieldSectionPrefix, reconstructing
// the full required insert count from its wrapped form against the
// decoder's total insert count (Section 4.5.1.1).
func parseFieldSectionPrefix(wire []byte, maxEntries, totalInserts uint64) (consumed int, requiredInsertCount, base uint64, err error) {
	n1, encodedInsertCount, err := readVarint(wire, 0, 8)
	if err != nil {
		return 0, 0, 0, err
	}
	if encodedInsertCount > 0 {
		fullRange := 2 * maxEntries
		if fullRange == 0 || encodedInsertCount > fullRange {
			return 0, 0, 0, fmt.Errorf("encoded insert count %d out of range: %w", encodedInsertCount, ErrDecompressionFailed)
		}
		maxValue := totalInserts + maxEntries
		maxWrapped := maxValue / fullRange * fullRange
		requiredInsertCount = maxWrapped + encodedInsertCount - 1
		if requiredInsertCount > maxValue {
			if requiredInsertCount <= fullRange {
				return 0, 0, 0, fmt.Errorf("required insert count %d exceeds bound: %w", requiredInsertCount, ErrDecompressionFailed)
			}
			requiredInsertCount -= fullRange
		}
		if requiredInsertCount == 0 {
			return 0, 0, 0, fmt.Errorf("required insert count wrapped to zero: %w", ErrDecompressionFailed)
		}
	}
	if n1 >= len(wire) {
		return 0, 0, 0, fmt.Errorf("section prefix truncated: %w", ErrDecompressionFailed)
	}
	sign := wire[n1]&0b1000_0000 != 0
	n2, deltaBase, err := readVarint(wire, n1, 7)
	if err != nil {
		return 0, 0, 0, err
	}
	if sign {
		if deltaBase+1 > requiredInsertCount {
			return 0, 0, 0, fmt.Errorf("delta base %d underflows insert count %d: %w", deltaBase, requiredInsertCount, ErrDecompressionFailed)
		}
		base = requiredInsertCount - deltaBase - 1
	} else {
		base = requiredInsertCount + deltaBase
	}
	return n1 + n2, requiredInsertCount, base, nil
}

// --- Field-line representations ---

type fieldKind uint8

const (
	kindIndexed fieldKind = iota
	kindIndexedPostBase
	kindLiteralNameRef
	kindLiteralPostBaseNameRef
	kindLiteralBoth
)

// fieldLine is one parsed representation, before table resolution.
type fieldLine struct {
	kind      fieldKind
	onStatic  bool
	sensitive bool
	idx       uint64
	name      HeaderString
	value     HeaderString
}

func appendIndexed(buf []byte, idx uint64, onStatic bool) []byte {
	pattern := byte(fieldIndexed)
	if onStatic {
		pattern |= fieldIndexedStaticBit
	}
	return appendPrefixed(buf, pattern, idx, 6)
}

func appendIndexedPostBase(buf []byte, idx uint64) []byte {
	return appendPrefixed(buf, fieldIndexedPostBase, idx, 4)
}

func appendLiteralNameRef(buf []byte, idx uint64, value HeaderString, onStatic, sensitive bool) []byte {
	pattern := byte(fieldLiteralNameRef)
	if onStatic {
		pattern |= fieldNameRefStaticBit
	}
	if sensitive {
		pattern |= fieldNameRefSensitiveBit
	}
	buf = appendPrefixed(buf, pattern, idx, 4)
	return appendString(buf, 0, value, 7)
}

func appendLiteralPostBaseNameRef(buf []byte, idx uint64, value HeaderString, sensitive bool) []byte {
	pattern := byte(fieldLiteralPostBase)
	if sensitive {
		pattern |= fieldPostBaseSensitive
	}
	buf = appendPrefixed(buf, pattern, idx, 3)
	return appendString(buf, 0, value, 7)
}

func appendLiteralBoth(buf []byte, h Header) []byte {
	pattern := byte(fieldLiteralBoth)
	if h.Sensitive {
		pattern |= fieldBothSensitiveBit
	}
	buf = appendString(buf, pattern, h.Name, 3)
	return appendString(buf, 0, h.Value, 7)
}

// parseFieldLine decodes the representation starting at wire[off]. The five
// patterns partition the byte space, so dispatch is exhaustive.
func parseFieldLine(wire []byte, off int) (int, fieldLine, error) {
	b := wire[off]
	switch {
	case b&fieldIndexed != 0:
		consumed, idx, err := readVarint(wire, off, 6)
		if err != nil {
			return 0, fieldLine{}, err
		}
		return consumed, fieldLine{
			kind:     kindIndexed,
			onStatic: b&fieldIndexedStaticBit != 0,
			idx:      idx,
		}, nil
	case b&fieldLiteralNameRef != 0:
		consumed, idx, err := readVarint(wire, off, 4)
		if err != nil {
			return 0, fieldLine{}, err
		}
		n, value, err := parseString(wire, off+consumed, 7)
		if err != nil {
			return 0, fieldLine{}, err
		}
		return consumed + n, fieldLine{
			kind:      kindLiteralNameRef,
			onStatic:  b&fieldNameRefStaticBit != 0,
			sensitive: b&fieldNameRefSensitiveBit != 0,
			idx:       idx,
			value:     value,
		}, nil
	case b&fieldLiteralBoth != 0:
		consumed, name, err := parseString(wire, off, 3)
		if err != nil {
			return 0, fieldLine{}, err
		}
		n, value, err := parseString(wire, off+consumed, 7)
		if err != nil {
			return 0, fieldLine{}, err
		}
		return consumed + n, fieldLine{
			kind:      kindLiteralBoth,
			sensitive: b&fieldBothSensitiveBit != 0,
			name:      name,
			value:     value,
		}, nil
	case b&fieldIndexedPostBase != 0:
		consumed, idx, err := readVarint(wire, off, 4)
		if err != nil {
			return 0, fieldLine{}, err
		}
		return consumed, fieldLine{kind: kindIndexedPostBase, idx: idx}, nil
	default:
		consumed, idx, err := readVarint(wire, off, 3)
		if err != nil {
			return 0, fieldLine{}, err
		}
		n, value, err := parseString(wire, off+consumed, 7)
		if err != nil {
			return 0, fieldLine{}, err
		}
		return consumed + n, fieldLine{
			kind:      kindLiteralPostBaseNameRef,
			sensitive: b&fieldPostBaseSensitive != 0,
			idx:       idx,
			value:     value,
		}, nil
	}
}

// --- Encoder-stream instructions ---

func appendSetCapacity(buf []byte, capacity uint64) []byte {
	return appendPrefixed(buf, insSetCapacity, capacity, 5)
}

func appendInsertNameRef(buf []byte, idx uint64, value HeaderString, onStatic bool) []byte {
	pattern := byte(insInsertNameRef)
	if onStatic {
		pattern |= insInsertNameRefT
	}
	buf = appendPrefixed(buf, pattern, idx, 6)
	return appendString(buf, 0, value, 7)
}

func appendInsertLiteral(buf []byte, name, value HeaderString) []byte {
	buf = appendString(buf, insInsertLiteral, name, 5)
	return appendString(buf, 0, value, 7)
}

func appendDuplicate(buf []byte, rel uint64) []byte {
	return appendPrefixed(buf, insDuplicate, rel, 5)
}

type encoderInstrKind uint8

const (
	encInstrSetCapacity encoderInstrKind = iota
	encInstrInsertNameRef
	encInstrInsertLiteral
	encInstrDuplicate
)

type encoderInstr struct {
	kind     encoderInstrKind
	onStatic bool
	idx      uint64 // name index or duplicate relative index
	capacity uint64
	name     HeaderString
	value    HeaderString
}

func parseEncoderInstr(wire []byte, off int) (int, encoderInstr, error) {
	b := wire[off]
	switch {
	case b&insInsertNameRef != 0:
		consumed, idx, err := readVarint(wire, off, 6)
		if err != nil {
			return 0, encoderInstr{}, err
		}
		n, value, err := parseString(wire, off+consumed, 7)
		if err != nil {
			return 0, encoderInstr{}, err
		}
		return consumed + n, encoderInstr{
			kind:     encInstrInsertNameRef,
			onStatic: b&insInsertNameRefT != 0,
			idx:      idx,
			value:    value,
		}, nil
	case b&insInsertLiteral != 0:
		consumed, name, err := parseString(wire, off, 5)
		if err != nil {
			return 0, encoderInstr{}, err
		}
		n, value, err := parseString(wire, off+consumed, 7)
		if err != nil {
			return 0, encoderInstr{}, err
		}
		return consumed + n, encoderInstr{kind: encInstrInsertLiteral, name: name, value: value}, nil
	case b&insSetCapacity != 0:
		consumed, capacity, err := readVarint(wire, off, 5)
		if err != nil {
			return 0, encoderInstr{}, err
		}
		return consumed, encoderInstr{kind: encInstrSetCapacity, capacity: capacity}, nil
	default:
		consumed, idx, err := readVarint(wire, off, 5)
		if err != nil {
			return 0, encoderInstr{}, err
		}
		return consumed, encoderInstr{kind: encInstrDuplicate, idx: idx}, nil
	}
}

// --- Decoder-stream instructions ---

func appendSectionAck(buf []byte, streamID uint64) []byte {
	return appendPrefixed(buf, insSectionAck, streamID, 7)
}

func appendStreamCancellation(buf []byte, streamID uint64) []byte {
	return appendPrefixed(buf, insStreamCancel, streamID, 6)
}

func appendInsertCountIncrement(buf []byte, delta uint64) []byte {
	return appendPrefixed(buf, insInsertCountInc, delta, 6)
}

type decoderInstrKind uint8

const (
	decInstrSectionAck decoderInstrKind = iota
	decInstrStreamCancel
	decInstrInsertCountInc
)

type decoderInstr struct {
	kind     decoderInstrKind
	streamID uint64
	delta    uint64
}

func parseDecoderInstr(wire []byte, off int) (int, decoderInstr, error) {
	b := wire[off]
	switch {
	case b&insSectionAck != 0:
		consumed, streamID, err := readVarint(wire, off, 7)
		if err != nil {
			return 0, decoderInstr{}, err
		}
		return consumed, decoderInstr{kind: decInstrSectionAck, streamID: streamID}, nil
	case b&insStreamCancel != 0:
		consumed, streamID, err := readVarint(wire, off, 6)
		if err != nil {
			return 0, decoderInstr{}, err
		}
		return consumed, decoderInstr{kind: decInstrStreamCancel, streamID: streamID}, nil
	default:
		consumed, delta, err := readVarint(wire, off, 6)
		if err != nil {
			return 0, decoderInstr{}, err
		}
		return consumed, decoderInstr{kind: decInstrInsertCountInc, delta: delta}, nil
	}
}
