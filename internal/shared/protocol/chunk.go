package protocol

import (
	"encoding/binary"
	"errors"
)

// Chunk is one tagged unit of QPACK bytes in transit between two peers.
// QPACK defines three byte channels: the encoder stream, the decoder
// stream, and per-request field blocks. The relay moves opaque chunks; the
// stream id only means something for field blocks.
type Chunk struct {
	Kind     StreamKind
	StreamID uint64
	Payload  []byte
}

// StreamKind identifies which QPACK channel a chunk belongs to.
type StreamKind uint8

const (
	StreamEncoder    StreamKind = 0x00 // encoder instructions, strictly ordered
	StreamDecoder    StreamKind = 0x01 // acknowledgements back to the encoder
	StreamFieldBlock StreamKind = 0x02 // one encoded field section
)

// String returns the string representation of StreamKind.
func (k StreamKind) String() string {
	switch k {
	case StreamEncoder:
		return "encoder"
	case StreamDecoder:
		return "decoder"
	case StreamFieldBlock:
		return "field_block"
	default:
		return "unknown"
	}
}

// Binary format:
// +--------+--------+...+--------+...+--------+
// | Kind   | StreamID        | Payload Length |
// | 1 byte | 8 bytes         | 4 bytes        |
// +--------+-----------------+----------------+
// | Payload (variable)                        |
// +-------------------------------------------+

const chunkHeaderSize = 1 + 8 + 4

// MarshalBinary encodes the chunk to binary format.
func (c *Chunk) MarshalBinary() []byte {
	buf := make([]byte, chunkHeaderSize+len(c.Payload))
	buf[0] = byte(c.Kind)
	binary.BigEndian.PutUint64(buf[1:9], c.StreamID)
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(c.Payload)))
	copy(buf[chunkHeaderSize:], c.Payload)
	return buf
}

// UnmarshalBinary decodes the chunk from binary format.
func (c *Chunk) UnmarshalBinary(data []byte) error {
	if len(data) < chunkHeaderSize {
		return errors.New("invalid chunk: too short")
	}
	kind := StreamKind(data[0])
	if kind > StreamFieldBlock {
		return errors.New("invalid chunk: unknown stream kind")
	}
	payloadLen := int(binary.BigEndian.Uint32(data[9:13]))
	if len(data) < chunkHeaderSize+payloadLen {
		return errors.New("invalid chunk: length mismatch")
	}
	c.Kind = kind
	c.StreamID = binary.BigEndian.Uint64(data[1:9])
	c.Payload = data[chunkHeaderSize : chunkHeaderSize+payloadLen]
	return nil
}

// Size returns the size of the binary-encoded chunk.
func (c *Chunk) Size() int {
	return chunkHeaderSize + len(c.Payload)
}
