package qpack

// HeaderString is a string value plus the on-wire encoding chosen for it.
// The Huffman flag is a presentation hint only: two HeaderStrings with the
// same Value are the same logical string regardless of the flag.
type HeaderString struct {
	Value   string
	Huffman bool
}

// Header is a single field line. Sensitive sets the "N" bit on the wire and
// forbids the receiving side from indexing the pair or reusing an indexed
// reference for it.
type Header struct {
	Name      HeaderString
	Value     HeaderString
	Sensitive bool
}

// NewHeader builds a header with plain (non-Huffman) string encoding.
func NewHeader(name, value string) Header {
	return Header{
		Name:  HeaderString{Value: name},
		Value: HeaderString{Value: value},
	}
}

// NewHuffmanHeader builds a header whose name and value are Huffman-coded
// when written to the wire.
func NewHuffmanHeader(name, value string) Header {
	return Header{
		Name:  HeaderString{Value: name, Huffman: true},
		Value: HeaderString{Value: value, Huffman: true},
	}
}

// NewSensitiveHeader builds a never-indexed header.
func NewSensitiveHeader(name, value string) Header {
	h := NewHeader(name, value)
	h.Sensitive = true
	return h
}

// Equal compares logical identity: names and values, ignoring the Huffman
// presentation flags. The sensitive bit is part of identity because it
// changes what the receiver is allowed to do with the pair.
func (h Header) Equal(o Header) bool {
	return h.Name.Value == o.Name.Value &&
		h.Value.Value == o.Value.Value &&
		h.Sensitive == o.Sensitive
}

// size is the dynamic-table cost of the pair: name length plus value length
// plus the 32-octet overhead from RFC 9204 Section 3.2.1.
func (h Header) size() uint64 {
	return uint64(len(h.Name.Value) + len(h.Value.Value) + 32)
}
