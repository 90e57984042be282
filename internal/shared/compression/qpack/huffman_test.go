package qpack

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHuffmanKnownVectors(t *testing.T) {
	// RFC 7541 Appendix C request examples.
	cases := []struct {
		plain   string
		encoded []byte
	}{
		{"www.example.com", []byte{0xf1, 0xe3, 0xc2, 0xe5, 0xf2, 0x3a, 0x6b, 0xa0, 0xab, 0x90, 0xf4, 0xff}},
		{"no-cache", []byte{0xa8, 0xeb, 0x10, 0x64, 0x9c, 0xbf}},
		{"custom-key", []byte{0x25, 0xa8, 0x49, 0xe9, 0x5b, 0xa9, 0x7d, 0x7f}},
		{"custom-value", []byte{0x25, 0xa8, 0x49, 0xe9, 0x5b, 0xb8, 0xe8, 0xb4, 0xbf}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.encoded, appendHuffman(nil, tc.plain), "encode %q", tc.plain)
		assert.Equal(t, len(tc.encoded), huffmanLen(tc.plain))
		decoded, err := decodeHuffman(tc.encoded)
		require.NoError(t, err)
		assert.Equal(t, tc.plain, decoded)
	}
}

func TestHuffmanRoundTrip(t *testing.T) {
	samples := []string{
		"",
		"/",
		"a",
		"/index.html",
		"accept-encoding",
		"Mon, 21 Oct 2013 20:13:21 GMT",
		"!\"#$%&'()*+,-./0123456789:;<=>?@ABCXYZ[\\]^_`abcxyz{|}~",
		strings.Repeat("private, max-age=0; ", 51),         // > 1 KiB
		string([]byte{0x00, 0x01, 0xfe, 0xff, 0x80, 0x7f}), // rare symbols
	}
	for _, s := range samples {
		encoded := appendHuffman(nil, s)
		decoded, err := decodeHuffman(encoded)
		require.NoError(t, err, "round trip %q", s)
		assert.Equal(t, s, decoded)
	}
}

func TestHuffmanPadding(t *testing.T) {
	// 'o' is 00111, '0' is 00000: a final byte padded with zeros instead of
	// the EOS prefix must be rejected.
	_, err := decodeHuffman([]byte{0x3f, 0x00})
	assert.ErrorIs(t, err, ErrDecompressionFailed)

	// Seven or fewer 1-bits of padding are legal, a full byte of them is
	// not: "a" (00011) plus three 1-bits decodes, plus 8+ does not.
	decoded, err := decodeHuffman([]byte{0x1f})
	require.NoError(t, err)
	assert.Equal(t, "a", decoded)

	_, err = decodeHuffman([]byte{0x1f, 0xff})
	assert.ErrorIs(t, err, ErrDecompressionFailed)
}

func TestHuffmanEOSIsMalformed(t *testing.T) {
	// The 30-bit EOS code followed by 1-padding.
	_, err := decodeHuffman([]byte{0xff, 0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrDecompressionFailed)
}
