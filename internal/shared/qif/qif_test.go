package qif

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	input := "# request 1\n" +
		":method\tGET\n" +
		":path\t/\n" +
		"\n" +
		":method\tPOST\n" +
		"content-type\tapplication/json\n"

	blocks, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, Block{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/"},
	}, blocks[0])
	assert.Equal(t, "application/json", blocks[1][1].Value)
}

func TestParseSpaceSeparator(t *testing.T) {
	blocks, err := Parse(strings.NewReader(":status 200\n"))
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, Field{Name: ":status", Value: "200"}, blocks[0][0])
}

func TestParseNoSeparator(t *testing.T) {
	_, err := Parse(strings.NewReader("not-a-header-line\n"))
	assert.Error(t, err)
}

func TestWriteParseRoundTrip(t *testing.T) {
	blocks := []Block{
		{{Name: ":method", Value: "GET"}, {Name: ":path", Value: "/index.html"}},
		{{Name: "x-empty", Value: ""}},
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, blocks))

	got, err := Parse(&buf)
	require.NoError(t, err)
	assert.Equal(t, blocks, got)
}
