// Package qif reads and writes the QPACK offline-interop text format:
// blank-line separated header blocks of tab-separated name/value lines,
// with '#' comment lines.
// See https://github.com/quicwg/base-drafts/wiki/QPACK-Offline-Interop
package qif

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Field is one name/value line of a block.
type Field struct {
	Name  string
	Value string
}

// Block is one header list.
type Block []Field

// Parse reads every block from r.
func Parse(r io.Reader) ([]Block, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var blocks []Block
	var current Block
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				blocks = append(blocks, current)
				current = nil
			}
			continue
		}
		name, value, found := strings.Cut(line, "\t")
		if !found {
			// Some corpora separate with a single space instead.
			name, value, found = strings.Cut(line, " ")
			if !found {
				return nil, fmt.Errorf("qif: line %d: no separator in %q", lineNo, line)
			}
		}
		current = append(current, Field{Name: name, Value: value})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("qif: %w", err)
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}
	return blocks, nil
}

// Write serializes blocks in the interop format.
func Write(w io.Writer, blocks []Block) error {
	bw := bufio.NewWriter(w)
	for i, block := range blocks {
		if i > 0 {
			if err := bw.WriteByte('\n'); err != nil {
				return err
			}
		}
		for _, f := range block {
			if _, err := fmt.Fprintf(bw, "%s\t%s\n", f.Name, f.Value); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
