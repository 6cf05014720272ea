package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// maxDescribeDepth bounds recursion into nested messages.
const maxDescribeDepth = 4

// DescribeFields renders b as an indented field tree for debugging captured
// notifications. Length-delimited values that parse as messages are
// expanded; everything else is shown as hex.
func DescribeFields(b []byte) string {
	var sb strings.Builder
	describe(&sb, b, 0)
	return sb.String()
}

func describe(sb *strings.Builder, b []byte, depth int) {
	indent := strings.Repeat("  ", depth)
	fields, err := ParseFields(b)
	if err != nil {
		fmt.Fprintf(sb, "%s<undecodable %s: %v>\n", indent, hex.EncodeToString(b), err)
		return
	}
	for _, f := range fields {
		switch f.Type {
		case WireVarint:
			fmt.Fprintf(sb, "%sfield %d (varint): %d\n", indent, f.Number, f.Varint)
		case WireFixed32, WireFixed64:
			fmt.Fprintf(sb, "%sfield %d (%s): %#x\n", indent, f.Number, f.Type, f.Varint)
		case WireBytes:
			fmt.Fprintf(sb, "%sfield %d (bytes, %d): %s\n", indent, f.Number, len(f.Bytes), hex.EncodeToString(f.Bytes))
			if depth < maxDescribeDepth && len(f.Bytes) > 0 {
				if _, err := ParseFields(f.Bytes); err == nil {
					describe(sb, f.Bytes, depth+1)
				}
			}
		}
	}
}
