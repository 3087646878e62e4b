package models

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Repr quotes p for a trace line. Non-printable bytes are escaped and the
// result is cut to strsize characters, not counting quotes, when strsize > 0.
func Repr(p []byte, strsize int) string {
	parts := make([]string, len(p))
	total := 0
	for i, b := range p {
		switch {
		case b == '"' || b == '\\':
			parts[i] = "\\" + string(b)
		case b >= 0x20 && b <= 0x7e:
			parts[i] = string(b)
		case b == '\n':
			parts[i] = "\\n"
		default:
			parts[i] = fmt.Sprintf("\\x%02x", b)
		}
		total += len(parts[i])
	}
	if strsize > 0 && total > strsize {
		n, size := 0, 0
		for ; n < len(parts) && size+len(parts[n]) <= strsize-3; n++ {
			size += len(parts[n])
		}
		return "\"" + strings.Join(parts[:n], "") + "\"..."
	}
	return "\"" + strings.Join(parts, "") + "\""
}

// ReprString is Repr for a C string buffer: everything from the first NUL
// on is dropped.
func ReprString(p []byte, strsize int) string {
	for i, b := range p {
		if b == 0 {
			p = p[:i]
			break
		}
	}
	return Repr(p, strsize)
}

// HexDump renders mem as lines of 16 bytes grouped in words of bits/8
// bytes, with a printable column.
func HexDump(base uint64, mem []byte, bits int) []string {
	const lineSize = 16
	wsz := bits / 8
	if wsz <= 0 || lineSize%wsz != 0 {
		wsz = 1
	}
	var out []string
	for off := 0; off < len(mem); off += lineSize {
		line := mem[off:]
		if len(line) > lineSize {
			line = line[:lineSize]
		}
		var words []string
		for w := 0; w < lineSize; w += wsz {
			switch {
			case w >= len(line):
				words = append(words, strings.Repeat(" ", wsz*2))
			case w+wsz > len(line):
				s := hex.EncodeToString(line[w:])
				words = append(words, s+strings.Repeat(" ", wsz*2-len(s)))
			default:
				words = append(words, hex.EncodeToString(line[w:w+wsz]))
			}
		}
		text := make([]byte, len(line))
		for i, c := range line {
			if c >= 0x20 && c <= 0x7e {
				text[i] = c
			} else {
				text[i] = '.'
			}
		}
		out = append(out, fmt.Sprintf("0x%08x: %s [%s]", base+uint64(off), strings.Join(words, " "), text))
	}
	return out
}
