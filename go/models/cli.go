package models

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// PrintFlags writes flags as an aligned table, wrapping long usage text
// to 80 columns.
func PrintFlags(w io.Writer, flags []*flag.Flag) {
	wname, wdef := 0, 0
	for _, f := range flags {
		if len(f.Name) > wname {
			wname = len(f.Name)
		}
		if len(f.DefValue) > wdef {
			wdef = len(f.DefValue)
		}
	}
	wdesc := 80 - wname - wdef - 7
	if wdesc < 20 {
		wdesc = 20
	}
	namefmt := fmt.Sprintf("  -%%-%ds ", wname)
	deffmt := fmt.Sprintf("%%-%ds ", wdef+2)
	lpad := strings.Repeat(" ", wname+wdef+7)
	for _, f := range flags {
		fmt.Fprintf(w, namefmt, f.Name)
		if f.DefValue != "" && f.DefValue != "[]" {
			fmt.Fprintf(w, deffmt, "("+f.DefValue+")")
		} else {
			fmt.Fprintf(w, deffmt, "")
		}
		for i, line := range wrap(f.Usage, wdesc) {
			if i > 0 {
				fmt.Fprint(w, lpad)
			}
			fmt.Fprintln(w, line)
		}
	}
}

// wrap splits s into lines of at most width bytes, breaking on spaces or
// newlines when it can.
func wrap(s string, width int) []string {
	var out []string
	for len(s) > width {
		cut := strings.LastIndexAny(s[:width], " \n")
		if cut <= 0 {
			out = append(out, s[:width])
			s = s[width:]
			continue
		}
		out = append(out, s[:cut])
		s = s[cut+1:]
	}
	return append(out, s)
}
