package native

import (
	"fmt"
	"io"
)

// PrintStream represents a java.io.PrintStream. The interpreter formats
// values Java-style before handing them over.
type PrintStream struct {
	Writer io.Writer
	err    error
}

// Print writes s without a line terminator.
func (ps *PrintStream) Print(s string) {
	if ps.err != nil {
		return
	}
	_, ps.err = io.WriteString(ps.Writer, s)
}

// Println writes s followed by a newline.
func (ps *PrintStream) Println(s string) {
	if ps.err != nil {
		return
	}
	_, ps.err = fmt.Fprintln(ps.Writer, s)
}

// CheckError reports whether a write has failed, like PrintStream.checkError.
// PrintStream never throws; the first failure silences later writes.
func (ps *PrintStream) CheckError() bool {
	return ps.err != nil
}
