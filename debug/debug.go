// Package debug prints verbose traces of script parsing and execution to
// stderr when enabled with --debug.
package debug

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Enabled turns tracing on. Set it once at startup, before any run begins.
var Enabled bool

// Output is where traces go.
var Output io.Writer = os.Stderr

func Log(format string, args ...any) {
	if !Enabled {
		return
	}
	fmt.Fprintf(Output, "[debug] "+format+"\n", args...)
}

// LogTree prints a parsed script tree in a box, labelled with its script ID.
func LogTree(label, id, tree string) {
	if !Enabled {
		return
	}
	sep := strings.Repeat("─", 60)
	fmt.Fprintf(Output, "[debug] ┌%s\n", sep)
	fmt.Fprintf(Output, "[debug] │ %s %s\n", label, id)
	fmt.Fprintf(Output, "[debug] ├%s\n", sep)
	for _, line := range strings.Split(strings.TrimRight(tree, "\n"), "\n") {
		fmt.Fprintf(Output, "[debug] │ %s\n", line)
	}
	fmt.Fprintf(Output, "[debug] └%s\n", sep)
}
