// Command entangle runs the entanglement protocol stack from the command line:
// single protocol invocations, parameter sweeps and a simulator gateway.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "entangle:", err)
		os.Exit(1)
	}
}
