// Command cblit talks to a remote language model through a managed,
// prioritised conversation window.
package main

import (
	"fmt"
	"os"

	"github.com/d-lowl/cblit/pkg/logx"
)

// Version information - set via ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	err := newRootCmd().Execute()
	logx.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
