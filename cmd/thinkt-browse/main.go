// Command thinkt-browse views AI coding session transcripts from a feed
// server, paging history on demand and following live updates.
package main

import (
	"fmt"
	"os"

	"github.com/wethinkt/thinkt-browse/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
