// xlayer plans IP-over-optical networks.  It solves single planning runs from topology and
// demand description files, batches of scenarios with outputs stored by scenario hash, and
// time lines of demand snapshots that are re-planned one after the other.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
