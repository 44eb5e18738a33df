// Command kasdex runs the Kaspa DAG indexer: a block pipeline, a
// virtual-chain processor, and the health/metrics surface in front of them.
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
