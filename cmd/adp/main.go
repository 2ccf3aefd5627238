// Command adp solves capacity-constrained control problems over absorbing
// Markov chains with the forward ADP recursion, benchmarks the result
// against exhaustive search and serves the solver over gRPC.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
