// Command spitfired is the benchmark-driver binary of spec.md §6,
// grounded on joshuapare-hivekit's cmd/hivectl cobra usage
// (_examples/joshuapare-hivekit/cmd/hivectl/root.go). Full TPC-C load
// generation, random data generation, and statistics printing are out of
// scope (spec.md §1); this binary wires the documented flag table to a
// real engine and runs a single synthetic smoke workload so the storage
// engine beneath it is still exercised end-to-end.
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
