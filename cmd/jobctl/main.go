// Command jobctl is the operator tool for the job queue: it applies the
// schema, enqueues jobs by hand and inspects or requeues dead-lettered jobs.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
