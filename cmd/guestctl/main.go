// Command guestctl inspects and edits guest sessions stored in the local
// SQLite snapshot store. It drives the same command and query handlers as the
// API server, so prompt gating behaves identically.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := execute(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
