package main

import (
	"fmt"
	"os"

	"github.com/rpmoci/rpmoci/internal/userns"
)

func main() {
	// Must run before anything else: if this process was re-exec'd by
	// Bootstrap into a fresh user namespace, it blocks until the parent
	// has finished configuring the uid/gid maps.
	if err := userns.WaitForReady(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	Execute()
}
