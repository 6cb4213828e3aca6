// Command contentq runs the content task queue: the HTTP API, background
// workers, the dead-worker supervisor and operator commands.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
