// sessionctl drives a websession client from the command line: log in, look
// at the restored session, call the API with automatic refresh, log out.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
