// Command plancheck scores planning documents and predicts approval from the
// command line. Output is JSON on stdout.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
