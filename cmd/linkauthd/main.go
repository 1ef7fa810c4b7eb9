// Command linkauthd serves passwordless login over HTTP and carries the
// operator commands for the credential store.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
