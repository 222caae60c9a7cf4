// main.go — Entry point for lucent-cli, a thin client over the wire
// protocol dispatcher. Each subcommand opens its own database session,
// performs one operation, and closes it: there is no long-lived client
// process to hold session state between invocations.
package main

import (
	"fmt"
	"os"

	"github.com/lucentgraph/lucent/cmd/lucent-cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
