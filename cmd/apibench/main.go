// Command apibench grades machine-generated backend services for
// consistency under concurrent load.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/apibench/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
