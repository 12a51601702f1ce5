// Command coresync runs the entity sync pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/coresync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
