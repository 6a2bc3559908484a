// Command dirsync mirrors a Microsoft Entra directory into a document store.
package main

import (
	"fmt"
	"os"

	"github.com/c0deZ3R0/dirsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
