// Command devicectl loads and queries the device inventory from the shell.
package main

import (
	"os"

	"github.com/shotam27/souchiJohoKanri/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
