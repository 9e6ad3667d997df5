// Command clnode is the swarm-memory daemon and its command line.
//
// Usage:
//
//	clnode serve
//	clnode status
package main

import (
	"os"

	"github.com/p-blackswan/clnode/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}
